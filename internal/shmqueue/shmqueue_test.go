package shmqueue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue")
	q, err := Open(path, 4, 8)
	require.NoError(t, err)
	defer q.Close(true)

	require.NoError(t, q.Push([]byte("hello")))
	got, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestTryPopOnEmptyQueueDoesNotBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue")
	q, err := Open(path, 2, 4)
	require.NoError(t, err)
	defer q.Close(true)

	_, ok, err := q.TryPop()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPushFrontGivesLIFOPriority(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue")
	q, err := Open(path, 4, 16)
	require.NoError(t, err)
	defer q.Close(true)

	require.NoError(t, q.Push([]byte("first")))
	require.NoError(t, q.PushFront([]byte("jumped-ahead")))

	got, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, "jumped-ahead", string(got))
}

func TestPopBlocksUntilPush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue")
	q, err := Open(path, 1, 8)
	require.NoError(t, err)
	defer q.Close(true)

	done := make(chan []byte, 1)
	go func() {
		v, err := q.Pop()
		require.NoError(t, err)
		done <- v
	}()

	select {
	case <-done:
		t.Fatal("Pop returned before anything was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Push([]byte("token")))
	select {
	case v := <-done:
		assert.Equal(t, "token", string(v))
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not unblock after Push")
	}
}

func TestOpenTwiceSharesTheSameQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue")
	q1, err := Open(path, 4, 8)
	require.NoError(t, err)
	defer q1.Close(true)

	q2, err := Open(path, 4, 8)
	require.NoError(t, err)
	defer q2.Close(false)

	require.NoError(t, q1.Push([]byte("via-q1")))
	got, err := q2.Pop()
	require.NoError(t, err)
	assert.Equal(t, "via-q1", string(got))
}
