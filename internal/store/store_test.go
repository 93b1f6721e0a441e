package store_test

import (
	"bytes"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/lvgrader/grader/internal/model"
	"github.com/lvgrader/grader/internal/store"
	"github.com/stretchr/testify/require"
)

func TestPutOpenRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "store_test_*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	s, err := store.New(dir, nil)
	require.NoError(t, err)

	digest, err := s.Put(bytes.NewReader([]byte("hello world")))
	require.NoError(t, err)
	require.True(t, s.Has(digest))

	r, err := s.Open(digest)
	require.NoError(t, err)
	defer r.Close()

	body := make([]byte, 11)
	_, err = r.Read(body)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(body))
}

func TestPutIsIdempotent(t *testing.T) {
	dir, err := os.MkdirTemp("", "store_test_*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	s, err := store.New(dir, nil)
	require.NoError(t, err)

	d1, err := s.Put(bytes.NewReader([]byte("same content")))
	require.NoError(t, err)
	d2, err := s.Put(bytes.NewReader([]byte("same content")))
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestOpenMissingWithoutFetcherFails(t *testing.T) {
	dir, err := os.MkdirTemp("", "store_test_*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	s, err := store.New(dir, nil)
	require.NoError(t, err)

	_, err = s.Open(model.Digest("0000000000000000000000000000000000000000000000000000000000000000"))
	require.Error(t, err)
}

func TestAwaitFetchPropagatesFetchErrorInsteadOfHanging(t *testing.T) {
	dir, err := os.MkdirTemp("", "store_test_*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	fetchErr := fmt.Errorf("remote source unavailable")
	s, err := store.New(dir, func(digest model.Digest, dst string) error {
		return fetchErr
	})
	require.NoError(t, err)

	digest := model.Digest("1111111111111111111111111111111111111111111111111111111111111111")
	done := make(chan error, 1)
	go func() { done <- s.AwaitFetch(digest) }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("AwaitFetch did not return after the fetch failed")
	}
}

func TestPlaceIntoSetsExecutableBit(t *testing.T) {
	dir, err := os.MkdirTemp("", "store_test_*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	work, err := os.MkdirTemp("", "store_test_work_*")
	require.NoError(t, err)
	defer os.RemoveAll(work)

	s, err := store.New(dir, nil)
	require.NoError(t, err)

	digest, err := s.Put(bytes.NewReader([]byte("#!/bin/sh\necho hi\n")))
	require.NoError(t, err)

	dst := work + "/run.sh"
	require.NoError(t, s.PlaceInto(digest, dst, true))

	fi, err := os.Stat(dst)
	require.NoError(t, err)
	require.NotZero(t, fi.Mode()&0o111)
}
