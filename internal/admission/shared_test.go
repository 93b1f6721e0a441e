package admission

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedGuardTryAcquireExhaustsPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admission")
	g, err := NewShared(path, 2)
	require.NoError(t, err)

	r1, err := g.TryAcquire()
	require.NoError(t, err)
	_, err = g.TryAcquire()
	require.NoError(t, err)

	_, err = g.TryAcquire()
	assert.Equal(t, ErrTooManyExecutions, err)

	r1()
	_, err = g.TryAcquire()
	assert.NoError(t, err)
}

func TestSharedGuardAcquireExclusiveWaitsForEveryToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admission")
	g, err := NewShared(path, 2)
	require.NoError(t, err)

	release, err := g.TryAcquire()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = g.AcquireExclusive(ctx)
	assert.Error(t, err, "one slot still held, exclusive acquire must not succeed")

	release()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	releaseExclusive, err := g.AcquireExclusive(ctx2)
	require.NoError(t, err)
	releaseExclusive()
}

func TestSharedGuardSatisfiesAdmitter(t *testing.T) {
	var _ Admitter = (*SharedGuard)(nil)
	var _ Admitter = (*Guard)(nil)
}
