package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

func TestLockManager_AcquireHeldRelease(t *testing.T) {
	mr, c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	lease, err := lm.Acquire(ctx, "cycle", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, mr.TTL(LockKey("cycle")))

	_, err = lm.Acquire(ctx, "cycle", 10*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	lease.Release()
	lease.Release()
	assert.False(t, mr.Exists(LockKey("cycle")))

	again, err := lm.Acquire(ctx, "cycle", 10*time.Second)
	require.NoError(t, err)
	again.Release()
}

func TestLockManager_ReleaseKeepsOtherOwnersLease(t *testing.T) {
	mr, c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	stale, err := lm.Acquire(ctx, "cycle", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	current, err := lm.Acquire(ctx, "cycle", 10*time.Second)
	require.NoError(t, err)
	owner, err := mr.Get(LockKey("cycle"))
	require.NoError(t, err)

	stale.Release()
	got, err := mr.Get(LockKey("cycle"))
	require.NoError(t, err)
	assert.Equal(t, owner, got)

	assert.ErrorIs(t, stale.Refresh(ctx, 10*time.Second), domain.ErrLockLost)
	current.Release()
}

func TestLockManager_RefreshExtendsOwnLease(t *testing.T) {
	mr, c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	lease, err := lm.Acquire(ctx, "cycle", time.Second)
	require.NoError(t, err)

	mr.FastForward(800 * time.Millisecond)
	require.NoError(t, lease.Refresh(ctx, 5*time.Second))
	assert.Equal(t, 5*time.Second, mr.TTL(LockKey("cycle")))

	mr.FastForward(2 * time.Second)
	assert.True(t, mr.Exists(LockKey("cycle")))
	_, err = lm.Acquire(ctx, "cycle", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	lease.Release()
	assert.ErrorIs(t, lease.Refresh(ctx, time.Second), domain.ErrLockLost)
}

func TestLockManager_BackendDown(t *testing.T) {
	mr, c := newTestClient(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewLockManager(c).Acquire(ctx, "cycle", time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrLockHeld)
}
