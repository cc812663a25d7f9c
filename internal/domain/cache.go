package domain

import (
	"context"
	"time"
)

// Publisher fans a payload out to live subscribers of a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// SignalBus provides pub/sub between processes.
type SignalBus interface {
	Publisher
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Lease is a held lock. Refresh extends it by ttl and returns ErrLockLost
// once another owner has taken the key. Release may be called more than once.
type Lease interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Release()
}

// Locker provides a mutual-exclusion lease shared between processes. Acquire
// returns ErrLockHeld when another owner holds key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
