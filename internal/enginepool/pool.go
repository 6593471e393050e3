// Package enginepool provides a bounded pool of belaygo devices for hosts
// that cycle through many short-lived sessions (e.g. a test rig flashing
// many boards in turn). Adapted from the teacher's iiod.ClientPool, a
// bounded channel-backed pool of IIOD clients, generalized to the device
// type this module dials instead of an IIOD connection.
package enginepool

import (
	"context"
	"fmt"
	"sync"
)

// Device is the narrow capability this pool needs from a pooled session:
// enough to release it on shutdown.
type Device interface {
	Dispose(ctx context.Context) error
}

// Pool is a bounded pool of Device sessions, reused across callers.
type Pool[D Device] struct {
	factory func(ctx context.Context) (D, error)
	pool    chan D
	mu      sync.Mutex
}

// New creates a pool with the given capacity and factory.
func New[D Device](size int, factory func(ctx context.Context) (D, error)) (*Pool[D], error) {
	if size <= 0 {
		return nil, fmt.Errorf("enginepool: size must be positive")
	}
	if factory == nil {
		return nil, fmt.Errorf("enginepool: factory is required")
	}
	return &Pool[D]{factory: factory, pool: make(chan D, size)}, nil
}

// Get acquires a device from the pool, dialing a new one if the pool is
// currently empty.
func (p *Pool[D]) Get(ctx context.Context) (D, error) {
	var zero D
	if p == nil {
		return zero, fmt.Errorf("enginepool: pool is nil")
	}

	select {
	case d := <-p.pool:
		return d, nil
	default:
	}

	return p.factory(ctx)
}

// Put returns a device to the pool, or disposes of it if the pool is full.
func (p *Pool[D]) Put(ctx context.Context, d D) error {
	if p == nil {
		return fmt.Errorf("enginepool: pool is nil")
	}

	select {
	case p.pool <- d:
		return nil
	default:
		return d.Dispose(ctx)
	}
}

// Close disposes of every currently idle device in the pool.
func (p *Pool[D]) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for {
		select {
		case d := <-p.pool:
			if err := d.Dispose(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			return firstErr
		}
	}
}
