// Package lease serializes mutations on shared entities.
//
// A lease is acquired with a generated token and released by presenting the
// same token back. Combat resolution holds a lease per participating entity so
// that two concurrent fights cannot interleave read-modify-write cycles on the
// same player or monster.
package lease

import (
	"context"
	"errors"
	"sync"

	"github.com/emberhollow/gloomvale/internal/platform/id"
)

// ErrTokenMismatch indicates a release with a token that does not hold the lease.
var ErrTokenMismatch = errors.New("lease token mismatch")

// ErrNotHeld indicates a release for a key with no active lease.
var ErrNotHeld = errors.New("lease not held")

// Keeper hands out per-key lease tokens.
type Keeper struct {
	mu      sync.Mutex
	held    map[string]string
	waiters map[string][]chan struct{}
}

// NewKeeper returns an empty lease keeper.
func NewKeeper() *Keeper {
	return &Keeper{
		held:    make(map[string]string),
		waiters: make(map[string][]chan struct{}),
	}
}

// Acquire blocks until the key's lease is free, then claims it and returns
// the holder token. It returns the context error if ctx ends first.
func (k *Keeper) Acquire(ctx context.Context, key string) (string, error) {
	for {
		k.mu.Lock()
		if _, taken := k.held[key]; !taken {
			token, err := id.NewID()
			if err != nil {
				k.mu.Unlock()
				return "", err
			}
			k.held[key] = token
			k.mu.Unlock()
			return token, nil
		}
		wait := make(chan struct{})
		k.waiters[key] = append(k.waiters[key], wait)
		k.mu.Unlock()

		select {
		case <-ctx.Done():
			k.discardWaiter(key, wait)
			return "", ctx.Err()
		case <-wait:
		}
	}
}

// Release frees the key's lease if token matches the current holder.
func (k *Keeper) Release(key, token string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	current, taken := k.held[key]
	if !taken {
		return ErrNotHeld
	}
	if current != token {
		return ErrTokenMismatch
	}
	delete(k.held, key)
	k.wakeOneLocked(key)
	return nil
}

func (k *Keeper) wakeOneLocked(key string) {
	queue := k.waiters[key]
	if len(queue) == 0 {
		delete(k.waiters, key)
		return
	}
	close(queue[0])
	if len(queue) == 1 {
		delete(k.waiters, key)
		return
	}
	k.waiters[key] = queue[1:]
}

func (k *Keeper) discardWaiter(key string, wait chan struct{}) {
	k.mu.Lock()
	defer k.mu.Unlock()

	queue := k.waiters[key]
	for i, candidate := range queue {
		if candidate == wait {
			k.waiters[key] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(k.waiters[key]) == 0 {
		delete(k.waiters, key)
	}
	// The lease may have been handed to this waiter between wake-up and
	// cancellation; if so the close already happened and the next Acquire
	// call will find the lease free once the holder releases.
	select {
	case <-wait:
		k.wakeOneLocked(key)
	default:
	}
}
