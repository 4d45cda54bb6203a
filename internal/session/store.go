package session

import (
	"context"
	"strings"
	"sync"
)

// Store owns the client identifier to conversation state mapping.
//
// With runs fn with exclusive access to the state for clientID, creating a
// default state on first reference. Calls for the same client are
// serialized; calls for different clients never block each other.
type Store interface {
	With(ctx context.Context, clientID string, fn func(*State) error) error
	Reset(ctx context.Context, clientID string) error
}

// ResolveClientID maps an absent identifier to the shared anonymous one
func ResolveClientID(clientID string) string {
	id := strings.TrimSpace(clientID)
	if id == "" {
		return AnonymousClientID
	}
	return id
}

// keyedMutex hands out one mutex per key. The map lock is only held while
// looking up or releasing, never while a key is in use. Entries are removed
// once nobody holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// lock acquires the mutex for key, giving up when ctx is done
func (k *keyedMutex) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	release := func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}

	if l.mu.TryLock() {
		return release, nil
	}

	acquired := make(chan struct{})
	go func() {
		l.mu.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
		return release, nil
	case <-ctx.Done():
		// Hand the lock straight back once the pending acquisition completes.
		go func() {
			<-acquired
			release()
		}()
		return nil, ctx.Err()
	}
}

// inUse reports whether key is currently held or awaited
func (k *keyedMutex) inUse(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.locks[key]
	return ok
}
