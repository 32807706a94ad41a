package services

import (
	"sync"

	"connectsphere/internal/core/domain"
)

// keyedMutex hands out one mutex per user and forgets it once nobody
// holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[domain.UserID]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[domain.UserID]*refMutex)}
}

func (k *keyedMutex) Lock(key domain.UserID) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// LockPair locks both keys in lexicographic order.
func (k *keyedMutex) LockPair(a, b domain.UserID) func() {
	if b < a {
		a, b = b, a
	}
	unlockA := k.Lock(a)
	if a == b {
		return unlockA
	}
	unlockB := k.Lock(b)
	return func() {
		unlockB()
		unlockA()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
