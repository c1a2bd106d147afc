package engine

import (
	"context"
	"sync"

	"github.com/rzbill/evstore/internal/eventstore"
)

// lockManager hands out one exclusive lock per stream id. Entries are
// reference counted and dropped once nobody holds or waits on them.
type lockManager struct {
	mu    sync.Mutex
	locks map[eventstore.StreamID]*streamLock
}

type streamLock struct {
	token chan struct{}
	refs  int
}

func newLockManager() *lockManager {
	return &lockManager{locks: make(map[eventstore.StreamID]*streamLock)}
}

func (m *lockManager) ref(id eventstore.StreamID) *streamLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &streamLock{token: make(chan struct{}, 1)}
		m.locks[id] = l
	}
	l.refs++
	return l
}

func (m *lockManager) unref(id eventstore.StreamID, l *streamLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
}

// acquire locks ids in order. ids must be sorted so that concurrent callers
// cannot deadlock. An already expired ctx fails before any lock is taken; on
// later expiry every lock taken so far is released.
func (m *lockManager) acquire(ctx context.Context, ids []eventstore.StreamID) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	held := make([]*streamLock, 0, len(ids))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].token
			m.unref(ids[i], held[i])
		}
	}
	for _, id := range ids {
		l := m.ref(id)
		select {
		case l.token <- struct{}{}:
			held = append(held, l)
		case <-ctx.Done():
			m.unref(id, l)
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

// size returns the number of live entries.
func (m *lockManager) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
