package ai

import (
	"context"
	"sync"
)

// userGate serializes work per user without blocking unrelated users.
//
// Locks are created on demand and dropped once nobody holds or waits on them.
type userGate struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	ch   chan struct{}
	refs int
}

func newUserGate() *userGate {
	return &userGate{locks: make(map[int64]*userLock)}
}

// acquire blocks until the user's lock is held or ctx is done.
func (g *userGate) acquire(ctx context.Context, userID int64) (func(), error) {
	g.mu.Lock()
	l := g.locks[userID]
	if l == nil {
		l = &userLock{ch: make(chan struct{}, 1)}
		g.locks[userID] = l
	}
	l.refs++
	g.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		g.unref(userID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			g.unref(userID, l)
		})
	}, nil
}

func (g *userGate) unref(userID int64, l *userLock) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l.refs--
	if l.refs <= 0 && g.locks[userID] == l {
		delete(g.locks, userID)
	}
}

func (g *userGate) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}
