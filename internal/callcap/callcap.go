package callcap

import (
	"context"
	"errors"
	"sync"
)

var ErrAtCapacity = errors.New("callcap: at capacity")

// Limiter admits calls up to a concurrency cap.
type Limiter interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// Unlimited admits everything.
type Unlimited struct{}

func (Unlimited) Acquire(context.Context) error { return nil }
func (Unlimited) Release(context.Context) error { return nil }

// Local caps calls within this process.
type Local struct {
	mu     sync.Mutex
	limit  int
	active int
}

func NewLocal(limit int) *Local { return &Local{limit: limit} }

func (l *Local) Acquire(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit > 0 && l.active >= l.limit {
		return ErrAtCapacity
	}
	l.active++
	return nil
}

func (l *Local) Release(context.Context) error {
	l.mu.Lock()
	if l.active > 0 {
		l.active--
	}
	l.mu.Unlock()
	return nil
}

func (l *Local) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}
