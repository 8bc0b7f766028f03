package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"concierge/callbridge/internal/callcap"
	"concierge/callbridge/internal/realtime"
)

// Registry tracks live calls by call id and, once known, by stream id.
// At most one call is bound to a stream id; a newer one replaces the older.
type Registry struct {
	mu      sync.Mutex
	calls   map[string]*Call
	streams map[string]*Call
	boundTo map[string]string // call id -> stream id

	deps    Deps
	opts    Options
	limiter callcap.Limiter
	log     *slog.Logger
	wg      sync.WaitGroup
}

func NewRegistry(deps Deps, opts Options, limiter callcap.Limiter) *Registry {
	if limiter == nil {
		limiter = callcap.Unlimited{}
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Registry{
		calls:   make(map[string]*Call),
		streams: make(map[string]*Call),
		boundTo: make(map[string]string),
		deps:    deps,
		opts:    opts,
		limiter: limiter,
		log:     deps.Log,
	}
}

// Serve bridges the telephony connection until the call ends. The
// connection is closed on return.
func (r *Registry) Serve(ctx context.Context, conn realtime.Conn) error {
	if err := r.limiter.Acquire(ctx); err != nil {
		metricRejected.Inc()
		if errors.Is(err, callcap.ErrAtCapacity) {
			r.log.Warn("call rejected", "reason", "at capacity")
		} else {
			r.log.Error("call admission failed", "err", err)
		}
		_ = conn.Close("at capacity")
		return err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.limiter.Release(rctx); err != nil {
			r.log.Error("call slot release failed", "err", err)
		}
	}()

	c := NewCall(uuid.NewString(), r.deps, r.opts)
	c.onStream = r.bindStream
	r.wg.Add(1)
	defer r.wg.Done()
	r.mu.Lock()
	r.calls[c.ID] = c
	r.mu.Unlock()
	defer r.remove(c)

	reason := c.Run(ctx, conn)
	r.log.Debug("call finished", "call_id", c.ID, "reason", reason)
	return nil
}

func (r *Registry) bindStream(c *Call, streamSID string) {
	r.mu.Lock()
	if old, ok := r.boundTo[c.ID]; ok && r.streams[old] == c {
		delete(r.streams, old)
	}
	prev := r.streams[streamSID]
	r.streams[streamSID] = c
	r.boundTo[c.ID] = streamSID
	r.mu.Unlock()

	if prev != nil && prev != c {
		r.log.Info("stream taken over", "stream_sid", streamSID, "old_call_id", prev.ID, "call_id", c.ID)
		go prev.Stop("replaced")
	}
}

func (r *Registry) remove(c *Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, c.ID)
	if sid, ok := r.boundTo[c.ID]; ok {
		if r.streams[sid] == c {
			delete(r.streams, sid)
		}
		delete(r.boundTo, c.ID)
	}
}

func (r *Registry) Get(callID string) *Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[callID]
}

func (r *Registry) ByStream(streamSID string) *Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[streamSID]
}

func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Shutdown ends every live call and waits for them to finish or ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	calls := make([]*Call, 0, len(r.calls))
	for _, c := range r.calls {
		calls = append(calls, c)
	}
	r.mu.Unlock()
	for _, c := range calls {
		c.Stop("shutdown")
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
