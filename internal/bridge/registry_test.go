package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"concierge/callbridge/internal/callcap"
	"concierge/callbridge/internal/logger"
	"concierge/callbridge/internal/realtime"
)

// dialerFunc hands out a fresh model conn per dial.
type dialerFunc func(ctx context.Context) (realtime.Conn, error)

func (f dialerFunc) Dial(ctx context.Context) (realtime.Conn, error) { return f(ctx) }

func newTestRegistry(t *testing.T, limiter callcap.Limiter) *Registry {
	t.Helper()
	deps := Deps{
		Dialer: dialerFunc(func(context.Context) (realtime.Conn, error) { return newFakeConn("model"), nil }),
		Config: testProvider(t),
		Log:    logger.Discard(),
	}
	r := NewRegistry(deps, testOptions(), limiter)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func serve(r *Registry, conn realtime.Conn) chan error {
	out := make(chan error, 1)
	go func() { out <- r.Serve(context.Background(), conn) }()
	return out
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistryRunsCallsConcurrently(t *testing.T) {
	r := newTestRegistry(t, nil)
	a, b := newFakeConn("a"), newFakeConn("b")
	serve(r, a)
	serve(r, b)
	a.push(`{"event":"start","start":{"streamSid":"SA"}}`)
	b.push(`{"event":"start","start":{"streamSid":"SB"}}`)
	waitUntil(t, func() bool { return r.ByStream("SA") != nil && r.ByStream("SB") != nil })
	if r.Active() != 2 {
		t.Fatalf("expected 2 active calls, got %d", r.Active())
	}
	if r.ByStream("SA") == r.ByStream("SB") {
		t.Fatalf("streams must map to distinct calls")
	}
}

func TestRegistrySameStreamReplacesOlderCall(t *testing.T) {
	r := newTestRegistry(t, nil)
	first, second := newFakeConn("first"), newFakeConn("second")
	firstDone := serve(r, first)
	first.push(`{"event":"start","start":{"streamSid":"SS1"}}`)
	waitUntil(t, func() bool { return r.ByStream("SS1") != nil })
	old := r.ByStream("SS1")

	serve(r, second)
	second.push(`{"event":"start","start":{"streamSid":"SS1"}}`)

	select {
	case <-firstDone:
	case <-time.After(waitFor):
		t.Fatalf("older call was not replaced")
	}
	if !first.isClosed() {
		t.Fatalf("expected older telephony closed")
	}
	waitUntil(t, func() bool { c := r.ByStream("SS1"); return c != nil && c != old })
	if r.Get(old.ID) != nil {
		t.Fatalf("older call still registered")
	}
}

func TestRegistryAdmissionCap(t *testing.T) {
	r := newTestRegistry(t, callcap.NewLocal(1))
	a := newFakeConn("a")
	serve(r, a)
	waitUntil(t, func() bool { return r.Active() == 1 })

	b := newFakeConn("b")
	err := <-serve(r, b)
	if !errors.Is(err, callcap.ErrAtCapacity) {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}
	if !b.isClosed() {
		t.Fatalf("rejected connection should be closed")
	}
}

func TestRegistryRemovesEndedCalls(t *testing.T) {
	r := newTestRegistry(t, nil)
	a := newFakeConn("a")
	done := serve(r, a)
	a.push(`{"event":"start","start":{"streamSid":"SS9"}}`)
	waitUntil(t, func() bool { return r.ByStream("SS9") != nil })
	a.push(`{"event":"stop","streamSid":"SS9"}`)
	if err := <-done; err != nil {
		t.Fatalf("serve: %v", err)
	}
	if r.Active() != 0 || r.ByStream("SS9") != nil {
		t.Fatalf("expected registry empty, active=%d", r.Active())
	}
}

func TestRegistryShutdownStopsCalls(t *testing.T) {
	r := newTestRegistry(t, nil)
	a := newFakeConn("a")
	done := serve(r, a)
	waitUntil(t, func() bool { return r.Active() == 1 })
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	<-done
	if !a.isClosed() {
		t.Fatalf("expected connection closed on shutdown")
	}
}
