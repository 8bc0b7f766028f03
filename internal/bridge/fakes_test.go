package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"concierge/callbridge/internal/config"
	"concierge/callbridge/internal/logger"
	"concierge/callbridge/internal/prompt"
	"concierge/callbridge/internal/realtime"
	"concierge/callbridge/internal/reservations"
)

var errFakeClosed = errors.New("fake conn closed")

const waitFor = 2 * time.Second

// fakeConn is an in-memory realtime.Conn. Tests push inbound messages and
// read back outbound writes in order.
type fakeConn struct {
	name    string
	in      chan []byte
	written chan []byte
	closed  chan struct{}
	once    sync.Once

	mu  sync.Mutex
	ops []string // "write:<type>" or "close"

	// gate, when set, blocks every Write until it is closed, ignoring ctx.
	gate chan struct{}
}

func newFakeConn(name string) *fakeConn {
	return &fakeConn{
		name:    name,
		in:      make(chan []byte, 64),
		written: make(chan []byte, 512),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-f.in:
		return b, nil
	case <-f.closed:
		return nil, errFakeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(ctx context.Context, b []byte) error {
	if f.gate != nil {
		<-f.gate
	}
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}
	f.mu.Lock()
	f.ops = append(f.ops, "write:"+msgType(b))
	f.mu.Unlock()
	f.written <- b
	return nil
}

func (f *fakeConn) Close(reason string) error {
	f.once.Do(func() {
		f.mu.Lock()
		f.ops = append(f.ops, "close")
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeConn) push(s string) { f.in <- []byte(s) }

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) opsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

// next returns the next outbound message decoded as a JSON object.
func (f *fakeConn) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case b := <-f.written:
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("%s: bad json %s: %v", f.name, b, err)
		}
		return m
	case <-time.After(waitFor):
		t.Fatalf("%s: timed out waiting for a write", f.name)
	}
	return nil
}

// quiet asserts nothing is written for d.
func (f *fakeConn) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case b := <-f.written:
		t.Fatalf("%s: unexpected write %s", f.name, b)
	case <-time.After(d):
	}
}

func msgType(b []byte) string {
	var m struct {
		Type  string `json:"type"`
		Event string `json:"event"`
	}
	_ = json.Unmarshal(b, &m)
	if m.Type != "" {
		return m.Type
	}
	return m.Event
}

type fakeDialer struct {
	conn  *fakeConn
	err   error
	gate  chan struct{}
	dials atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context) (realtime.Conn, error) {
	d.dials.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

type recObserver struct {
	mu     sync.Mutex
	events []string
	closed string
}

func (o *recObserver) CallOpened(string)                    {}
func (o *recObserver) StreamStarted(string, string, string) {}
func (o *recObserver) CallEvent(_ string, typ string, _ map[string]any) {
	o.mu.Lock()
	o.events = append(o.events, typ)
	o.mu.Unlock()
}
func (o *recObserver) CallClosed(_ string, reason string) {
	o.mu.Lock()
	o.closed = reason
	o.mu.Unlock()
}

func (o *recObserver) has(typ string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range o.events {
		if e == typ {
			return true
		}
	}
	return false
}

type failingLookup struct{}

func (failingLookup) Lookup(context.Context, string) (reservations.Reservation, error) {
	return reservations.Reservation{}, errors.New("db down")
}

func testProvider(t *testing.T) *prompt.Provider {
	t.Helper()
	var cfg config.Config
	cfg.Property.SystemPrompt = "test prompt"
	cfg.OpenAI.Voice = "coral"
	cfg.OpenAI.AudioFormat = "g711_ulaw"
	cfg.OpenAI.VAD = "server_vad"
	cfg.OpenAI.TranscriptionModel = "gpt-4o-transcribe"
	cfg.OpenAI.Language = "ro"
	cfg.OpenAI.Temperature = 0.65
	p, err := prompt.NewProvider(cfg)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	return p
}

type harness struct {
	call   *Call
	tel    *fakeConn
	model  *fakeConn
	dialer *fakeDialer
	obs    *recObserver
	result chan string
}

func testOptions() Options {
	return Options{
		Farewell:          "te rog ia ti ramas bun de la client",
		ReservationPrompt: "te rog spune-i clientului ce rezervare ai gasit",
		HangupGrace:       50 * time.Millisecond,
		LookupTimeout:     time.Second,
		WriteTimeout:      time.Second,
		QueueSize:         64,
		ModelCredential:   true,
	}
}

func newHarness(t *testing.T, opts Options, lookup reservations.Lookup) *harness {
	t.Helper()
	h := &harness{
		tel:    newFakeConn("telephony"),
		model:  newFakeConn("model"),
		obs:    &recObserver{},
		result: make(chan string, 1),
	}
	h.dialer = &fakeDialer{conn: h.model}
	h.call = NewCall("call-1", Deps{
		Dialer:       h.dialer,
		Config:       testProvider(t),
		Reservations: lookup,
		Observer:     h.obs,
		Log:          logger.Discard(),
	}, opts)
	go func() { h.result <- h.call.Run(context.Background(), h.tel) }()
	t.Cleanup(func() {
		h.call.Stop("test_cleanup")
		<-h.call.Done()
	})
	return h
}

// startStream sends start and consumes the configuration message.
func (h *harness) startStream(t *testing.T, sid string) map[string]any {
	t.Helper()
	h.tel.push(`{"event":"start","start":{"streamSid":"` + sid + `"}}`)
	m := h.model.next(t)
	if m["type"] != "session.update" {
		t.Fatalf("expected session.update first, got %v", m)
	}
	return m
}

func (h *harness) wait(t *testing.T) string {
	t.Helper()
	select {
	case r := <-h.result:
		return r
	case <-time.After(waitFor):
		t.Fatalf("call did not end")
	}
	return ""
}
