package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"concierge/callbridge/internal/realtime"
	"concierge/callbridge/internal/reservations"
	"concierge/callbridge/internal/telephony"
)

// Observer is told about call lifecycle and conversation events. Calls are
// made from the call's own goroutine.
type Observer interface {
	CallOpened(callID string)
	StreamStarted(callID, streamSID, callSID string)
	CallEvent(callID, typ string, payload map[string]any)
	CallClosed(callID, reason string)
}

type nopObserver struct{}

func (nopObserver) CallOpened(string)                        {}
func (nopObserver) StreamStarted(string, string, string)     {}
func (nopObserver) CallEvent(string, string, map[string]any) {}
func (nopObserver) CallClosed(string, string)                {}

// Configurator supplies the model session configuration and checks tool
// arguments against the declared schemas.
type Configurator interface {
	Session() realtime.SessionConfig
	Validate(name string, args json.RawMessage) error
}

type Options struct {
	Greeting          string
	Farewell          string
	ReservationPrompt string
	HangupGrace       time.Duration
	LookupTimeout     time.Duration
	WriteTimeout      time.Duration
	QueueSize         int
	// ModelCredential reports whether a voice-model credential is configured.
	// Without one the model channel is never opened.
	ModelCredential bool
}

func (o Options) withDefaults() Options {
	if o.HangupGrace <= 0 {
		o.HangupGrace = 4 * time.Second
	}
	if o.LookupTimeout <= 0 {
		o.LookupTimeout = 3 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	return o
}

type Deps struct {
	Dialer       realtime.Dialer
	Config       Configurator
	Reservations reservations.Lookup
	Observer     Observer
	Log          *slog.Logger
}

const (
	modelIdle = iota
	modelConnecting
	modelOpen
)

// inbox events
type (
	telephonyMsg    struct{ data []byte }
	telephonyClosed struct{ err error }
	modelOpened     struct {
		conn realtime.Conn
		took time.Duration
	}
	modelFailed  struct{ err error }
	modelMsg     struct{ data []byte }
	modelClosed  struct{ err error }
	writeFailed  struct {
		dir string
		err error
	}
	lookupDone struct {
		callID string
		name   string
		res    reservations.Reservation
		err    error
	}
	hangupDue       struct{}
	stopRequest     struct{ reason string }
	snapshotRequest struct{ reply chan SessionSnapshot }
)

// Call bridges one telephony media stream to one model channel. All session
// state is owned by the goroutine running Run; everything else talks to it
// through the inbox.
type Call struct {
	ID string

	deps    Deps
	opts    Options
	baseLog *slog.Logger
	log     *slog.Logger
	session *Session

	inbox  chan any
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	readCtx    context.Context
	cancelRead context.CancelFunc
	readers    sync.WaitGroup
	workers    sync.WaitGroup

	telephony  *outbound
	model      *outbound
	modelState int
	ending     bool
	ended      bool
	endReason  string
	hangup     *time.Timer

	// onStream is invoked from the actor when the stream id becomes known.
	onStream func(c *Call, streamSID string)
}

func NewCall(id string, deps Deps, opts Options) *Call {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	readCtx, cancelRead := context.WithCancel(context.Background())
	l := deps.Log.With("call_id", id)
	return &Call{
		ID:         id,
		deps:       deps,
		opts:       opts.withDefaults(),
		baseLog:    l,
		log:        l,
		session:    newSession(),
		inbox:      make(chan any, 256),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		readCtx:    readCtx,
		cancelRead: cancelRead,
	}
}

// Run owns the telephony connection until the call ends and returns the
// teardown reason. Cancelling ctx ends the call.
func (c *Call) Run(ctx context.Context, conn realtime.Conn) string {
	defer close(c.done)
	gaugeCallsActive.Inc()
	defer gaugeCallsActive.Dec()

	c.deps.Observer.CallOpened(c.ID)
	c.telephony = newOutbound("to_telephony", conn, c.opts.QueueSize, c.opts.WriteTimeout, c.log, func(err error) {
		c.post(writeFailed{dir: "telephony", err: err})
	})
	c.startReader(conn,
		func(b []byte) any { return telephonyMsg{data: b} },
		func(err error) any { return telephonyClosed{err: err} },
	)
	c.log.Info("call connected")

	for !c.ended {
		select {
		case ev := <-c.inbox:
			c.handle(ev)
		case <-ctx.Done():
			c.teardown("shutdown")
		}
	}

	c.cancel()
	c.workers.Wait()
	c.discardInbox()
	c.telephony.wait()
	if c.model != nil {
		c.model.wait()
	}
	c.cancelRead()
	c.readers.Wait()
	return c.endReason
}

// Stop ends the call from outside. It returns once the request is queued or
// the call is already over.
func (c *Call) Stop(reason string) {
	select {
	case c.inbox <- stopRequest{reason: reason}:
	case <-c.done:
	}
}

func (c *Call) Done() <-chan struct{} { return c.done }

// Snapshot copies the session state. After the call has ended it reports the
// final (reset) state.
func (c *Call) Snapshot() SessionSnapshot {
	reply := make(chan SessionSnapshot, 1)
	select {
	case c.inbox <- snapshotRequest{reply: reply}:
	case <-c.done:
		return c.session.snapshot()
	}
	select {
	case s := <-reply:
		return s
	case <-c.done:
		return c.session.snapshot()
	}
}

func (c *Call) post(ev any) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.inbox <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Call) startReader(conn realtime.Conn, msg func([]byte) any, closed func(error) any) {
	c.readers.Add(1)
	go func() {
		defer c.readers.Done()
		for {
			data, err := conn.Read(c.readCtx)
			if err != nil {
				c.post(closed(err))
				return
			}
			if !c.post(msg(data)) {
				return
			}
		}
	}()
}

// discardInbox releases anything still queued once the actor has stopped.
func (c *Call) discardInbox() {
	for {
		select {
		case ev := <-c.inbox:
			switch ev := ev.(type) {
			case modelOpened:
				_ = ev.conn.Close("call ended")
			case snapshotRequest:
				ev.reply <- c.session.snapshot()
			}
		default:
			return
		}
	}
}

func (c *Call) handle(ev any) {
	switch ev := ev.(type) {
	case telephonyMsg:
		c.onTelephony(ev.data)
	case telephonyClosed:
		c.log.Info("telephony closed", "err", ev.err)
		c.teardown("telephony_closed")
	case modelOpened:
		c.onModelOpened(ev)
	case modelFailed:
		c.log.Error("model connect failed", "err", ev.err)
		c.teardown("model_connect_failed")
	case modelMsg:
		c.onModel(ev.data)
	case modelClosed:
		c.log.Info("model closed", "err", ev.err)
		c.teardown("model_closed")
	case writeFailed:
		c.log.Warn("write failed", "dir", ev.dir, "err", ev.err)
		c.teardown(ev.dir + "_write_failed")
	case lookupDone:
		c.onLookupDone(ev)
	case hangupDue:
		c.teardown("hangup")
	case stopRequest:
		c.teardown(ev.reason)
	case snapshotRequest:
		ev.reply <- c.session.snapshot()
	}
}

func (c *Call) onTelephony(data []byte) {
	ev, err := telephony.Parse(data)
	if err != nil {
		metricParseErrors.WithLabelValues("telephony").Inc()
		c.log.Warn("telephony message dropped", "err", err)
		return
	}
	switch e := ev.(type) {
	case telephony.Start:
		c.onStart(e)
	case telephony.Media:
		c.onMedia(e)
	case telephony.Close:
		c.teardown("telephony_stop")
	case telephony.Connected, telephony.Mark:
	case telephony.Unknown:
		c.log.Debug("telephony event ignored", "event", e.Name)
	}
}

func (c *Call) onStart(e telephony.Start) {
	c.session.start(e.StreamSID, e.CallSID)
	c.log = c.baseLog.With("stream_sid", e.StreamSID)
	c.log.Info("stream started", "call_sid", e.CallSID, "encoding", e.Encoding)
	c.deps.Observer.StreamStarted(c.ID, e.StreamSID, e.CallSID)
	if c.onStream != nil {
		c.onStream(c, e.StreamSID)
	}
	c.connectModel()
}

func (c *Call) onMedia(e telephony.Media) {
	c.session.floor.OnMedia(e.Timestamp)
	if c.modelState != modelOpen {
		metricPreModelDrops.Inc()
		return
	}
	if c.model.sendAudio(realtime.AppendAudio(e.Payload)) {
		metricAudioFrames.WithLabelValues("to_model").Inc()
	}
}

// connectModel opens the model channel once per call. Missing preconditions
// make it a silent no-op.
func (c *Call) connectModel() {
	if c.ended || c.modelState != modelIdle {
		return
	}
	if c.telephony == nil || c.session.StreamSID == "" || !c.opts.ModelCredential || c.deps.Dialer == nil {
		c.log.Debug("model connect skipped", "credential", c.opts.ModelCredential)
		return
	}
	c.modelState = modelConnecting
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		start := time.Now()
		conn, err := c.deps.Dialer.Dial(c.ctx)
		if err != nil {
			c.post(modelFailed{err: err})
			return
		}
		if !c.post(modelOpened{conn: conn, took: time.Since(start)}) {
			_ = conn.Close("call ended")
		}
	}()
}

func (c *Call) onModelOpened(ev modelOpened) {
	if c.modelState != modelConnecting {
		_ = ev.conn.Close("unexpected")
		return
	}
	metricModelConnectMS.Observe(float64(ev.took.Milliseconds()))
	c.model = newOutbound("to_model", ev.conn, c.opts.QueueSize, c.opts.WriteTimeout, c.log, func(err error) {
		c.post(writeFailed{dir: "model", err: err})
	})
	c.modelState = modelOpen
	c.startReader(ev.conn,
		func(b []byte) any { return modelMsg{data: b} },
		func(err error) any { return modelClosed{err: err} },
	)
	c.log.Info("model connected", "connect_ms", ev.took.Milliseconds())
	c.deps.Observer.CallEvent(c.ID, "model_connected", map[string]any{"connect_ms": ev.took.Milliseconds()})

	var session realtime.SessionConfig
	if c.deps.Config != nil {
		session = c.deps.Config.Session()
	}
	c.sendModelControl(realtime.SessionUpdate(session))
	if c.opts.Greeting != "" {
		c.sendModelControl(realtime.ResponseCreate(c.opts.Greeting))
	}
}

func (c *Call) onModel(data []byte) {
	ev, err := realtime.Parse(data)
	if err != nil {
		metricParseErrors.WithLabelValues("model").Inc()
		c.log.Warn("model message dropped", "err", err)
		return
	}
	switch e := ev.(type) {
	case realtime.SpeechStarted:
		c.truncate()
	case realtime.AudioDelta:
		c.onAudioDelta(e)
	case realtime.OutputItemDone:
		c.onOutputItemDone(e)
	case realtime.TranscriptionCompleted:
		c.log.Debug("caller said", "text", e.Transcript)
		c.deps.Observer.CallEvent(c.ID, "transcript", map[string]any{"role": "user", "item_id": e.ItemID, "text": e.Transcript})
	case realtime.AssistantTranscriptDone:
		c.log.Debug("assistant said", "text", e.Transcript)
		c.deps.Observer.CallEvent(c.ID, "transcript", map[string]any{"role": "assistant", "item_id": e.ItemID, "text": e.Transcript})
	case realtime.Error:
		metricUpstreamErrors.Inc()
		c.log.Error("model error", "type", e.Type, "code", e.Code, "message", e.Message)
		c.deps.Observer.CallEvent(c.ID, "upstream_error", map[string]any{"type": e.Type, "code": e.Code, "message": e.Message})
	case realtime.Unknown:
		c.log.Debug("model event ignored", "type", e.Type)
	}
}

func (c *Call) onAudioDelta(e realtime.AudioDelta) {
	sid := c.session.StreamSID
	if sid == "" {
		return
	}
	if c.session.floor.OnAudioDelta(e.ItemID) {
		c.log.Debug("assistant turn latched", "item_id", e.ItemID, "start_ts", c.session.floor.LatestMediaTs())
	}
	if !c.telephony.sendAudio(telephony.MediaMessage(sid, e.Delta)) {
		return
	}
	metricAudioFrames.WithLabelValues("to_telephony").Inc()
	c.telephony.sendAudio(telephony.MarkMessage(sid, e.ItemID))
}

// truncate cuts the in-flight assistant item at what the caller has heard
// and flushes unplayed audio on the phone side.
func (c *Call) truncate() {
	d := c.session.floor.OnSpeechStarted()
	if !d.ShouldStop {
		return
	}
	if c.modelState == modelOpen {
		c.sendModelControl(realtime.Truncate(d.StopItemID, 0, d.AudioEndMs))
	}
	if sid := c.session.StreamSID; sid != "" {
		if err := c.telephony.sendControl(telephony.ClearMessage(sid)); err != nil && !errors.Is(err, errOutboundClosed) {
			c.log.Error("clear not queued", "err", err)
		}
	}
	metricTruncations.Inc()
	metricTruncatedMS.Observe(float64(d.AudioEndMs))
	c.log.Debug("barge-in", "item_id", d.StopItemID, "audio_end_ms", d.AudioEndMs)
	c.deps.Observer.CallEvent(c.ID, "truncated", map[string]any{"item_id": d.StopItemID, "audio_end_ms": d.AudioEndMs})
}

func (c *Call) sendModelControl(b []byte) {
	if c.model == nil {
		return
	}
	if err := c.model.sendControl(b); err != nil && !errors.Is(err, errOutboundClosed) {
		c.log.Error("model control not queued", "err", err)
	}
}

// teardown closes both channels and clears the session. Safe to call twice.
func (c *Call) teardown(reason string) {
	if c.ended {
		return
	}
	c.ended = true
	c.endReason = reason
	if c.hangup != nil {
		c.hangup.Stop()
	}
	c.telephony.close(reason)
	if c.model != nil {
		c.model.close(reason)
	}
	c.modelState = modelIdle
	c.session.reset()
	metricCalls.WithLabelValues(reason).Inc()
	c.log.Info("call ended", "reason", reason)
	c.deps.Observer.CallClosed(c.ID, reason)
}
