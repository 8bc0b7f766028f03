package bridge

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"concierge/callbridge/internal/reservations"
)

func media(ts int, payload string) string {
	return `{"event":"media","streamSid":"SS1","media":{"timestamp":"` + itoa(ts) + `","payload":"` + payload + `"}}`
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func expectAppend(t *testing.T, h *harness, payload string) {
	t.Helper()
	m := h.model.next(t)
	if m["type"] != "input_audio_buffer.append" || m["audio"] != payload {
		t.Fatalf("expected append %q, got %v", payload, m)
	}
}

func TestEndToEndRelayAndBargeIn(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	cfg := h.startStream(t, "SS1")
	session := cfg["session"].(map[string]any)
	if session["voice"] != "coral" || session["input_audio_format"] != "g711_ulaw" || session["tool_choice"] != "auto" {
		t.Fatalf("unexpected configuration %v", session)
	}
	if tools := session["tools"].([]any); len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}

	h.tel.push(media(0, "A"))
	expectAppend(t, h, "A")

	h.model.push(`{"type":"response.audio.delta","item_id":"it1","delta":"B"}`)
	m := h.tel.next(t)
	if m["event"] != "media" || m["streamSid"] != "SS1" || m["media"].(map[string]any)["payload"] != "B" {
		t.Fatalf("expected media B, got %v", m)
	}
	if m = h.tel.next(t); m["event"] != "mark" || m["streamSid"] != "SS1" {
		t.Fatalf("expected mark, got %v", m)
	}
	s := h.call.Snapshot()
	if s.LastAssistantItemID != "it1" || s.ResponseStartTs != 0 {
		t.Fatalf("expected latch at 0 for it1, got %+v", s)
	}

	h.tel.push(media(400, "C"))
	expectAppend(t, h, "C")
	h.model.push(`{"type":"input_audio_buffer.speech_started","audio_start_ms":380}`)

	m = h.model.next(t)
	if m["type"] != "conversation.item.truncate" || m["item_id"] != "it1" || m["content_index"] != 0.0 || m["audio_end_ms"] != 400.0 {
		t.Fatalf("unexpected truncate %v", m)
	}
	if m = h.tel.next(t); m["event"] != "clear" || m["streamSid"] != "SS1" {
		t.Fatalf("expected clear, got %v", m)
	}
	s = h.call.Snapshot()
	if s.LastAssistantItemID != "" || s.ResponseStartTs != 0 || s.LatestMediaTs != 400 {
		t.Fatalf("expected turn released, got %+v", s)
	}

	h.tel.push(`{"event":"stop","streamSid":"SS1"}`)
	if r := h.wait(t); r != "telephony_stop" {
		t.Fatalf("unexpected reason %q", r)
	}
	if !h.tel.isClosed() || !h.model.isClosed() {
		t.Fatalf("expected both channels closed")
	}
	if s := h.call.Snapshot(); !s.Empty() {
		t.Fatalf("expected empty session after teardown, got %+v", s)
	}
}

func TestTruncateComputesHeardAudio(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.startStream(t, "SS1")

	h.tel.push(media(1000, "A"))
	expectAppend(t, h, "A")
	h.model.push(`{"type":"response.audio.delta","item_id":"it7","delta":"B"}`)
	h.tel.next(t)
	h.tel.next(t)
	h.tel.push(media(1500, "C"))
	expectAppend(t, h, "C")

	h.model.push(`{"type":"input_audio_buffer.speech_started"}`)
	m := h.model.next(t)
	if m["type"] != "conversation.item.truncate" || m["audio_end_ms"] != 500.0 {
		t.Fatalf("expected audio_end_ms 500, got %v", m)
	}
}

func TestTruncateWithoutAssistantTurnSendsNothing(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.startStream(t, "SS1")

	h.model.push(`{"type":"input_audio_buffer.speech_started"}`)
	h.tel.push(media(20, "A"))
	expectAppend(t, h, "A")
	h.model.quiet(t, 50*time.Millisecond)
	h.tel.quiet(t, 50*time.Millisecond)
}

func TestConfigurationSentOncePerConnection(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.startStream(t, "SS1")
	h.tel.push(`{"event":"start","start":{"streamSid":"SS1"}}`)
	h.tel.push(media(10, "A"))
	expectAppend(t, h, "A")

	if n := h.dialer.dials.Load(); n != 1 {
		t.Fatalf("expected one dial, got %d", n)
	}
	count := 0
	for _, op := range h.model.opsSnapshot() {
		if op == "write:session.update" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one session.update, got %d", count)
	}
}

func TestGreetingFollowsConfiguration(t *testing.T) {
	opts := testOptions()
	opts.Greeting = "spune buna ziua"
	h := newHarness(t, opts, nil)
	h.startStream(t, "SS1")
	m := h.model.next(t)
	if m["type"] != "response.create" || m["response"].(map[string]any)["instructions"] != "spune buna ziua" {
		t.Fatalf("expected greeting, got %v", m)
	}
}

func TestMediaBeforeModelOpenIsDropped(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.dialer.gate = make(chan struct{})
	h.tel.push(`{"event":"start","start":{"streamSid":"SS1"}}`)
	h.tel.push(media(20, "early"))

	deadline := time.Now().Add(waitFor)
	for h.call.Snapshot().LatestMediaTs != 20 {
		if time.Now().After(deadline) {
			t.Fatalf("early media never processed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(h.dialer.gate)
	if m := h.model.next(t); m["type"] != "session.update" {
		t.Fatalf("expected session.update, got %v", m)
	}
	h.tel.push(media(40, "late"))
	expectAppend(t, h, "late")
}

func TestNoCredentialSkipsModel(t *testing.T) {
	opts := testOptions()
	opts.ModelCredential = false
	h := newHarness(t, opts, nil)
	h.tel.push(`{"event":"start","start":{"streamSid":"SS1"}}`)
	h.tel.push(media(20, "A"))

	deadline := time.Now().Add(waitFor)
	for h.call.Snapshot().LatestMediaTs != 20 {
		if time.Now().After(deadline) {
			t.Fatalf("media never processed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := h.dialer.dials.Load(); n != 0 {
		t.Fatalf("expected no dial without credential, got %d", n)
	}
}

func TestMediaTimestampNeverDecreases(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.startStream(t, "SS1")
	h.tel.push(media(100, "A"))
	h.tel.push(media(50, "B"))
	expectAppend(t, h, "A")
	expectAppend(t, h, "B")
	if s := h.call.Snapshot(); s.LatestMediaTs != 100 {
		t.Fatalf("expected 100, got %d", s.LatestMediaTs)
	}
}

func TestModelCloseTearsDownBoth(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.startStream(t, "SS1")
	h.tel.push(media(10, "A"))
	expectAppend(t, h, "A")
	h.model.push(`{"type":"response.audio.delta","item_id":"it1","delta":"B"}`)
	h.tel.next(t)

	_ = h.model.Close("upstream gone")
	if r := h.wait(t); r != "model_closed" {
		t.Fatalf("unexpected reason %q", r)
	}
	if !h.tel.isClosed() {
		t.Fatalf("expected telephony closed")
	}
	if s := h.call.Snapshot(); !s.Empty() {
		t.Fatalf("expected empty session, got %+v", s)
	}
	if h.obs.closed != "model_closed" {
		t.Fatalf("observer not told, got %q", h.obs.closed)
	}
}

func TestModelDialFailureEndsCall(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.dialer.err = errors.New("refused")
	h.tel.push(`{"event":"start","start":{"streamSid":"SS1"}}`)
	if r := h.wait(t); r != "model_connect_failed" {
		t.Fatalf("unexpected reason %q", r)
	}
	if !h.tel.isClosed() {
		t.Fatalf("expected telephony closed")
	}
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.startStream(t, "SS1")
	h.tel.push(`{not json`)
	h.model.push(`{"type":"response.audio.delta"}`)
	h.model.push(`{"type":"rate_limits.updated"}`)
	h.tel.push(`{"event":"dtmf"}`)
	h.tel.push(media(10, "A"))
	expectAppend(t, h, "A")
}

func TestUpstreamErrorIsRecorded(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.startStream(t, "SS1")
	h.model.push(`{"type":"error","error":{"type":"server_error","message":"boom"}}`)
	h.model.push(`{"type":"response.audio.delta","item_id":"it1","delta":"B"}`)
	h.tel.next(t)
	if !h.obs.has("upstream_error") {
		t.Fatalf("expected upstream_error event")
	}
}

func TestTranscriptsReachObserver(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.startStream(t, "SS1")
	h.model.push(`{"type":"conversation.item.input_audio_transcription.completed","item_id":"u1","transcript":"buna ziua"}`)
	h.model.push(`{"type":"response.audio_transcript.done","item_id":"it1","transcript":"buna"}`)
	h.model.push(`{"type":"response.audio.delta","item_id":"it2","delta":"B"}`)
	h.tel.next(t)
	if !h.obs.has("transcript") {
		t.Fatalf("expected transcript events")
	}
}

func functionCall(name, callID, args string) string {
	a, _ := json.Marshal(args)
	return `{"type":"response.output_item.done","item":{"id":"fc1","type":"function_call","name":"` + name + `","call_id":"` + callID + `","arguments":` + string(a) + `}}`
}

func TestEndConversationSendsFarewellBeforeClosing(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.startStream(t, "SS1")
	h.model.push(functionCall("end_conversation", "call_1", `{"should_end":true}`))

	m := h.model.next(t)
	if m["type"] != "response.create" || m["response"].(map[string]any)["instructions"] != "te rog ia ti ramas bun de la client" {
		t.Fatalf("expected farewell, got %v", m)
	}
	if r := h.wait(t); r != "hangup" {
		t.Fatalf("unexpected reason %q", r)
	}
	ops := h.model.opsSnapshot()
	farewell, closed := -1, -1
	for i, op := range ops {
		switch op {
		case "write:response.create":
			farewell = i
		case "close":
			closed = i
		}
	}
	if farewell < 0 || closed < 0 || farewell > closed {
		t.Fatalf("expected farewell before close, got %v", ops)
	}
	if !h.tel.isClosed() {
		t.Fatalf("expected telephony closed")
	}
}

func TestEndConversationWaitsForGrace(t *testing.T) {
	opts := testOptions()
	opts.HangupGrace = time.Second
	h := newHarness(t, opts, nil)
	h.startStream(t, "SS1")
	h.model.push(functionCall("end_conversation", "call_1", `{"should_end":true}`))
	h.model.next(t)

	h.model.push(`{"type":"response.audio.delta","item_id":"bye","delta":"Z"}`)
	if m := h.tel.next(t); m["event"] != "media" {
		t.Fatalf("farewell audio should still flow, got %v", m)
	}
	if h.tel.isClosed() {
		t.Fatalf("closed before grace elapsed")
	}
}

func TestEndConversationDeclinedAcknowledges(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.startStream(t, "SS1")
	h.model.push(functionCall("end_conversation", "call_2", `{"should_end":false}`))

	m := h.model.next(t)
	item := m["item"].(map[string]any)
	if m["type"] != "conversation.item.create" || item["call_id"] != "call_2" || !strings.Contains(item["output"].(string), `"ended":false`) {
		t.Fatalf("expected acknowledgement, got %v", m)
	}
	if m = h.model.next(t); m["type"] != "response.create" {
		t.Fatalf("expected response.create, got %v", m)
	}
	h.tel.push(media(10, "A"))
	expectAppend(t, h, "A")
}

func lookupOutput(t *testing.T, h *harness, callID string) map[string]any {
	t.Helper()
	m := h.model.next(t)
	if m["type"] != "conversation.item.create" {
		t.Fatalf("expected item create, got %v", m)
	}
	item := m["item"].(map[string]any)
	if item["type"] != "function_call_output" || item["call_id"] != callID {
		t.Fatalf("unexpected item %v", item)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(item["output"].(string)), &out); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	return out
}

func TestReservationFoundIsInjected(t *testing.T) {
	store := reservations.NewMemoryStore(reservations.Reservation{
		ID: "r1", GuestName: "Ion Popescu", Guests: 2, Status: "confirmed",
		CheckIn:  time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC),
		CheckOut: time.Date(2026, 11, 5, 0, 0, 0, 0, time.UTC),
	})
	h := newHarness(t, testOptions(), store)
	h.startStream(t, "SS1")
	h.model.push(functionCall("get_reservation", "call_3", `{"name":"ion popescu"}`))

	out := lookupOutput(t, h, "call_3")
	if out["found"] != true || out["name"] != "Ion Popescu" || out["date"] != "2026-11-03" {
		t.Fatalf("unexpected output %v", out)
	}
	m := h.model.next(t)
	if m["type"] != "response.create" || m["response"].(map[string]any)["instructions"] != "te rog spune-i clientului ce rezervare ai gasit" {
		t.Fatalf("expected continuation, got %v", m)
	}
}

func TestReservationNotFound(t *testing.T) {
	h := newHarness(t, testOptions(), reservations.NewMemoryStore())
	h.startStream(t, "SS1")
	h.model.push(functionCall("get_reservation", "call_4", `{"name":"Nimeni"}`))
	out := lookupOutput(t, h, "call_4")
	if out["found"] != false || out["error"] != nil {
		t.Fatalf("unexpected output %v", out)
	}
}

func TestReservationLookupFailure(t *testing.T) {
	h := newHarness(t, testOptions(), failingLookup{})
	h.startStream(t, "SS1")
	h.model.push(functionCall("get_reservation", "call_5", `{"name":"Ana"}`))
	out := lookupOutput(t, h, "call_5")
	if out["found"] != false || out["error"] != "lookup_failed" {
		t.Fatalf("unexpected output %v", out)
	}
}

func TestInvalidToolArgumentsGetErrorOutput(t *testing.T) {
	h := newHarness(t, testOptions(), reservations.NewMemoryStore())
	h.startStream(t, "SS1")
	h.model.push(functionCall("get_reservation", "call_6", `{}`))
	out := lookupOutput(t, h, "call_6")
	if out["error"] != "invalid_arguments" {
		t.Fatalf("unexpected output %v", out)
	}
	if m := h.model.next(t); m["type"] != "response.create" {
		t.Fatalf("expected response.create, got %v", m)
	}

	h.model.push(functionCall("transfer_call", "call_7", `{}`))
	if out := lookupOutput(t, h, "call_7"); out["error"] != "unknown_tool" {
		t.Fatalf("unexpected output %v", out)
	}
}

func TestStopEndsCall(t *testing.T) {
	h := newHarness(t, testOptions(), nil)
	h.startStream(t, "SS1")
	h.call.Stop("replaced")
	if r := h.wait(t); r != "replaced" {
		t.Fatalf("unexpected reason %q", r)
	}
	if !h.model.isClosed() || !h.tel.isClosed() {
		t.Fatalf("expected both channels closed")
	}
}
