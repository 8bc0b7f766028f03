package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"concierge/callbridge/internal/types"
)

var ErrCallExists = errors.New("call already exists")

const (
	maxEvents = 200
	// ended calls kept for inspection before the oldest are forgotten
	maxEndedCalls = 500
)

type Store struct {
    mu     sync.RWMutex
    calls  map[string]*types.Call
    events map[string][]types.Event
    ended  []string
}

func New() *Store {
    return &Store{
        calls:  make(map[string]*types.Call),
        events: make(map[string][]types.Event),
    }
}

func (s *Store) CreateCall(c *types.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[c.ID]; ok {
		return ErrCallExists
	}
	s.calls[c.ID] = c
	s.events[c.ID] = []types.Event{}
	return nil
}

// GetCall returns a copy so callers never race the bridge.
func (s *Store) GetCall(id string) (types.Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return types.Call{}, false
	}
	return *c, true
}

// ListCalls returns calls newest first.
func (s *Store) ListCalls() []types.Call {
	s.mu.RLock()
	out := make([]types.Call, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, *c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Store) AppendEvent(callID, typ string, payload map[string]any) types.Event {
    evt := types.Event{Type: typ, Ts: time.Now().UTC(), Payload: payload}
    s.mu.Lock()
    defer s.mu.Unlock()
    s.events[callID] = append(s.events[callID], evt)
    if l := len(s.events[callID]); l > maxEvents {
        // Keep space for a single truncation warning so the total stays at maxEvents
        keep := maxEvents - 1
        dropped := l - keep
        s.events[callID] = append([]types.Event(nil), s.events[callID][l-keep:]...)
        warn := types.Event{Type: "events_truncated", Ts: time.Now().UTC(), Payload: map[string]any{"call_id": callID, "dropped": dropped, "kept": keep}}
        s.events[callID] = append(s.events[callID], warn)
    }
    return evt
}

func (s *Store) ListEvents(callID string) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[callID]
	out := make([]types.Event, len(src))
	copy(out, src)
	return out
}

// The methods below let the store observe bridged calls.

func (s *Store) CallOpened(callID string) {
	_ = s.CreateCall(&types.Call{ID: callID, CreatedAt: time.Now().UTC(), Status: types.CallConnecting})
	s.AppendEvent(callID, "call_opened", nil)
}

func (s *Store) StreamStarted(callID, streamSID, callSID string) {
	s.mu.Lock()
	if c, ok := s.calls[callID]; ok {
		c.StreamSID = streamSID
		c.CallSID = callSID
		c.Status = types.CallActive
	}
	s.mu.Unlock()
	s.AppendEvent(callID, "stream_started", map[string]any{"stream_sid": streamSID, "call_sid": callSID})
}

func (s *Store) CallEvent(callID, typ string, payload map[string]any) {
	s.AppendEvent(callID, typ, payload)
}

func (s *Store) CallClosed(callID, reason string) {
	now := time.Now().UTC()
	s.mu.Lock()
	if c, ok := s.calls[callID]; ok && c.Status != types.CallEnded {
		c.Status = types.CallEnded
		c.EndedAt = &now
		c.EndReason = reason
		s.ended = append(s.ended, callID)
	}
	for len(s.ended) > maxEndedCalls {
		old := s.ended[0]
		s.ended = s.ended[1:]
		delete(s.calls, old)
		delete(s.events, old)
	}
	s.mu.Unlock()
	s.AppendEvent(callID, "call_closed", map[string]any{"reason": reason})
}
