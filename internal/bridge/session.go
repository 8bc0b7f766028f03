package bridge

import "concierge/callbridge/internal/floor"

// Session is the per-call state. It is owned by the call's actor goroutine
// and never touched from anywhere else.
type Session struct {
	StreamSID string
	CallSID   string
	floor     *floor.Manager
}

func newSession() *Session { return &Session{floor: floor.New()} }

// start binds the session to a stream and clears all turn bookkeeping.
func (s *Session) start(streamSID, callSID string) {
	s.StreamSID = streamSID
	s.CallSID = callSID
	s.floor.Reset()
}

func (s *Session) reset() {
	s.StreamSID = ""
	s.CallSID = ""
	s.floor.Reset()
}

// SessionSnapshot is a copy of Session for inspection outside the actor.
type SessionSnapshot struct {
	StreamSID           string
	LastAssistantItemID string
	// ResponseStartTs is meaningful only when LastAssistantItemID is set.
	ResponseStartTs int64
	LatestMediaTs   int64
}

func (s *Session) snapshot() SessionSnapshot {
	id, start, _ := s.floor.Active()
	return SessionSnapshot{
		StreamSID:           s.StreamSID,
		LastAssistantItemID: id,
		ResponseStartTs:     start,
		LatestMediaTs:       s.floor.LatestMediaTs(),
	}
}

// Empty reports whether every field is unset.
func (s SessionSnapshot) Empty() bool {
	return s == SessionSnapshot{}
}
