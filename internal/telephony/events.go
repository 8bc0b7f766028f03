package telephony

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrParse marks a telephony message that could not be decoded.
var ErrParse = errors.New("telephony: parse error")

// Event is one inbound media-stream message. The concrete types below are the
// only implementations; callers switch on them and fall back to Unknown.
type Event interface{ telephonyEvent() }

type Connected struct{}

type Start struct {
	StreamSID        string
	CallSID          string
	Encoding         string
	SampleRate       int
	CustomParameters map[string]string
}

type Media struct {
	StreamSID string
	Timestamp int64 // ms since stream start
	Payload   string
}

// Mark echoes a mark we sent once the far end has played everything before it.
type Mark struct {
	StreamSID string
	Name      string
}

// Close covers both "close" and the provider's "stop".
type Close struct {
	StreamSID string
}

type Unknown struct {
	Name string
	Raw  []byte
}

func (Connected) telephonyEvent() {}
func (Start) telephonyEvent()     {}
func (Media) telephonyEvent()     {}
func (Mark) telephonyEvent()      {}
func (Close) telephonyEvent()     {}
func (Unknown) telephonyEvent()   {}

type inbound struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Start     *struct {
		StreamSID        string            `json:"streamSid"`
		CallSID          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
		MediaFormat      struct {
			Encoding   string `json:"encoding"`
			SampleRate int    `json:"sampleRate"`
		} `json:"mediaFormat"`
	} `json:"start"`
	Media *struct {
		Timestamp Millis `json:"timestamp"`
		Payload   string `json:"payload"`
	} `json:"media"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// Parse decodes one inbound message.
func Parse(data []byte) (Event, error) {
	var m inbound
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	switch m.Event {
	case "connected":
		return Connected{}, nil
	case "start":
		if m.Start == nil {
			return nil, fmt.Errorf("%w: start without payload", ErrParse)
		}
		sid := m.Start.StreamSID
		if sid == "" {
			sid = m.StreamSID
		}
		if sid == "" {
			return nil, fmt.Errorf("%w: start without streamSid", ErrParse)
		}
		return Start{
			StreamSID:        sid,
			CallSID:          m.Start.CallSID,
			Encoding:         m.Start.MediaFormat.Encoding,
			SampleRate:       m.Start.MediaFormat.SampleRate,
			CustomParameters: m.Start.CustomParameters,
		}, nil
	case "media":
		if m.Media == nil {
			return nil, fmt.Errorf("%w: media without payload", ErrParse)
		}
		return Media{StreamSID: m.StreamSID, Timestamp: int64(m.Media.Timestamp), Payload: m.Media.Payload}, nil
	case "mark":
		name := ""
		if m.Mark != nil {
			name = m.Mark.Name
		}
		return Mark{StreamSID: m.StreamSID, Name: name}, nil
	case "close", "stop":
		return Close{StreamSID: m.StreamSID}, nil
	case "":
		return nil, fmt.Errorf("%w: missing event", ErrParse)
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return Unknown{Name: m.Event, Raw: raw}, nil
	}
}

// Millis accepts a millisecond count encoded as a JSON number or a numeric string.
type Millis int64

func (ms *Millis) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*ms = 0
		return nil
	}
	if uq, err := strconv.Unquote(s); err == nil {
		s = uq
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*ms = Millis(n)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", s, err)
	}
	*ms = Millis(f)
	return nil
}
