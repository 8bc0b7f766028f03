package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrParse marks a model-channel message that could not be decoded.
var ErrParse = errors.New("realtime: parse error")

// Event is one inbound server event. Unknown is the fallback for every type
// the bridge does not act on.
type Event interface{ realtimeEvent() }

// SpeechStarted is emitted by server VAD when the caller starts talking.
type SpeechStarted struct {
	ItemID       string
	AudioStartMs int64
}

type AudioDelta struct {
	ResponseID string
	ItemID     string
	Delta      string // base64 audio in the session's output format
}

type OutputItemDone struct {
	ResponseID string
	Item       Item
}

type TranscriptionCompleted struct {
	ItemID     string
	Transcript string
}

type AssistantTranscriptDone struct {
	ItemID     string
	Transcript string
}

// Error is an error event reported by the service.
type Error struct {
	Type    string
	Code    string
	Message string
}

type Unknown struct {
	Type string
	Raw  []byte
}

func (SpeechStarted) realtimeEvent()           {}
func (AudioDelta) realtimeEvent()              {}
func (OutputItemDone) realtimeEvent()          {}
func (TranscriptionCompleted) realtimeEvent()  {}
func (AssistantTranscriptDone) realtimeEvent() {}
func (Error) realtimeEvent()                   {}
func (Unknown) realtimeEvent()                 {}

// Item is a conversation item as reported in response.output_item.done.
type Item struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status,omitempty"`
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	Name      string
	CallID    string
	Arguments json.RawMessage
}

// FunctionCall extracts the tool invocation carried by the item, if any.
// Arguments arrive as a JSON-encoded string; an empty string becomes {}.
func (e OutputItemDone) FunctionCall() (FunctionCall, bool, error) {
	if e.Item.Type != "function_call" {
		return FunctionCall{}, false, nil
	}
	args := strings.TrimSpace(e.Item.Arguments)
	if args == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		return FunctionCall{}, true, fmt.Errorf("%w: arguments for %s are not json", ErrParse, e.Item.Name)
	}
	return FunctionCall{Name: e.Item.Name, CallID: e.Item.CallID, Arguments: json.RawMessage(args)}, true, nil
}

type serverEvent struct {
	Type         string `json:"type"`
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	Delta        string `json:"delta"`
	Transcript   string `json:"transcript"`
	AudioStartMs int64  `json:"audio_start_ms"`
	Item         *Item  `json:"item"`
	Error        *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Parse decodes one server event.
func Parse(data []byte) (Event, error) {
	var m serverEvent
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	switch m.Type {
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrParse)
	case "input_audio_buffer.speech_started":
		return SpeechStarted{ItemID: m.ItemID, AudioStartMs: m.AudioStartMs}, nil
	case "response.audio.delta", "response.output_audio.delta":
		if m.ItemID == "" {
			return nil, fmt.Errorf("%w: audio delta without item_id", ErrParse)
		}
		return AudioDelta{ResponseID: m.ResponseID, ItemID: m.ItemID, Delta: m.Delta}, nil
	case "response.output_item.done":
		if m.Item == nil {
			return nil, fmt.Errorf("%w: output_item.done without item", ErrParse)
		}
		return OutputItemDone{ResponseID: m.ResponseID, Item: *m.Item}, nil
	case "conversation.item.input_audio_transcription.completed":
		return TranscriptionCompleted{ItemID: m.ItemID, Transcript: m.Transcript}, nil
	case "response.audio_transcript.done", "response.output_audio_transcript.done":
		return AssistantTranscriptDone{ItemID: m.ItemID, Transcript: m.Transcript}, nil
	case "error":
		e := Error{}
		if m.Error != nil {
			e.Type, e.Code, e.Message = m.Error.Type, m.Error.Code, m.Error.Message
		}
		return e, nil
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return Unknown{Type: m.Type, Raw: raw}, nil
	}
}
