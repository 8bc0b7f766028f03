package realtime

import "encoding/json"

// Tool is a function declaration offered to the model.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type Transcription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type TurnDetection struct {
	Type string `json:"type"`
}

// SessionConfig is the body of the one session.update sent per connection.
type SessionConfig struct {
	Instructions            string         `json:"instructions"`
	Modalities              []string       `json:"modalities"`
	Voice                   string         `json:"voice"`
	InputAudioFormat        string         `json:"input_audio_format"`
	OutputAudioFormat       string         `json:"output_audio_format"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
	Tools                   []Tool         `json:"tools,omitempty"`
	ToolChoice              string         `json:"tool_choice,omitempty"`
	Temperature             float64        `json:"temperature,omitempty"`
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type truncate struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int64  `json:"audio_end_ms"`
}

type itemCreate struct {
	Type string `json:"type"`
	Item struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
		Output string `json:"output"`
	} `json:"item"`
}

type responseCreate struct {
	Type     string `json:"type"`
	Response *struct {
		Instructions string `json:"instructions,omitempty"`
	} `json:"response,omitempty"`
}

func SessionUpdate(cfg SessionConfig) []byte {
	return mustJSON(sessionUpdate{Type: "session.update", Session: cfg})
}

func AppendAudio(payload string) []byte {
	return mustJSON(audioAppend{Type: "input_audio_buffer.append", Audio: payload})
}

// Truncate cuts the assistant item at audioEndMs of played audio.
func Truncate(itemID string, contentIndex int, audioEndMs int64) []byte {
	return mustJSON(truncate{
		Type:         "conversation.item.truncate",
		ItemID:       itemID,
		ContentIndex: contentIndex,
		AudioEndMs:   audioEndMs,
	})
}

// FunctionCallOutput answers a tool call; output is usually a JSON document.
func FunctionCallOutput(callID, output string) []byte {
	m := itemCreate{Type: "conversation.item.create"}
	m.Item.Type = "function_call_output"
	m.Item.CallID = callID
	m.Item.Output = output
	return mustJSON(m)
}

// ResponseCreate asks the model to respond, optionally with per-response instructions.
func ResponseCreate(instructions string) []byte {
	m := responseCreate{Type: "response.create"}
	if instructions != "" {
		m.Response = &struct {
			Instructions string `json:"instructions,omitempty"`
		}{Instructions: instructions}
	}
	return mustJSON(m)
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
