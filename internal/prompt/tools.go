package prompt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"concierge/callbridge/internal/realtime"
)

const (
	ToolEndConversation = "end_conversation"
	ToolGetReservation  = "get_reservation"
)

var (
	ErrUnknownTool = errors.New("prompt: unknown tool")
	ErrInvalidArgs = errors.New("prompt: invalid tool arguments")
)

var endConversationSchema = []byte(`{
  "type": "object",
  "properties": {
    "should_end": {"type": "boolean", "description": "daca sa inchida conversatia"}
  },
  "required": ["should_end"]
}`)

var getReservationSchema = []byte(`{
  "type": "object",
  "properties": {
    "name": {"type": "string", "minLength": 1, "description": "numele clientului"}
  },
  "required": ["name"]
}`)

// Tools is the fixed tool set declared to the model.
func Tools() []realtime.Tool {
	return []realtime.Tool{
		{
			Type:        "function",
			Name:        ToolEndConversation,
			Description: "Inchide conversatia cand clientul spune la revedere sau doreste sa opreasca conversatia",
			Parameters:  json.RawMessage(endConversationSchema),
		},
		{
			Type:        "function",
			Name:        ToolGetReservation,
			Description: "Daca clientul are o rezervare va trebui sa o indentifici si sa identifici si clientul, intreaba numele clientului",
			Parameters:  json.RawMessage(getReservationSchema),
		},
	}
}

// Validator checks tool-call arguments against the declared parameter schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	v := &Validator{schemas: map[string]*jsonschema.Schema{}}
	for _, t := range Tools() {
		url := "https://schemas.concierge.local/tools/" + t.Name + ".json"
		c := jsonschema.NewCompiler()
		if err := c.AddResource(url, bytes.NewReader(t.Parameters)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", t.Name, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", t.Name, err)
		}
		v.schemas[t.Name] = s
	}
	return v, nil
}

// Validate reports ErrUnknownTool or ErrInvalidArgs.
func (v *Validator) Validate(name string, args json.RawMessage) error {
	s, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	var payload any
	if err := json.Unmarshal(args, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if err := s.Validate(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}

type EndConversationArgs struct {
	ShouldEnd bool `json:"should_end"`
}

type GetReservationArgs struct {
	Name string `json:"name"`
}
