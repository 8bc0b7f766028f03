package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"concierge/callbridge/internal/config"
	"concierge/callbridge/internal/realtime"
)

// Property identifies the venue the assistant answers for.
type Property struct {
	Name        string
	Location    string
	Description string
}

const preamble = "Esti un asistent care raspunde la intrebari legate de proprietatea urmatoare"

// Instructions builds the system prompt for a property.
func Instructions(p Property) string {
	parts := []string{preamble}
	if p.Name != "" {
		parts = append(parts, p.Name)
	}
	if p.Location != "" {
		parts = append(parts, "se afla in "+p.Location)
	}
	if p.Description != "" {
		parts = append(parts, p.Description)
	}
	return strings.Join(parts, " ")
}

// Provider hands out the immutable per-call configuration: instructions,
// the fixed tool set and the session parameters sent on model connect.
type Provider struct {
	instructions string
	tools        []realtime.Tool
	validator    *Validator
	session      realtime.SessionConfig
}

func NewProvider(cfg config.Config) (*Provider, error) {
	instr := strings.TrimSpace(cfg.Property.SystemPrompt)
	if instr == "" {
		instr = Instructions(Property{
			Name:        cfg.Property.Name,
			Location:    cfg.Property.Location,
			Description: cfg.Property.Description,
		})
	}
	v, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("tool schemas: %w", err)
	}
	p := &Provider{instructions: instr, tools: Tools(), validator: v}
	p.session = realtime.SessionConfig{
		Instructions:      instr,
		Modalities:        []string{"text", "audio"},
		Voice:             cfg.OpenAI.Voice,
		InputAudioFormat:  cfg.OpenAI.AudioFormat,
		OutputAudioFormat: cfg.OpenAI.AudioFormat,
		InputAudioTranscription: &realtime.Transcription{
			Model:    cfg.OpenAI.TranscriptionModel,
			Language: cfg.OpenAI.Language,
		},
		TurnDetection: &realtime.TurnDetection{Type: cfg.OpenAI.VAD},
		Tools:         p.tools,
		ToolChoice:    "auto",
		Temperature:   cfg.OpenAI.Temperature,
	}
	return p, nil
}

func (p *Provider) Instructions() string { return p.instructions }

func (p *Provider) Tools() []realtime.Tool { return p.tools }

// Session returns the configuration message body for a new model connection.
func (p *Provider) Session() realtime.SessionConfig { return p.session }

// Validate checks tool-call arguments; see Validator.Validate.
func (p *Provider) Validate(name string, args json.RawMessage) error {
	return p.validator.Validate(name, args)
}
