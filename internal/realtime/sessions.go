package realtime

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "time"
)

// SessionMinter creates ephemeral realtime sessions for browser clients so the
// server credential never leaves the process.
type SessionMinter interface {
    Mint(ctx context.Context, instructions string) (json.RawMessage, error)
}

type HTTPSessionMinter struct {
    http   *http.Client
    apiKey string
    url    string
    model  string
    voice  string
}

func NewSessionMinter(url, apiKey, model, voice string) *HTTPSessionMinter {
    return &HTTPSessionMinter{
        http:   &http.Client{Timeout: 15 * time.Second},
        apiKey: apiKey,
        url:    url,
        model:  model,
        voice:  voice,
    }
}

func (m *HTTPSessionMinter) Mint(ctx context.Context, instructions string) (json.RawMessage, error) {
    if m.apiKey == "" {
        return nil, fmt.Errorf("realtime sessions: api key missing")
    }
    body := map[string]any{
        "model":        m.model,
        "voice":        m.voice,
        "instructions": instructions,
    }
    var out bytes.Buffer
    if err := json.NewEncoder(&out).Encode(body); err != nil {
        return nil, err
    }
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, &out)
    if err != nil { return nil, err }
    req.Header.Set("Authorization", "Bearer "+m.apiKey)
    req.Header.Set("Content-Type", "application/json")
    resp, err := m.http.Do(req)
    if err != nil { return nil, err }
    defer resp.Body.Close()
    b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
    if err != nil { return nil, err }
    if resp.StatusCode/100 != 2 {
        return nil, fmt.Errorf("realtime sessions: %s: %s", resp.Status, string(b))
    }
    if !json.Valid(b) {
        return nil, fmt.Errorf("realtime sessions: response is not json")
    }
    return json.RawMessage(b), nil
}
