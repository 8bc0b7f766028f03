package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"net/http"
	"sort"
	"strings"
)

// Minimal TwiML for handing an answered call to a bidirectional media stream.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL    string           `xml:"url,attr"`
	Params []twimlParameter `xml:"Parameter,omitempty"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// StreamParams configures RenderConnectStream.
type StreamParams struct {
	URL        string
	Say        string
	Language   string
	Parameters map[string]string
}

// RenderConnectStream answers a voice webhook by connecting the call to URL.
func RenderConnectStream(p StreamParams) (string, error) {
	u := strings.TrimSpace(p.URL)
	if u == "" {
		return "", errors.New("telephony: stream url required")
	}
	if !strings.HasPrefix(u, "wss://") && !strings.HasPrefix(u, "ws://") {
		return "", errors.New("telephony: stream url must be a websocket url")
	}

	var r twimlResponse
	if p.Say != "" {
		r.Verbs = append(r.Verbs, twimlSay{Language: p.Language, Text: p.Say})
	}
	c := twimlConnect{Stream: twimlStream{URL: u}}
	for _, k := range sortedKeys(p.Parameters) {
		c.Stream.Params = append(c.Stream.Params, twimlParameter{Name: k, Value: p.Parameters[k]})
	}
	r.Verbs = append(r.Verbs, c)

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// VoiceWebhook is the subset of the inbound voice webhook form we log and record.
type VoiceWebhook struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	CallStatus string
}

func ParseVoiceWebhook(r *http.Request) (VoiceWebhook, error) {
	if err := r.ParseForm(); err != nil {
		return VoiceWebhook{}, err
	}
	return VoiceWebhook{
		CallSid:    r.PostFormValue("CallSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       strings.TrimSpace(r.PostFormValue("From")),
		To:         strings.TrimSpace(r.PostFormValue("To")),
		CallStatus: r.PostFormValue("CallStatus"),
	}, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
