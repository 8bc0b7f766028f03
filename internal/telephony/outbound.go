package telephony

import "encoding/json"

type outMedia struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type outMark struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Mark      *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

type outClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// MediaMessage addresses an encoded audio frame to the stream.
func MediaMessage(streamSID, payload string) []byte {
	m := outMedia{Event: "media", StreamSID: streamSID}
	m.Media.Payload = payload
	return mustJSON(m)
}

// MarkMessage queues a playback marker after the audio sent so far.
func MarkMessage(streamSID, name string) []byte {
	m := outMark{Event: "mark", StreamSID: streamSID}
	if name != "" {
		m.Mark = &struct {
			Name string `json:"name"`
		}{Name: name}
	}
	return mustJSON(m)
}

// ClearMessage flushes buffered, not yet played audio on the far end.
func ClearMessage(streamSID string) []byte {
	return mustJSON(outClear{Event: "clear", StreamSID: streamSID})
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
