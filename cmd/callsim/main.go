package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"nhooyr.io/websocket"
)

// callsim plays the telephony side of a call against a running bridge.
func main() {
	url := flag.String("url", "ws://localhost:8080/media-stream", "media stream websocket URL (include the token path if required)")
	streamSID := flag.String("stream", "MZsim"+time.Now().Format("150405"), "stream sid to announce")
	callSID := flag.String("call", "CAsim", "call sid to announce")
	seconds := flag.Int("seconds", 5, "seconds of silence to stream")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *url, nil)
	if err != nil {
		log.Fatalf("dial bridge: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(1 << 22)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					fmt.Printf("\n[stream] closed: %v\n", err)
				}
				return
			}
			printFrame(data)
		}
	}()

	fmt.Printf("=== Call Simulation ===\n")
	fmt.Printf("Stream: %s\n\n", *streamSID)

	fmt.Println("[1] Sending connected + start...")
	send(ctx, conn, map[string]any{"event": "connected", "protocol": "Call", "version": "1.0.0"})
	send(ctx, conn, map[string]any{
		"event":     "start",
		"streamSid": *streamSID,
		"start": map[string]any{
			"streamSid":   *streamSID,
			"callSid":     *callSID,
			"mediaFormat": map[string]any{"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1},
		},
	})

	// 20ms of mu-law silence per frame.
	payload := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xFF}, 160))
	frames := *seconds * 50
	fmt.Printf("[2] Streaming %d media frames...\n", frames)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for i := 0; i < frames; i++ {
		select {
		case <-tick.C:
		case <-ctx.Done():
			fmt.Println("[*] Timeout reached")
			return
		case <-done:
			fmt.Println("[*] Bridge closed the stream")
			return
		}
		send(ctx, conn, map[string]any{
			"event":     "media",
			"streamSid": *streamSID,
			"media": map[string]any{
				"track":     "inbound",
				"chunk":     fmt.Sprint(i + 1),
				"timestamp": fmt.Sprint(i * 20),
				"payload":   payload,
			},
		})
	}

	fmt.Println("[3] Sending stop...")
	send(ctx, conn, map[string]any{"event": "stop", "streamSid": *streamSID})

	select {
	case <-done:
		fmt.Println("[*] Stream closed")
	case <-ctx.Done():
		fmt.Println("[*] Timeout reached")
	case <-waitForSignal():
		fmt.Println("[*] Interrupted")
	}
}

func send(ctx context.Context, conn *websocket.Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Fatalf("encode: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		log.Fatalf("send: %v", err)
	}
}

func printFrame(data []byte) {
	ts := time.Now().Format("15:04:05.000")
	var m struct {
		Event string `json:"event"`
		Media struct {
			Payload string `json:"payload"`
		} `json:"media"`
		Mark struct {
			Name string `json:"name"`
		} `json:"mark"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		fmt.Printf("[%s] <- (unparseable) %s\n", ts, data)
		return
	}
	switch m.Event {
	case "media":
		fmt.Printf("[%s] <- media: %d bytes\n", ts, base64.StdEncoding.DecodedLen(len(m.Media.Payload)))
	case "mark":
		fmt.Printf("[%s] <- mark: %s\n", ts, m.Mark.Name)
	case "clear":
		fmt.Printf("[%s] <- clear (barge-in)\n", ts)
	default:
		fmt.Printf("[%s] <- %s\n", ts, data)
	}
}

func waitForSignal() <-chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	return c
}
