package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultRetryMS is the reconnect delay advertised on the first event.
	DefaultRetryMS = 3000
	// DefaultHeartbeat is how often an idle stream is probed for a gone client.
	DefaultHeartbeat = 2 * time.Second
)

// Stream frames server-sent events onto a fiber body stream writer. Every
// event carries a sequential id so a client can tell which part of a turn it
// missed. Writes are serialized, so a heartbeat may run beside the producer.
type Stream struct {
	mu      sync.Mutex
	w       *bufio.Writer
	seq     int
	retryMS int
}

// NewStream wraps w. retryMS <= 0 disables the retry hint.
func NewStream(w *bufio.Writer, retryMS int) *Stream {
	return &Stream{w: w, retryMS: retryMS}
}

// Send writes one named event. Strings and byte slices are sent as-is, any
// other payload is JSON-encoded. The frame is flushed immediately; an error
// means the client is gone.
func (s *Stream) Send(event string, data any) error {
	payload, err := encode(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	var frame bytes.Buffer
	frame.WriteString("id: " + strconv.Itoa(s.seq) + "\n")
	if s.seq == 1 && s.retryMS > 0 {
		frame.WriteString("retry: " + strconv.Itoa(s.retryMS) + "\n")
	}
	if event != "" {
		frame.WriteString("event: " + event + "\n")
	}
	for _, line := range strings.Split(payload, "\n") {
		frame.WriteString("data: " + line + "\n")
	}
	frame.WriteByte('\n')

	return s.flush(frame.Bytes())
}

// Error sends an "error" event shaped like the JSON error bodies.
func (s *Stream) Error(message string, details any) error {
	body := map[string]any{"type": "error", "error": message}
	if details != nil {
		body["details"] = details
	}
	return s.Send("error", body)
}

// KeepAlive writes a comment line. Proxies see traffic before the first
// model token arrives.
func (s *Stream) KeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush([]byte(": ping\n\n"))
}

// Heartbeat writes a keepalive every interval until ctx is done. The first
// failed write calls gone and stops.
func (s *Stream) Heartbeat(ctx context.Context, interval time.Duration, gone func(error)) {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.KeepAlive(); err != nil {
				gone(err)
				return
			}
		}
	}
}

// Sent reports how many events have been written.
func (s *Stream) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Stream) flush(frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	return s.w.Flush()
}

func encode(data any) (string, error) {
	switch v := data.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
