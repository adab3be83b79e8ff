// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// STREAMING: Robust SSE parsing with error handling

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

const (
	// MaxLineSize is the maximum allowed size of a single SSE line (1MB).
	// A longer line aborts the stream with bufio.ErrTooLong.
	MaxLineSize = 1024 * 1024

	// initialLineBuffer is the starting capacity of the line buffer (64KB).
	initialLineBuffer = 64 * 1024

	dataPrefix  = "data: "
	doneMarker  = "[DONE]"
	eventStream = "text/event-stream"
)

// =============================================================================
// STREAMING TYPES
// =============================================================================

// ChatMessage is a single message in an outgoing chat request.
type ChatMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
}

// ChatRequest is the body of POST /chat/stream.
type ChatRequest struct {
	Provider       string         `json:"provider"`
	Model          string         `json:"model"`
	Messages       []ChatMessage  `json:"messages"`
	Stream         bool           `json:"stream"`
	APIKey         string         `json:"apiKey,omitempty"`
	BaseURL        string         `json:"baseUrl,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

// EventType tags the kind of a decoded stream event.
type EventType int

const (
	// EventDelta carries a fragment of assistant text.
	EventDelta EventType = iota
	// EventConversation carries the backend-assigned conversation id.
	EventConversation
	// EventDone marks the explicit end of the stream.
	EventDone
	// EventMalformed carries a data line whose payload could not be parsed.
	EventMalformed
	// EventError carries a provider failure reported inside the stream.
	EventError
)

// String returns the name of the event type.
func (t EventType) String() string {
	switch t {
	case EventDelta:
		return "delta"
	case EventConversation:
		return "conversation"
	case EventDone:
		return "done"
	case EventMalformed:
		return "malformed"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is a single decoded stream event.
type Event struct {
	Type EventType

	// Text is the delta for EventDelta, the conversation id for
	// EventConversation, the raw line for EventMalformed and the provider
	// message for EventError.
	Text string

	// Err describes why an EventMalformed line was rejected.
	Err *DecodeError
}

// record is the JSON payload of a data line.
type record struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
	Error          string `json:"error"`
}

// DecodeError reports a data line that could not be parsed. It is not fatal
// to the stream.
type DecodeError struct {
	Line string
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed stream record %q: %v", truncate(e.Line, 80), e.Err)
}

// Unwrap returns the underlying parse error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ProviderError is a failure the backend reported inside an open stream,
// typically raised by the upstream LLM provider.
type ProviderError struct {
	Message string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return e.Message
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns a byte stream of server-sent events into Events.
//
// Lines are split on '\n' with a trailing '\r' removed. Only lines starting
// with "data: " are interpreted; everything else is ignored. A partial line
// is held until its terminator arrives, so the decoded events depend only on
// the bytes, not on how reads happened to split them. An unterminated final
// line is discarded.
//
// A Decoder is not safe for concurrent use and cannot be restarted.
type Decoder struct {
	scanner   *bufio.Scanner
	pending   []Event
	done      bool
	malformed int
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), MaxLineSize)
	scanner.Split(scanTerminatedLines)
	return &Decoder{scanner: scanner}
}

// scanTerminatedLines is a bufio.SplitFunc that yields only newline-terminated
// lines and drops an unterminated tail at EOF.
func scanTerminatedLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimSuffix(data[:i], []byte{'\r'}), nil
	}
	if atEOF && len(data) > 0 {
		return len(data), nil, nil
	}
	return 0, nil, nil
}

// Next returns the next event. It returns io.EOF after EventDone or when the
// input ends, and a non-nil error if the underlying reader fails or a line
// exceeds MaxLineSize.
func (d *Decoder) Next() (Event, error) {
	for {
		if len(d.pending) > 0 {
			ev := d.pending[0]
			d.pending = d.pending[1:]
			if ev.Type == EventDone {
				d.done = true
				d.pending = nil
			}
			return ev, nil
		}
		if d.done {
			return Event{}, io.EOF
		}

		if !d.scanner.Scan() {
			d.done = true
			if err := d.scanner.Err(); err != nil {
				return Event{}, err
			}
			return Event{}, io.EOF
		}
		d.pending = d.decodeLine(d.scanner.Bytes())
	}
}

// Malformed returns the number of data lines that failed to parse.
func (d *Decoder) Malformed() int {
	return d.malformed
}

// decodeLine converts one complete line into zero or more events.
func (d *Decoder) decodeLine(line []byte) []Event {
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		// Comments, event:, id:, retry: and blank separators.
		return nil
	}
	payload := line[len(dataPrefix):]

	if string(payload) == doneMarker {
		return []Event{{Type: EventDone}}
	}

	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		d.malformed++
		raw := string(line)
		return []Event{{
			Type: EventMalformed,
			Text: raw,
			Err:  &DecodeError{Line: raw, Err: err},
		}}
	}

	var events []Event
	if rec.ConversationID != "" {
		events = append(events, Event{Type: EventConversation, Text: rec.ConversationID})
	}
	if rec.Content != "" {
		events = append(events, Event{Type: EventDelta, Text: rec.Content})
	}
	if rec.Error != "" {
		events = append(events, Event{Type: EventError, Text: rec.Error})
	}
	return events
}

// truncate shortens s for error messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// =============================================================================
// STREAM
// =============================================================================

// Stream is an open chat response. The caller must Close it.
type Stream struct {
	body    io.ReadCloser
	decoder *Decoder
}

// NewStream wraps a response body in a decoding stream.
func NewStream(body io.ReadCloser) *Stream {
	return &Stream{body: body, decoder: NewDecoder(body)}
}

// Next returns the next event; see Decoder.Next.
func (s *Stream) Next() (Event, error) {
	return s.decoder.Next()
}

// Malformed returns the number of records that failed to parse so far.
func (s *Stream) Malformed() int {
	return s.decoder.Malformed()
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamChat opens POST /chat/stream and returns the event stream.
//
// Non-2xx responses are returned as *APIError; a 401 matches ErrAuthExpired.
// The stream is bound to ctx: cancelling ctx aborts the read in progress.
// Streams are never retried.
func (c *Client) StreamChat(ctx context.Context, chatReq ChatRequest) (*Stream, error) {
	chatReq.Stream = true

	req, err := c.newJSONRequest(ctx, http.MethodPost, "/chat/stream", nil, chatReq)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", eventStream)
	req.Header.Set("Cache-Control", "no-cache")

	c.logRequest(req)
	c.logger.Debug("opening chat stream",
		"provider", chatReq.Provider,
		"model", chatReq.Model,
		"messages", len(chatReq.Messages),
		"conversation", chatReq.ConversationID,
		"api_key", Fingerprint(chatReq.APIKey))

	start := time.Now()
	// PERFORMANCE: Use shared streaming client with connection pooling (timeout handled via context)
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logResponse(req, resp, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := readResponse(resp, MaxResponseSize)
		return nil, c.handleError(req, resp.StatusCode, body)
	}

	return NewStream(resp.Body), nil
}
