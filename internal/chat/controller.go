// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/mayankbarode/OpenChat/internal/attachment"
	"github.com/mayankbarode/OpenChat/internal/backend"
	"github.com/mayankbarode/OpenChat/internal/model"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Backend is the subset of the backend client the controller needs.
// *backend.Client satisfies it.
type Backend interface {
	StreamChat(ctx context.Context, req backend.ChatRequest) (*backend.Stream, error)
	GetConversation(ctx context.Context, id string) (*backend.Conversation, error)
}

// AuthHandler is told when the backend rejects the session token.
type AuthHandler interface {
	Logout()
}

// AuthHandlerFunc adapts a function to AuthHandler.
type AuthHandlerFunc func()

// Logout calls f.
func (f AuthHandlerFunc) Logout() { f() }

// SendConfig carries the provider settings for one send. It is passed
// explicitly on every operation that opens a stream.
type SendConfig struct {
	Provider   model.Provider
	Model      string
	APIKey     string
	BaseURL    string
	Parameters map[string]any
}

// validate checks the configuration before anything is changed.
func (cfg SendConfig) validate() error {
	if !cfg.Provider.Valid() {
		return &ValidationError{Reason: fmt.Sprintf("unknown provider %q", cfg.Provider)}
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return &ValidationError{Reason: "no model selected"}
	}
	if cfg.Provider.RequiresAPIKey() && strings.TrimSpace(cfg.APIKey) == "" {
		return &CredentialMissingError{Provider: cfg.Provider}
	}
	return nil
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller owns the active chat session. It sends turns, applies streamed
// replies and implements retry, edit, delete and cancel.
//
// All methods are safe for concurrent use. At most one request (a stream or
// a history load) is in flight at a time; operations that would start a
// second one fail with ErrBusy. Blocking operations run on the caller's
// goroutine.
type Controller struct {
	backend Backend
	auth    AuthHandler
	logger  *slog.Logger
	limiter *rate.Limiter

	mu         sync.Mutex
	session    *model.Session
	state      State
	generation uint64
	cancel     context.CancelFunc
	streaming  *model.Message
	version    uint64
	malformed  int

	subMu         sync.Mutex
	nextSub       uint64
	subscribers   map[uint64]func(Snapshot)
	convObservers map[uint64]func(string)
}

// Option configures a Controller.
type Option func(*Controller)

// WithAuthHandler sets the collaborator told about expired sessions.
func WithAuthHandler(h AuthHandler) Option {
	return func(c *Controller) { c.auth = h }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNotifyRate limits how often delta notifications reach subscribers.
// Notifications that end an operation are always delivered.
func WithNotifyRate(limit rate.Limit, burst int) Option {
	return func(c *Controller) { c.limiter = rate.NewLimiter(limit, burst) }
}

// New creates a controller with an empty session.
func New(b Backend, opts ...Option) *Controller {
	c := &Controller{
		backend:       b,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		session:       model.NewSession(),
		subscribers:   make(map[uint64]func(Snapshot)),
		convObservers: make(map[uint64]func(string)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// SENDING
// =============================================================================

// SendTurn appends a user message and streams the assistant reply into the
// session. It blocks until the stream ends.
//
// The turn needs non-empty text or an attachment. An image-only turn is sent
// with a default prompt. Pre-flight failures (validation, missing
// credentials, ErrBusy) change nothing. Failures after the user message is
// committed are appended to the session as an error message and returned.
func (c *Controller) SendTurn(ctx context.Context, text string, att *attachment.PendingAttachment, cfg SendConfig) error {
	if strings.TrimSpace(text) == "" && att == nil {
		return &ValidationError{Reason: "message is empty"}
	}
	var imageURL string
	if att != nil {
		if err := att.Validate(); err != nil {
			return err
		}
		imageURL = att.DataURL
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	if err := cfg.validate(); err != nil {
		c.mu.Unlock()
		return err
	}

	c.session.Append(model.NewUserMessage(turnContent(text, imageURL), imageURL))
	return c.startLocked(ctx, cfg)
}

// RetryFrom discards the message with the given id and everything after it,
// then sends again. A user target is re-sent with its own content, image and
// id; for an assistant target the nearest preceding user message is re-sent
// as a new turn.
func (c *Controller) RetryFrom(ctx context.Context, messageID string, cfg SendConfig) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	i := c.session.IndexOf(messageID)
	if i < 0 {
		c.mu.Unlock()
		return &NotFoundError{MessageID: messageID}
	}

	target := c.session.At(i)
	source := target
	if target.Role != model.RoleUser {
		source = c.session.PrecedingUser(i)
	}
	if source == nil {
		c.mu.Unlock()
		return &ValidationError{Reason: "no user message to retry"}
	}
	if err := cfg.validate(); err != nil {
		c.mu.Unlock()
		return err
	}

	msg := model.NewUserMessage(source.Content, source.ImageURL)
	if source == target {
		msg.ID = target.ID
	}
	c.session.Truncate(i)
	c.session.Append(msg)
	return c.startLocked(ctx, cfg)
}

// EditMessage changes a message. The trailing message and assistant messages
// are edited in place without a request. Editing an earlier user message
// discards it and everything after it and regenerates from the new content,
// keeping the message id.
func (c *Controller) EditMessage(ctx context.Context, messageID, newContent string, cfg SendConfig) error {
	c.mu.Lock()
	i := c.session.IndexOf(messageID)
	if i < 0 {
		c.mu.Unlock()
		return &NotFoundError{MessageID: messageID}
	}
	target := c.session.At(i)

	if i == c.session.Len()-1 || target.Role == model.RoleAssistant {
		if target == c.streaming {
			c.mu.Unlock()
			return ErrBusy
		}
		target.SetContent(newContent)
		c.version++
		c.mu.Unlock()
		c.publish(true)
		return nil
	}

	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	if strings.TrimSpace(newContent) == "" && !target.HasImage() {
		c.mu.Unlock()
		return &ValidationError{Reason: "message is empty"}
	}
	if err := cfg.validate(); err != nil {
		c.mu.Unlock()
		return err
	}

	msg := model.NewUserMessage(turnContent(newContent, target.ImageURL), target.ImageURL)
	msg.ID = target.ID
	c.session.Truncate(i)
	c.session.Append(msg)
	return c.startLocked(ctx, cfg)
}

// DeleteMessage removes the message with the given id and everything after it.
func (c *Controller) DeleteMessage(messageID string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	if !c.session.TruncateBefore(messageID) {
		c.mu.Unlock()
		return &NotFoundError{MessageID: messageID}
	}
	c.version++
	c.mu.Unlock()

	c.publish(true)
	return nil
}

// CancelActiveStream aborts the request in flight, if any. A partial reply
// keeps whatever had arrived. It reports whether anything was cancelled.
func (c *Controller) CancelActiveStream() bool {
	c.mu.Lock()
	canceled := c.cancelLocked()
	c.mu.Unlock()

	if canceled {
		c.logger.Debug("active request canceled")
		c.publish(true)
	}
	return canceled
}

// turnContent is the text sent for a user turn.
func turnContent(text, imageURL string) string {
	if strings.TrimSpace(text) == "" && imageURL != "" {
		return model.ImageOnlyPrompt
	}
	return text
}

// =============================================================================
// STREAM LIFECYCLE
// =============================================================================

// startLocked moves to StateSending, releases the lock and runs the stream.
// The caller holds c.mu; it is released before any network activity.
func (c *Controller) startLocked(ctx context.Context, cfg SendConfig) error {
	opCtx, gen := c.beginLocked(ctx, StateSending)
	req := c.requestLocked(cfg)
	c.version++
	c.mu.Unlock()

	c.publish(true)
	return c.stream(opCtx, gen, req)
}

// beginLocked starts a new operation and returns its context and generation.
func (c *Controller) beginLocked(ctx context.Context, state State) (context.Context, uint64) {
	opCtx, cancel := context.WithCancel(ctx)
	c.generation++
	c.cancel = cancel
	c.state = state
	return opCtx, c.generation
}

// cancelLocked aborts the current operation. Later results from it are
// discarded because the generation moves on.
func (c *Controller) cancelLocked() bool {
	if c.state == StateIdle {
		return false
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.streaming != nil {
		c.streaming.FinalizeStream()
		c.streaming = nil
	}
	c.generation++
	c.state = StateIdle
	c.version++
	return true
}

// endLocked returns to idle at the end of the current operation.
func (c *Controller) endLocked() {
	if c.streaming != nil {
		c.streaming.FinalizeStream()
		c.streaming = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = StateIdle
	c.version++
}

// requestLocked builds the chat request from the current session.
func (c *Controller) requestLocked(cfg SendConfig) backend.ChatRequest {
	history := c.session.History()
	messages := make([]backend.ChatMessage, 0, len(history))
	for _, msg := range history {
		messages = append(messages, backend.ChatMessage{
			Role:     msg.Role.String(),
			Content:  msg.GetDisplayContent(),
			ImageURL: msg.ImageURL,
		})
	}
	return backend.ChatRequest{
		Provider:       cfg.Provider.String(),
		Model:          cfg.Model,
		Messages:       messages,
		Stream:         true,
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		ConversationID: c.session.ConversationID,
		Parameters:     cfg.Parameters,
	}
}

// stream opens the request and applies its events until it ends.
func (c *Controller) stream(ctx context.Context, gen uint64, req backend.ChatRequest) error {
	c.logger.Debug("sending turn",
		"provider", req.Provider,
		"model", req.Model,
		"messages", len(req.Messages),
		"conversation", req.ConversationID)

	s, err := c.backend.StreamChat(ctx, req)
	if err != nil {
		return c.fail(ctx, gen, err)
	}
	defer s.Close()

	// The reply id is fixed before the first delta so it is stable for the
	// whole stream.
	replyID := model.NewID()

	for {
		ev, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return c.finish(gen)
			}
			return c.fail(ctx, gen, err)
		}

		switch ev.Type {
		case backend.EventDone:
			return c.finish(gen)
		case backend.EventError:
			return c.fail(ctx, gen, &backend.ProviderError{Message: ev.Text})
		}

		assigned, err := c.apply(gen, replyID, ev)
		if err != nil {
			return err
		}
		if assigned != "" {
			c.notifyConversation(assigned)
		}
	}
}

// apply records one event in the session. It returns the conversation id
// when the event assigned one, and ErrCanceled when the operation is stale.
func (c *Controller) apply(gen uint64, replyID string, ev backend.Event) (string, error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return "", ErrCanceled
	}
	if c.state == StateSending {
		c.state = StateStreaming
	}

	var assigned string
	final := false
	switch ev.Type {
	case backend.EventConversation:
		if c.session.AssignConversation(ev.Text) {
			assigned = ev.Text
			final = true
		} else {
			c.logger.Debug("ignoring repeated conversation id",
				"current", c.session.ConversationID, "received", ev.Text)
		}
	case backend.EventDelta:
		if c.streaming == nil {
			c.streaming = model.NewStreamingMessage(replyID)
			c.session.Append(c.streaming)
		}
		c.streaming.AppendToken(ev.Text)
	case backend.EventMalformed:
		c.malformed++
		c.logger.Warn("skipping malformed stream record", "error", ev.Err)
	}
	c.version++
	c.mu.Unlock()

	c.publish(final)
	return assigned, nil
}

// finish completes a stream that ended normally.
func (c *Controller) finish(gen uint64) error {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return ErrCanceled
	}
	c.endLocked()
	c.mu.Unlock()

	c.publish(true)
	return nil
}

// fail ends a stream with an error. Cancellation keeps the partial reply
// and adds nothing; every other failure is appended as an error message.
func (c *Controller) fail(ctx context.Context, gen uint64, cause error) error {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return ErrCanceled
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		c.endLocked()
		c.mu.Unlock()
		c.publish(true)
		return ErrCanceled
	}

	var err error
	authExpired := errors.Is(cause, backend.ErrAuthExpired)
	if authExpired {
		err = &AuthExpiredError{Err: cause}
	} else {
		err = &TransportError{Err: cause}
	}

	c.endLocked()
	c.session.Append(model.NewErrorMessage(describe(cause)))
	c.mu.Unlock()

	c.logger.Warn("turn failed", "error", cause)
	c.publish(true)
	if authExpired && c.auth != nil {
		c.auth.Logout()
	}
	return err
}

// =============================================================================
// HISTORY
// =============================================================================

// LoadHistory replaces the session with the stored messages of a
// conversation. An empty id starts a new chat without a request. Any
// request in flight is cancelled first.
//
// On failure the session is kept when the id is unchanged. When the id
// changed the session is cleared under the new id so stale history is never
// shown under the wrong conversation.
func (c *Controller) LoadHistory(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	c.cancelLocked()
	previous := c.session.ConversationID

	if conversationID == "" {
		c.session.Reset("", nil)
		c.malformed = 0
		c.version++
		c.mu.Unlock()

		c.publish(true)
		if previous != "" {
			c.notifyConversation("")
		}
		return nil
	}

	opCtx, gen := c.beginLocked(ctx, StateLoading)
	c.version++
	c.mu.Unlock()
	c.publish(true)

	conv, err := c.backend.GetConversation(opCtx, conversationID)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return &HistoryFetchError{ConversationID: conversationID, Err: ErrCanceled}
	}
	c.endLocked()

	changed := previous != conversationID
	if err != nil {
		if changed {
			c.session.Reset(conversationID, nil)
			c.malformed = 0
		}
		c.mu.Unlock()

		c.logger.Warn("history load failed", "conversation", conversationID, "error", err)
		c.publish(true)
		if changed {
			c.notifyConversation(conversationID)
		}
		if errors.Is(err, backend.ErrAuthExpired) && c.auth != nil {
			c.auth.Logout()
		}
		return &HistoryFetchError{ConversationID: conversationID, Err: err}
	}

	messages := make([]*model.Message, 0, len(conv.Messages))
	for i, m := range conv.Messages {
		msg := model.NewMessage(model.Role(m.Role), m.Content)
		msg.ID = fmt.Sprintf("hist-%d", i)
		msg.ImageURL = m.ImageURL
		if !m.Timestamp.IsZero() {
			msg.Timestamp = m.Timestamp.Time
		}
		messages = append(messages, msg)
	}
	c.session.Reset(conversationID, messages)
	c.malformed = 0
	c.mu.Unlock()

	c.logger.Debug("history loaded", "conversation", conversationID, "messages", len(messages))
	c.publish(true)
	if changed {
		c.notifyConversation(conversationID)
	}
	return nil
}
