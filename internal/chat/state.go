// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/mayankbarode/OpenChat/internal/model"
)

// =============================================================================
// STATE
// =============================================================================

// State is the controller's request state.
type State int

const (
	// StateIdle means no request is in flight.
	StateIdle State = iota
	// StateLoading means a conversation history fetch is in flight.
	StateLoading
	// StateSending means a turn was sent and no event has arrived yet.
	StateSending
	// StateStreaming means the reply stream is being consumed.
	StateStreaming
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable copy of the session at one point in time.
type Snapshot struct {
	ConversationID string
	Messages       []*model.Message
	State          State

	// Version increases with every change. Subscribers may receive
	// snapshots out of order and should ignore older versions.
	Version uint64

	// Malformed counts stream records skipped since the session was loaded.
	Malformed int
}

// Busy reports whether a request was in flight.
func (s Snapshot) Busy() bool {
	return s.State != StateIdle
}

// Streaming returns the assistant message still being streamed, or nil.
func (s Snapshot) Streaming() *model.Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Streaming {
			return s.Messages[i]
		}
	}
	return nil
}

// =============================================================================
// READ SIDE
// =============================================================================

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := c.session.Clone()
	return Snapshot{
		ConversationID: clone.ConversationID,
		Messages:       clone.Messages,
		State:          c.state,
		Version:        c.version,
		Malformed:      c.malformed,
	}
}

// State returns the current request state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a request is in flight.
func (c *Controller) Busy() bool {
	return c.State() != StateIdle
}

// ConversationID returns the active conversation id, empty for a new chat.
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ConversationID
}

// Message returns a copy of the message with the given id.
func (c *Controller) Message(id string) (*model.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.session.Get(id)
	if msg == nil {
		return nil, false
	}
	return msg.Clone(), true
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers fn to receive a snapshot after every change. fn runs
// on the goroutine that made the change, outside the controller lock, and
// must not block for long. The returned function unsubscribes.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.subscribers[id] = fn
	return func() {
		c.subMu.Lock()
		delete(c.subscribers, id)
		c.subMu.Unlock()
	}
}

// OnConversationChange registers fn to receive the new conversation id when
// the backend assigns one or a different conversation is loaded. An empty
// id means a new chat.
func (c *Controller) OnConversationChange(fn func(id string)) (unsubscribe func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.convObservers[id] = fn
	return func() {
		c.subMu.Lock()
		delete(c.convObservers, id)
		c.subMu.Unlock()
	}
}

// publish delivers a snapshot to subscribers. Non-final notifications may
// be dropped by the rate limiter.
func (c *Controller) publish(final bool) {
	if !final && c.limiter != nil && !c.limiter.Allow() {
		return
	}

	c.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()
	if len(subs) == 0 {
		return
	}

	snap := c.Snapshot()
	for _, fn := range subs {
		fn(snap)
	}
}

// notifyConversation tells observers about an identity change.
func (c *Controller) notifyConversation(id string) {
	c.subMu.Lock()
	observers := make([]func(string), 0, len(c.convObservers))
	for _, fn := range c.convObservers {
		observers = append(observers, fn)
	}
	c.subMu.Unlock()

	for _, fn := range observers {
		fn(id)
	}
}
