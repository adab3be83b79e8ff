// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sidebar keeps the list of the user's conversations.
//
// The list is fetched independently of the chat controller. It refreshes
// whenever the active conversation changes, and an older fetch that
// finishes after a newer one is discarded.
package sidebar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sahilm/fuzzy"

	"github.com/mayankbarode/OpenChat/internal/backend"
	"github.com/mayankbarode/OpenChat/internal/util"
)

// UntitledLabel is shown for conversations without a title.
const UntitledLabel = "New Chat"

// ErrNoMatch is returned when no conversation matches a query.
var ErrNoMatch = errors.New("no matching conversation")

// Lister fetches the conversation list.
type Lister interface {
	ListConversations(ctx context.Context) ([]backend.ConversationSummary, error)
}

// Item is one conversation in the list.
type Item struct {
	ID        string
	Title     string
	UpdatedAt time.Time
}

// Label returns the title normalized to a single line.
func (i Item) Label() string {
	title := util.SingleLine(i.Title)
	if title == "" {
		return UntitledLabel
	}
	return title
}

// Age describes when the conversation was last updated, relative to now.
func (i Item) Age(now time.Time) string {
	if i.UpdatedAt.IsZero() {
		return ""
	}
	return humanize.RelTime(i.UpdatedAt, now, "ago", "from now")
}

// Sidebar holds the conversation list and the active conversation id.
type Sidebar struct {
	lister Lister
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	items    []Item
	active   string
	err      error
	gen      uint64 // last fetch started
	applied  uint64 // last fetch whose result was kept
	onUpdate []func()
}

// Option configures a Sidebar.
type Option func(*Sidebar)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sidebar) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for relative times.
func WithClock(now func() time.Time) Option {
	return func(s *Sidebar) { s.now = now }
}

// New creates a sidebar backed by lister.
func New(lister Lister, opts ...Option) *Sidebar {
	s := &Sidebar{
		lister: lister,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnUpdate registers fn to run after the list or active id changes.
func (s *Sidebar) OnUpdate(fn func()) {
	s.mu.Lock()
	s.onUpdate = append(s.onUpdate, fn)
	s.mu.Unlock()
}

func (s *Sidebar) notify() {
	s.mu.Lock()
	fns := append([]func(){}, s.onUpdate...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Refresh fetches the list. A failed fetch keeps the previous items and
// records the error.
func (s *Sidebar) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	summaries, err := s.lister.ListConversations(ctx)

	s.mu.Lock()
	if gen < s.applied {
		s.mu.Unlock()
		s.logger.Debug("discarding stale conversation list", "fetch", gen)
		return nil
	}
	s.applied = gen
	s.err = err
	if err == nil {
		s.items = make([]Item, 0, len(summaries))
		for _, c := range summaries {
			s.items = append(s.items, Item{ID: c.ID, Title: c.Title, UpdatedAt: c.UpdatedAt.Time})
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("conversation list refresh failed", "error", err)
		s.notify()
		return fmt.Errorf("list conversations: %w", err)
	}
	s.logger.Debug("conversation list refreshed", "count", len(summaries))
	s.notify()
	return nil
}

// Items returns a copy of the list, most recent first.
func (s *Sidebar) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Item(nil), s.items...)
}

// Err returns the error of the last refresh, if it failed.
func (s *Sidebar) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Active returns the active conversation id.
func (s *Sidebar) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActive marks id as the active conversation.
func (s *Sidebar) SetActive(id string) {
	s.mu.Lock()
	s.active = id
	s.mu.Unlock()
	s.notify()
}

// Remove drops a conversation from the list, typically after deleting it.
// It reports whether the removed conversation was the active one.
func (s *Sidebar) Remove(id string) bool {
	s.mu.Lock()
	for i, it := range s.items {
		if it.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	wasActive := s.active == id
	if wasActive {
		s.active = ""
	}
	s.mu.Unlock()
	s.notify()
	return wasActive
}

// Rename updates a title locally after a successful rename.
func (s *Sidebar) Rename(id, title string) {
	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Title = title
		}
	}
	s.mu.Unlock()
	s.notify()
}

// Get returns the n-th item, counting from 1.
func (s *Sidebar) Get(n int) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 || n > len(s.items) {
		return Item{}, false
	}
	return s.items[n-1], true
}

// Watch refreshes the list whenever the observed conversation id changes.
// subscribe is usually chat.Controller.OnConversationChange. Refreshes run
// in their own goroutine and use ctx.
func (s *Sidebar) Watch(ctx context.Context, subscribe func(func(string)) func()) (unsubscribe func()) {
	return subscribe(func(id string) {
		s.SetActive(id)
		go func() {
			_ = s.Refresh(ctx)
		}()
	})
}

// =============================================================================
// SEARCH
// =============================================================================

type labels []Item

func (l labels) String(i int) string { return l[i].Label() }
func (l labels) Len() int            { return len(l) }

// Filter returns the items whose titles fuzzy-match query, best first.
// An empty query returns every item.
func (s *Sidebar) Filter(query string) []Item {
	items := s.Items()
	if strings.TrimSpace(query) == "" {
		return items
	}
	matches := fuzzy.FindFrom(query, labels(items))
	out := make([]Item, 0, len(matches))
	for _, m := range matches {
		out = append(out, items[m.Index])
	}
	return out
}

// Find resolves a reference typed by the user: a 1-based list number, a
// conversation id, or a fuzzy title query.
func (s *Sidebar) Find(ref string) (Item, error) {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.Atoi(ref); err == nil {
		if it, ok := s.Get(n); ok {
			return it, nil
		}
		return Item{}, fmt.Errorf("%w: no conversation #%d", ErrNoMatch, n)
	}
	for _, it := range s.Items() {
		if it.ID == ref {
			return it, nil
		}
	}
	if matches := s.Filter(ref); len(matches) > 0 {
		return matches[0], nil
	}
	return Item{}, fmt.Errorf("%w: %q", ErrNoMatch, ref)
}

// =============================================================================
// RENDERING
// =============================================================================

// Lines formats the whole list for display at the given width.
func (s *Sidebar) Lines(width int) []string {
	return s.LinesFor(s.Items(), width)
}

// LinesFor formats items, typically a Filter result, at the given width.
// Each line carries the item's number in the full list, and the active
// conversation is marked with "›".
func (s *Sidebar) LinesFor(items []Item, width int) []string {
	all := s.Items()
	active := s.Active()
	now := s.now()

	position := make(map[string]int, len(all))
	for i, it := range all {
		position[it.ID] = i + 1
	}
	numWidth := len(strconv.Itoa(len(all)))

	lines := make([]string, 0, len(items))
	for _, it := range items {
		marker := " "
		if it.ID == active {
			marker = "›"
		}
		prefix := fmt.Sprintf("%s %*d. ", marker, numWidth, position[it.ID])
		age := it.Age(now)
		avail := width - util.Width(prefix)
		if age != "" {
			avail -= util.Width(age) + 1
		}
		line := prefix + util.PadRight(util.Truncate(it.Label(), avail), avail)
		if age != "" {
			line += " " + age
		}
		lines = append(lines, line)
	}
	return lines
}
