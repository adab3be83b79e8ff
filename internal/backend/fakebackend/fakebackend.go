// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package fakebackend runs an in-process OpenChat backend for tests.
//
// It implements the subset of the HTTP API the client uses, keeps state in
// memory and lets a test script the next chat streams line by line.
package fakebackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v4"

	"github.com/mayankbarode/OpenChat/internal/backend"
)

// signingKey signs the tokens the fake issues.
var signingKey = []byte("fakebackend-secret")

// StreamScript describes how the fake answers one POST /chat/stream.
type StreamScript struct {
	// Status, when non-zero, answers with this HTTP status and Detail
	// instead of a stream.
	Status int
	Detail string

	// Lines are written verbatim, each followed by "\n", and flushed one
	// at a time.
	Lines []string

	// Block keeps the response open after Lines until the client goes away
	// or Release is called.
	Block bool
}

// Server is the fake backend.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	users         map[string]string // username -> password
	tokens        map[string]string // token -> username
	conversations map[string]*backend.Conversation
	created       map[string]time.Time
	settings      backend.Settings
	models        map[string][]string
	scripts       []StreamScript
	requests      []backend.ChatRequest
	nextID        int
	release       chan struct{}
}

// New starts a fake backend that is closed when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		users:         map[string]string{"alice": "secret1"},
		tokens:        make(map[string]string),
		conversations: make(map[string]*backend.Conversation),
		created:       make(map[string]time.Time),
		settings: backend.Settings{
			APIKeys:  map[string]string{},
			BaseURLs: map[string]string{},
		},
		models: map[string][]string{
			"openai": {"gpt-4o", "gpt-4o-mini"},
			"vllm":   {"meta-llama/Llama-3-8b"},
		},
		release: make(chan struct{}),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(func() {
		s.Release()
		s.Close()
	})
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.login)
		r.Post("/signup", s.signup)
		r.Get("/check-username/{username}", s.checkUsername)
		r.With(s.authenticate).Post("/change-password", s.changePassword)
	})
	r.Get("/models", s.listModels)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/chat/stream", s.chatStream)
		r.Get("/conversations", s.listConversations)
		r.Get("/conversations/{id}", s.getConversation)
		r.Delete("/conversations/{id}", s.deleteConversation)
		r.Patch("/conversations/{id}", s.renameConversation)
		r.Get("/user/settings", s.getSettings)
		r.Patch("/user/settings", s.updateSettings)
	})
	return r
}

// =============================================================================
// TEST CONTROLS
// =============================================================================

// IssueToken returns a valid token for username.
func (s *Server) IssueToken(username string) string {
	return s.issueToken(username, time.Hour)
}

// IssueExpiredToken returns a well-formed token whose exp is in the past.
func (s *Server) IssueExpiredToken(username string) string {
	return s.issueToken(username, -time.Hour)
}

// RevokeAll invalidates every issued token.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	s.tokens = make(map[string]string)
	s.mu.Unlock()
}

// QueueStream scripts the answer to the next chat stream request. Requests
// with no queued script get an echo reply.
func (s *Server) QueueStream(script StreamScript) {
	s.mu.Lock()
	s.scripts = append(s.scripts, script)
	s.mu.Unlock()
}

// Release unblocks every stream held open by a Block script. Block has no
// effect on streams opened after Release.
func (s *Server) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.release:
	default:
		close(s.release)
	}
}

// Requests returns the chat stream requests received so far.
func (s *Server) Requests() []backend.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backend.ChatRequest(nil), s.requests...)
}

// AddConversation stores a conversation and returns its id.
func (s *Server) AddConversation(title string, messages ...backend.HistoryMessage) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.newConversationLocked(title)
	conv.Messages = append(conv.Messages, messages...)
	return conv.ID
}

// Conversation returns a copy of a stored conversation.
func (s *Server) Conversation(id string) (backend.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return backend.Conversation{}, false
	}
	out := *conv
	out.Messages = append([]backend.HistoryMessage(nil), conv.Messages...)
	return out, true
}

// Settings returns the stored user settings.
func (s *Server) Settings() backend.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) issueToken(username string, ttl time.Duration) string {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(fmt.Sprintf("fakebackend: sign token: %v", err))
	}
	s.mu.Lock()
	s.tokens[token] = username
	s.mu.Unlock()
	return token
}

func (s *Server) newConversationLocked(title string) *backend.Conversation {
	s.nextID++
	id := fmt.Sprintf("conv-%d", s.nextID)
	now := time.Now().UTC()
	conv := &backend.Conversation{
		ID:        id,
		Title:     title,
		UpdatedAt: backend.Timestamp{Time: now},
	}
	s.conversations[id] = conv
	s.created[id] = now
	return conv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		_, ok := s.tokens[token]
		s.mu.Unlock()
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid form")
		return
	}
	username, password := r.PostForm.Get("username"), r.PostForm.Get("password")
	s.mu.Lock()
	stored, ok := s.users[username]
	s.mu.Unlock()
	if !ok || stored != password {
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}
	writeJSON(w, http.StatusOK, backend.TokenResponse{
		AccessToken: s.IssueToken(username),
		TokenType:   "bearer",
		Username:    username,
	})
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req backend.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	_, taken := s.users[req.Username]
	if !taken {
		s.users[req.Username] = req.Password
	}
	s.mu.Unlock()
	if taken {
		writeDetail(w, http.StatusBadRequest, "Username already taken")
		return
	}
	writeJSON(w, http.StatusOK, backend.TokenResponse{
		AccessToken: s.IssueToken(req.Username),
		TokenType:   "bearer",
		Username:    req.Username,
	})
}

func (s *Server) checkUsername(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	s.mu.Lock()
	_, taken := s.users[username]
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, backend.UsernameAvailability{Available: !taken, Username: username})
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Current string `json:"current_password"`
		New     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	username := s.tokens[token]
	if s.users[username] != req.Current {
		writeDetail(w, http.StatusBadRequest, "Current password is incorrect")
		return
	}
	if len(req.New) < 6 {
		writeDetail(w, http.StatusBadRequest, "New password must be at least 6 characters")
		return
	}
	s.users[username] = req.New
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	s.mu.Lock()
	models, ok := s.models[provider]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusBadRequest, "Unsupported provider")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"models": models})
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]backend.ConversationSummary, 0, len(s.conversations))
	for id, conv := range s.conversations {
		out = append(out, backend.ConversationSummary{
			ID:        id,
			Title:     conv.Title,
			UpdatedAt: conv.UpdatedAt,
			CreatedAt: backend.Timestamp{Time: s.created[id]},
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt.Time) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt.Time)
	})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.Conversation(chi.URLParam(r, "id"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	_, ok := s.conversations[id]
	delete(s.conversations, id)
	delete(s.created, id)
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted successfully"})
}

func (s *Server) renameConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	title := r.URL.Query().Get("title")
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if ok {
		conv.Title = title
	}
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "title": title})
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Settings())
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var update backend.SettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	s.mu.Lock()
	for k, v := range update.APIKeys {
		s.settings.APIKeys[k] = v
	}
	for k, v := range update.BaseURLs {
		s.settings.BaseURLs[k] = v
	}
	if update.SelectedProvider != nil {
		s.settings.SelectedProvider = *update.SelectedProvider
	}
	if update.SelectedModel != nil {
		s.settings.SelectedModel = *update.SelectedModel
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Settings updated successfully"})
}

func (s *Server) chatStream(w http.ResponseWriter, r *http.Request) {
	var req backend.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	var script *StreamScript
	if len(s.scripts) > 0 {
		script = &s.scripts[0]
		s.scripts = s.scripts[1:]
	}
	release := s.release
	s.mu.Unlock()

	if script == nil {
		s.echo(w, req)
		return
	}
	if script.Status != 0 {
		writeDetail(w, script.Status, script.Detail)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, line := range script.Lines {
		fmt.Fprintf(w, "%s\n", line)
		if flusher != nil {
			flusher.Flush()
		}
	}
	if script.Block {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}
}

// echo mimics the real backend: it stores the user turn, announces the
// conversation id, streams a reply and stores it.
func (s *Server) echo(w http.ResponseWriter, req backend.ChatRequest) {
	if len(req.Messages) == 0 {
		writeDetail(w, http.StatusUnprocessableEntity, "messages required")
		return
	}
	last := req.Messages[len(req.Messages)-1]

	s.mu.Lock()
	conv, ok := s.conversations[req.ConversationID]
	if req.ConversationID != "" && !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if !ok {
		title := last.Content
		if len(title) > 50 {
			title = title[:50]
		}
		conv = s.newConversationLocked(title)
	}
	conv.Messages = append(conv.Messages, backend.HistoryMessage{
		Role:     "user",
		Content:  last.Content,
		ImageURL: last.ImageURL,
	})
	convID := conv.ID
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	send := func(v any) {
		data, _ := json.Marshal(v)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	send(map[string]string{"conversationId": convID})
	reply := "echo: " + last.Content
	for _, word := range strings.SplitAfter(reply, " ") {
		send(map[string]string{"content": word})
	}

	s.mu.Lock()
	conv.Messages = append(conv.Messages, backend.HistoryMessage{Role: "assistant", Content: reply})
	conv.UpdatedAt = backend.Timestamp{Time: time.Now().UTC()}
	s.mu.Unlock()

	fmt.Fprint(w, "data: [DONE]\n\n")
}
