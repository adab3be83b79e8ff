// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayankbarode/OpenChat/internal/backend"
	"github.com/mayankbarode/OpenChat/internal/backend/fakebackend"
	"github.com/mayankbarode/OpenChat/internal/chat"
	"github.com/mayankbarode/OpenChat/internal/config"
	"github.com/mayankbarode/OpenChat/internal/model"
)

// =============================================================================
// PARSER TESTS
// =============================================================================

func TestIsCommand(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"/help", true},
		{"/model gpt-4o", true},
		{"  /help", true},
		{"hello", false},
		{"hello /help", false},
		{"", false},
		{"/", true},
	}

	for _, tc := range tests {
		got := IsCommand(tc.input)
		if got != tc.want {
			t.Errorf("IsCommand(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestExtractCommandName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/help", "/help"},
		{"/model gpt-4o", "/model"},
		{"  /help  ", "/help"},
		{"hello", ""},
		{"/", "/"},
	}

	for _, tc := range tests {
		got := ExtractCommandName(tc.input)
		if got != tc.want {
			t.Errorf("ExtractCommandName(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestGetPartialCommand(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/hel", "/hel"},
		{"/help", "/help"},
		{"/model ", ""},
		{"/model gpt", ""},
		{"hello", ""},
	}

	for _, tc := range tests {
		got := GetPartialCommand(tc.input)
		if got != tc.want {
			t.Errorf("GetPartialCommand(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestParse(t *testing.T) {
	p := NewParser(NewRegistry())

	r := p.Parse(`/EXPORT markdown "my notes.md"`)
	require.True(t, r.IsCommand)
	require.NotNil(t, r.Command)
	assert.Equal(t, "/export", r.Command.Name)
	assert.Equal(t, []string{"markdown", "my notes.md"}, r.Args)
	assert.Equal(t, `markdown "my notes.md"`, r.RawArgs)

	r = p.Parse("/h")
	require.NotNil(t, r.Command)
	assert.Equal(t, "/help", r.Command.Name, "aliases resolve")

	r = p.Parse("/bogus x")
	assert.True(t, r.IsCommand)
	assert.Nil(t, r.Command)

	r = p.Parse("just chatting")
	assert.False(t, r.IsCommand)
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"a b", []string{"a", "b"}},
		{`"a b" c`, []string{"a b", "c"}},
		{`it's fine`, []string{"it's", "fine"}},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ParseArgs(tc.raw), "ParseArgs(%q)", tc.raw)
	}
}

func TestRestAfter(t *testing.T) {
	assert.Equal(t, "keep  the   spacing", RestAfter("3 keep  the   spacing", 1))
	assert.Equal(t, "", RestAfter("3", 1))
	assert.Equal(t, "all of it", RestAfter("all of it", 0))
}

// =============================================================================
// REGISTRY TESTS
// =============================================================================

func TestRegistry_Builtins(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{
		"/new", "/open", "/list", "/retry", "/edit", "/delete", "/attach", "/detach",
		"/cancel", "/copy", "/export", "/provider", "/model", "/help", "/quit",
	} {
		cmd := r.Get(name)
		require.NotNil(t, cmd, name)
		assert.NotNil(t, cmd.Handler, name)
		assert.NotEmpty(t, cmd.Description, name)
	}
	assert.Equal(t, 2, r.Get("/edit").RequiredArgs())
	assert.Equal(t, 0, r.Get("/retry").RequiredArgs())

	for category := range r.ByCategory() {
		assert.Contains(t, categoryOrder, category, "category %q missing from help order", category)
	}
}

// =============================================================================
// DISPATCH TESTS
// =============================================================================

type fixture struct {
	srv     *fakebackend.Server
	env     *Env
	d       *Dispatcher
	copied  []string
	saved   int
	dataDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{srv: fakebackend.New(t), dataDir: t.TempDir()}
	client := backend.NewClient(f.srv.URL).WithToken(f.srv.IssueToken("alice"))

	cfg := config.Default()
	cfg.Backend.URL = f.srv.URL
	cfg.Providers.OpenAI.APIKey = "sk-test"

	f.env = NewEnv(cfg, chat.New(client), client,
		WithClipboard(func(s string) error {
			f.copied = append(f.copied, s)
			return nil
		}),
		WithConfigSaver(func(*config.Config) error {
			f.saved++
			return nil
		}),
	)
	f.d = NewDispatcher(f.env)
	return f
}

func (f *fixture) run(t *testing.T, input string) Result {
	t.Helper()
	res, err := f.d.Execute(context.Background(), input)
	require.NoError(t, err, input)
	return res
}

func (f *fixture) contents() []string {
	snap := f.env.Chat().Snapshot()
	out := make([]string, len(snap.Messages))
	for i, m := range snap.Messages {
		out[i] = string(m.Role) + ":" + m.Content
	}
	return out
}

func TestExecute_PlainTextIsSent(t *testing.T) {
	f := newFixture(t)
	res := f.run(t, "hello there")
	assert.Empty(t, res.Output)
	assert.Equal(t, []string{"user:hello there", "assistant:echo: hello there"}, f.contents())
	assert.NotEmpty(t, f.env.Chat().ConversationID())
}

func TestExecute_UnknownCommandSuggests(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Execute(context.Background(), "/hepl")
	var unknown *UnknownCommandError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "/help", unknown.Suggestion)
}

func TestSuggest(t *testing.T) {
	f := newFixture(t)
	tests := map[string]string{
		"/hepl":   "/help",
		"/exprot": "/export",
		"/modle":  "/model",
		"/xyzzy":  "",
		"/zz":     "",
	}
	for input, want := range tests {
		assert.Equal(t, want, f.d.suggest(input), input)
	}
}

func TestEditDistance(t *testing.T) {
	assert.Equal(t, 0, editDistance("help", "help"))
	assert.Equal(t, 1, editDistance("hepl", "help"))
	assert.Equal(t, 1, editDistance("hlp", "help"))
	assert.Equal(t, 3, editDistance("", "new"))
	assert.Equal(t, 3, editDistance("kitten", "sitting"))
}

func TestExecute_MissingArgs(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Execute(context.Background(), "/edit 1")
	var usage *UsageError
	require.ErrorAs(t, err, &usage)
	assert.Contains(t, err.Error(), "/edit <n> <text>")
}

func TestRetryEditDelete(t *testing.T) {
	f := newFixture(t)
	f.run(t, "first")
	f.run(t, "second")

	// Retrying a reply resends the preceding user turn as a new message.
	f.run(t, "/retry")
	assert.Equal(t, []string{
		"user:first", "assistant:echo: first",
		"user:second", "user:second", "assistant:echo: second",
	}, f.contents())

	f.run(t, "/retry 3")
	assert.Equal(t, []string{
		"user:first", "assistant:echo: first",
		"user:second", "assistant:echo: second",
	}, f.contents())

	f.run(t, "/edit 3 second, revised")
	assert.Equal(t, "user:second, revised", f.contents()[2])
	assert.Equal(t, "assistant:echo: second, revised", f.contents()[3])

	f.run(t, `/edit 1 "quoted text"`)
	assert.Equal(t, []string{"user:quoted text", "assistant:echo: quoted text"}, f.contents())

	res := f.run(t, "/delete 2")
	assert.Equal(t, "Deleted message #2.", res.Output)
	assert.Equal(t, []string{"user:quoted text"}, f.contents())

	_, err := f.d.Execute(context.Background(), "/delete 9")
	assert.ErrorContains(t, err, "no message #9")
	_, err = f.d.Execute(context.Background(), "/delete x")
	assert.ErrorContains(t, err, "not a message number")
}

func TestCopy(t *testing.T) {
	f := newFixture(t)
	f.run(t, "```go\nx := 1\n```")

	res := f.run(t, "/copy")
	assert.Equal(t, "Copied message to the clipboard.", res.Output)
	require.Len(t, f.copied, 1)
	assert.True(t, strings.HasPrefix(f.copied[0], "echo: "))

	res = f.run(t, "/copy 1 code")
	assert.Equal(t, "Copied 1 code block to the clipboard.", res.Output)
	assert.Equal(t, "x := 1", f.copied[1])

	f.run(t, "plain words")
	_, err := f.d.Execute(context.Background(), "/copy 3 code")
	assert.ErrorContains(t, err, "no code blocks")
}

func TestCancel_NothingRunning(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Nothing to cancel.", f.run(t, "/cancel").Output)
}

func TestConversationCommands(t *testing.T) {
	f := newFixture(t)
	older := f.srv.AddConversation("Rust borrow checker",
		backend.HistoryMessage{Role: "user", Content: "why"},
		backend.HistoryMessage{Role: "assistant", Content: "because"})
	f.srv.AddConversation("Weekend trip")

	list := f.run(t, "/list").Output
	assert.Contains(t, list, "Rust borrow checker")
	assert.Contains(t, list, "Weekend trip")

	res := f.run(t, "/open borrow")
	assert.Equal(t, `Opened "Rust borrow checker" (2 messages).`, res.Output)
	assert.Equal(t, older, f.env.Chat().ConversationID())

	res = f.run(t, "/rename Ownership notes")
	assert.Equal(t, `Renamed to "Ownership notes".`, res.Output)
	conv, ok := f.srv.Conversation(older)
	require.True(t, ok)
	assert.Equal(t, "Ownership notes", conv.Title)
	assert.Equal(t, "Ownership notes", f.env.Title())

	res = f.run(t, "/remove")
	assert.Equal(t, `Deleted "Ownership notes". Started a new chat.`, res.Output)
	_, ok = f.srv.Conversation(older)
	assert.False(t, ok)
	assert.Empty(t, f.env.Chat().ConversationID())

	_, err := f.d.Execute(context.Background(), "/rename nope")
	assert.ErrorIs(t, err, ErrNoConversation)

	res = f.run(t, "/new")
	assert.Equal(t, "Started a new chat.", res.Output)
}

func TestRemove_OtherConversationKeepsChat(t *testing.T) {
	f := newFixture(t)
	f.run(t, "keep me")
	current := f.env.Chat().ConversationID()
	other := f.srv.AddConversation("Other")

	res := f.run(t, "/remove Other")
	assert.Equal(t, `Deleted "Other".`, res.Output)
	_, ok := f.srv.Conversation(other)
	assert.False(t, ok)
	assert.Equal(t, current, f.env.Chat().ConversationID())
	assert.Len(t, f.contents(), 2)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	f.run(t, "export me")

	path := filepath.Join(f.dataDir, "chat.json")
	res := f.run(t, "/export json "+path)
	assert.Equal(t, "Exported 2 messages to "+path+".", res.Output)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "echo: export me")

	_, err = f.d.Execute(context.Background(), "/export pdf")
	assert.ErrorContains(t, err, "unknown export format")
}

func TestExport_EmptyChat(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Execute(context.Background(), "/export markdown")
	assert.ErrorContains(t, err, "nothing to export")
}

func TestAttach(t *testing.T) {
	f := newFixture(t)
	img := filepath.Join(f.dataDir, "dot.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR"), 0o600))

	res := f.run(t, "/attach "+img)
	assert.Contains(t, res.Output, "Attached dot.png (image/png")
	require.NotNil(t, f.env.Attachment())

	f.run(t, "what is this")
	snap := f.env.Chat().Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.True(t, snap.Messages[0].HasImage())
	assert.Nil(t, f.env.Attachment(), "attachment is consumed by the send")

	assert.Equal(t, "No attachment.", f.run(t, "/detach").Output)
}

func TestAttach_RequiresVisionModel(t *testing.T) {
	f := newFixture(t)
	f.run(t, "/model gpt-3.5-turbo")
	_, err := f.d.Execute(context.Background(), "/attach whatever.png")
	assert.ErrorContains(t, err, "does not accept images")
}

func TestAttach_KeptWhenSendFailsPreflight(t *testing.T) {
	f := newFixture(t)
	img := filepath.Join(f.dataDir, "dot.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR"), 0o600))
	f.run(t, "/attach "+img)

	require.NoError(t, f.env.UpdateConfig(func(c *config.Config) { c.Providers.OpenAI.APIKey = "" }))
	_, err := f.d.Execute(context.Background(), "describe")
	var missing *chat.CredentialMissingError
	require.ErrorAs(t, err, &missing)
	assert.NotNil(t, f.env.Attachment())
	assert.Empty(t, f.env.Chat().Snapshot().Messages)
}

func TestProviderAndModel(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "Provider: OpenAI (model gpt-4o)", f.run(t, "/provider").Output)

	res := f.run(t, "/provider vllm")
	assert.Contains(t, res.Output, "model meta-llama/Llama-3-8b")
	cfg := f.env.Config()
	assert.Equal(t, "vllm", cfg.Chat.Provider)
	assert.Equal(t, "meta-llama/Llama-3-8b", cfg.Chat.Model, "selection falls back to the first available model")
	assert.Equal(t, 1, f.saved)

	res = f.run(t, "/model custom-model")
	assert.Equal(t, "Model: custom-model (not in the vLLM / Local model list)", res.Output)

	res = f.run(t, "/models")
	assert.Equal(t, "  meta-llama/Llama-3-8b", res.Output)

	_, err := f.d.Execute(context.Background(), "/provider nope")
	assert.Error(t, err)
	assert.Equal(t, "vllm", f.env.Config().Chat.Provider)
}

func TestModels_NeedsKey(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.env.UpdateConfig(func(c *config.Config) {
		c.Chat.Provider = model.ProviderAnthropic.String()
	}))
	res := f.run(t, "/models")
	assert.Equal(t, "Set your Anthropic API key to list models.", res.Output)
}

func TestHelp(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "/help").Output
	assert.Contains(t, out, "Conversation\n")
	assert.Contains(t, out, "/retry [n]")
	assert.Contains(t, out, "Anything else is sent as a message.")

	out = f.run(t, "/help edit").Output
	assert.Equal(t, "/edit <n> <text>\n  Replace message n and resend", out)
}

func TestQuit(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.run(t, "/quit").Quit)
	assert.True(t, f.run(t, "/q").Quit)
}

// =============================================================================
// COMPLETION TESTS
// =============================================================================

func TestComplete(t *testing.T) {
	c := NewCompleter(NewRegistry(), nil)

	assert.Equal(t, []string{"/edit ", "/export "}, c.Complete("/e"))
	assert.Equal(t, []string{"/export json"}, c.Complete("/export j"))
	assert.Equal(t, []string{"/provider anthropic"}, c.Complete("/provider an"))
	assert.Nil(t, c.Complete("hello"))
	assert.Nil(t, c.Complete("/nosuch "))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "photo.png"), nil, 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "pics"), 0o700))
	got := c.Complete("/attach " + dir + string(filepath.Separator) + "p")
	assert.Equal(t, []string{
		"/attach " + filepath.Join(dir, "photo.png"),
		"/attach " + filepath.Join(dir, "pics") + string(filepath.Separator),
	}, got)
}
