// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mayankbarode/OpenChat/internal/model"
)

func sampleMessages() []*model.Message {
	ts := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	u := model.NewUserMessage("What is in this image?", "data:image/png;base64,AAAA")
	u.Timestamp = ts
	a := model.NewMessage(model.RoleAssistant, "A **cat**.")
	a.Timestamp = ts.Add(time.Second)
	e := model.NewErrorMessage("quota exceeded")
	return []*model.Message{u, a, e}
}

func TestNewDocument_Options(t *testing.T) {
	doc := NewDocument("c1", "Cats", sampleMessages(), nil)
	require.Len(t, doc.Messages, 3)
	assert.True(t, doc.Messages[0].HasImage)
	assert.Empty(t, doc.Messages[0].ImageURL)
	assert.NotNil(t, doc.Messages[0].Timestamp)
	assert.True(t, doc.Messages[2].Error)

	doc = NewDocument("c1", "Cats", sampleMessages(), &Options{IncludeImages: true})
	require.Len(t, doc.Messages, 2)
	assert.Equal(t, "data:image/png;base64,AAAA", doc.Messages[0].ImageURL)
	assert.Nil(t, doc.Messages[0].Timestamp)
}

func TestMarkdownExporter(t *testing.T) {
	doc := NewDocument("c1", "Cats: a study", sampleMessages(), nil)

	out, err := NewMarkdownExporter(nil).Export(doc)
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "---\ntitle: \"Cats: a study\"\n"))
	assert.Contains(t, md, "conversation: c1")
	assert.Contains(t, md, "### You")
	assert.Contains(t, md, "*[image attached]*")
	assert.Contains(t, md, "A **cat**.")
	assert.Contains(t, md, "### Assistant (error)")
	assert.Contains(t, md, "Error: quota exceeded")
}

func TestMarkdownExporter_Empty(t *testing.T) {
	_, err := NewMarkdownExporter(nil).Export(NewDocument("", "Empty", nil, nil))
	assert.Error(t, err)
	_, err = NewMarkdownExporter(nil).Export(nil)
	assert.Error(t, err)
}

func TestJSONExporter(t *testing.T) {
	doc := NewDocument("c1", "Cats", sampleMessages(), nil)
	out, err := NewJSONExporter(nil).Export(doc)
	require.NoError(t, err)

	var back Document
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "c1", back.ConversationID)
	require.Len(t, back.Messages, 3)
	assert.Equal(t, "assistant", back.Messages[1].Role)
}

func TestYAMLExporter(t *testing.T) {
	doc := NewDocument("c1", "Cats", sampleMessages(), nil)
	out, err := NewYAMLExporter(nil).Export(doc)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, "Cats", back["title"])
	assert.Len(t, back["messages"], 3)
}

func TestForFormat(t *testing.T) {
	for name, ext := range map[string]string{"md": ".md", "Markdown": ".md", ".json": ".json", "yml": ".yaml"} {
		e, err := ForFormat(name, nil)
		require.NoError(t, err, name)
		assert.Equal(t, ext, e.FileExtension(), name)
	}
	_, err := ForFormat("html", nil)
	assert.Error(t, err)
}

func TestExportToFile(t *testing.T) {
	dir := t.TempDir()
	doc := NewDocument("c1", "My chat / notes", sampleMessages(), nil)

	path, err := ExportToFile(doc, NewJSONExporter(nil), dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "My_chat_-_notes_"))
	assert.Equal(t, ".json", filepath.Ext(path))

	explicit := filepath.Join(dir, "out", "chat.md")
	path, err = ExportToFile(doc, NewMarkdownExporter(nil), explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, path)
	_, err = os.Stat(explicit)
	assert.NoError(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":            "conversation",
		"a/b\\c":      "a-b-c",
		"hello world": "hello_world",
		"tab\there":   "tab_here",
		"ok-name_1.2": "ok-name_1.2",
		"bell\x07":    "bell-",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeFilename(in), in)
	}
	assert.Len(t, []rune(sanitizeFilename(strings.Repeat("x", 80))), 50)
}
