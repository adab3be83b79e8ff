// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/mayankbarode/OpenChat/internal/model"
)

// Theme names accepted by Options.Theme.
const (
	ThemeAuto  = "auto"
	ThemeDark  = "dark"
	ThemeLight = "light"
)

// DefaultWidth is the wrap width used when none is given.
const DefaultWidth = 80

// Options configures a Renderer.
type Options struct {
	Width        int
	Theme        string // auto, dark or light
	ShowThinking bool   // expand reasoning blocks instead of folding them

	// Plain disables colors, for output that is not a terminal.
	Plain bool
}

// Renderer turns message content into terminal text.
type Renderer struct {
	opts Options
	dark bool
	md   *glamour.TermRenderer

	codeHeader lipgloss.Style
	lineNum    lipgloss.Style
	thinking   lipgloss.Style
	errText    lipgloss.Style
	note       lipgloss.Style
}

// IsDark resolves a theme name to a dark or light palette. "auto" asks the
// terminal for its background color.
func IsDark(theme string) bool {
	switch theme {
	case ThemeDark:
		return true
	case ThemeLight:
		return false
	default:
		return termenv.HasDarkBackground()
	}
}

// New creates a renderer.
func New(opts Options) (*Renderer, error) {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Theme == "" {
		opts.Theme = ThemeAuto
	}

	r := &Renderer{opts: opts, dark: !opts.Plain && IsDark(opts.Theme)}

	style := "notty"
	if !opts.Plain {
		style = ThemeLight
		if r.dark {
			style = ThemeDark
		}
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(opts.Width),
	)
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}
	r.md = md
	r.initStyles()
	return r, nil
}

func (r *Renderer) initStyles() {
	muted := lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	accent := lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}
	danger := lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}

	if r.opts.Plain {
		r.codeHeader = lipgloss.NewStyle()
		r.lineNum = lipgloss.NewStyle()
		r.thinking = lipgloss.NewStyle()
		r.errText = lipgloss.NewStyle()
		r.note = lipgloss.NewStyle()
		return
	}
	r.codeHeader = lipgloss.NewStyle().Foreground(muted).Bold(true)
	r.lineNum = lipgloss.NewStyle().Foreground(muted)
	r.thinking = lipgloss.NewStyle().
		Foreground(muted).
		Italic(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderLeft(true).
		BorderForeground(accent).
		PaddingLeft(1)
	r.errText = lipgloss.NewStyle().Foreground(danger)
	r.note = lipgloss.NewStyle().Foreground(muted).Italic(true)
}

// Dark reports whether the renderer uses the dark palette.
func (r *Renderer) Dark() bool {
	return r.dark
}

// Width returns the wrap width.
func (r *Renderer) Width() int {
	return r.opts.Width
}

// Message renders a message body. Synthetic error reports are shown
// verbatim; everything else goes through the markdown pipeline.
func (r *Renderer) Message(msg *model.Message) string {
	var b strings.Builder
	if msg.HasImage() {
		b.WriteString(r.note.Render("[image attached]"))
		b.WriteString("\n")
	}
	content := msg.GetDisplayContent()
	if msg.Synthetic {
		b.WriteString(r.errText.Render(content))
		return b.String()
	}
	b.WriteString(r.Content(content))
	return b.String()
}

// Content renders markdown content with highlighted code blocks and
// folded reasoning.
func (r *Renderer) Content(content string) string {
	segs := Split(content)
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		switch s.Kind {
		case SegmentCode:
			parts = append(parts, r.Code(s.Language, s.Body))
		case SegmentThinking:
			parts = append(parts, r.Thinking(s.Body, r.opts.ShowThinking || s.Open))
		default:
			parts = append(parts, r.Markdown(s.Body))
		}
	}
	return strings.Join(parts, "\n")
}

// Markdown renders prose. Content is returned unchanged when glamour fails.
func (r *Renderer) Markdown(text string) string {
	out, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

// Thinking renders a reasoning block, or a one-line placeholder when folded.
func (r *Renderer) Thinking(thought string, expanded bool) string {
	if thought == "" {
		return ""
	}
	if !expanded {
		lines := strings.Count(thought, "\n") + 1
		return r.note.Render(fmt.Sprintf("▶ Thought process (%d %s)", lines, plural(lines, "line")))
	}
	return r.thinking.Render("▼ Thought process\n" + thought)
}

// Code renders a code block with a language header and line numbers.
func (r *Renderer) Code(language, code string) string {
	label := language
	if label == "" {
		label = "text"
	}

	body := code
	if !r.opts.Plain {
		body = Highlight(code, language, r.dark)
	}
	lines := strings.Split(body, "\n")
	width := len(fmt.Sprint(len(lines)))

	var b strings.Builder
	b.WriteString(r.codeHeader.Render(strings.ToUpper(label)))
	for i, line := range lines {
		b.WriteString("\n")
		b.WriteString(r.lineNum.Render(fmt.Sprintf("%*d", width, i+1)))
		b.WriteString(" │ ")
		b.WriteString(line)
	}
	return b.String()
}

// Highlight applies terminal syntax highlighting to code. Unknown languages
// are detected from the code itself; the input is returned unchanged when
// highlighting fails.
func Highlight(code, language string, dark bool) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	name := "monokai"
	if !dark {
		name = "github"
	}
	style := chromaStyles.Get(name)
	if style == nil {
		style = chromaStyles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
