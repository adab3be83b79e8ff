// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"strings"
)

// SegmentKind identifies what a piece of message content holds.
type SegmentKind int

const (
	// SegmentText is ordinary markdown prose.
	SegmentText SegmentKind = iota
	// SegmentCode is a fenced code block.
	SegmentCode
	// SegmentThinking is model reasoning wrapped in <think> tags.
	SegmentThinking
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
	fence      = "```"
)

// Segment is one contiguous piece of message content.
type Segment struct {
	Kind     SegmentKind
	Language string // code blocks only
	Body     string

	// Open is set for a code block or thinking block whose closing marker
	// has not arrived yet, as happens mid-stream.
	Open bool
}

// Split breaks message content into prose, fenced code and thinking
// segments. Unterminated blocks run to the end of the content.
func Split(content string) []Segment {
	var segs []Segment
	rest := content
	for rest != "" {
		start := strings.Index(rest, thinkOpen)
		if start < 0 {
			segs = append(segs, splitCode(rest)...)
			break
		}
		if start > 0 {
			segs = append(segs, splitCode(rest[:start])...)
		}
		rest = rest[start+len(thinkOpen):]
		end := strings.Index(rest, thinkClose)
		if end < 0 {
			segs = append(segs, Segment{Kind: SegmentThinking, Body: strings.TrimSpace(rest), Open: true})
			break
		}
		segs = append(segs, Segment{Kind: SegmentThinking, Body: strings.TrimSpace(rest[:end])})
		rest = rest[end+len(thinkClose):]
	}
	return compact(segs)
}

// splitCode separates fenced code blocks from prose. Fences must start a
// line; the info string after the opening fence names the language.
func splitCode(text string) []Segment {
	var (
		segs  []Segment
		prose strings.Builder
		code  strings.Builder
		lang  string
		in    bool
	)
	lines := strings.SplitAfter(text, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, fence) {
			if in {
				code.WriteString(line)
			} else {
				prose.WriteString(line)
			}
			continue
		}
		if !in {
			if prose.Len() > 0 {
				segs = append(segs, Segment{Kind: SegmentText, Body: prose.String()})
				prose.Reset()
			}
			lang = strings.TrimSpace(strings.TrimPrefix(trimmed, fence))
			if i := strings.IndexAny(lang, " \t{"); i >= 0 {
				lang = lang[:i]
			}
			in = true
			continue
		}
		segs = append(segs, Segment{Kind: SegmentCode, Language: lang, Body: strings.TrimSuffix(code.String(), "\n")})
		code.Reset()
		lang = ""
		in = false
	}
	if in {
		segs = append(segs, Segment{Kind: SegmentCode, Language: lang, Body: strings.TrimSuffix(code.String(), "\n"), Open: true})
	}
	if prose.Len() > 0 {
		segs = append(segs, Segment{Kind: SegmentText, Body: prose.String()})
	}
	return segs
}

// compact drops prose segments that hold only whitespace.
func compact(segs []Segment) []Segment {
	out := segs[:0]
	for _, s := range segs {
		if s.Kind == SegmentText && strings.TrimSpace(s.Body) == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// CodeBlocks returns the fenced code blocks in content, in order.
func CodeBlocks(content string) []Segment {
	var blocks []Segment
	for _, s := range Split(content) {
		if s.Kind == SegmentCode {
			blocks = append(blocks, s)
		}
	}
	return blocks
}

// StripThinking removes thinking blocks from content and returns the
// remaining answer along with the joined reasoning text.
func StripThinking(content string) (answer, thought string) {
	if !strings.Contains(content, thinkOpen) {
		return content, ""
	}
	var a, t []string
	for _, s := range Split(content) {
		switch s.Kind {
		case SegmentThinking:
			t = append(t, s.Body)
		case SegmentCode:
			a = append(a, fence+s.Language+"\n"+s.Body+"\n"+fence)
		default:
			a = append(a, strings.TrimSpace(s.Body))
		}
	}
	return strings.Join(a, "\n\n"), strings.Join(t, "\n\n")
}
