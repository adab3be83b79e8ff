// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

// UnknownCommandError reports a slash command that is not registered.
type UnknownCommandError struct {
	Name       string
	Suggestion string
}

// Error implements the error interface.
func (e *UnknownCommandError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown command %s (did you mean %s?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("unknown command %s, type /help for a list", e.Name)
}

// UsageError reports a command called with missing arguments.
type UsageError struct {
	Usage string
}

// Error implements the error interface.
func (e *UsageError) Error() string {
	return "usage: " + e.Usage
}

// Dispatcher runs user input: slash commands go to their handler and
// anything else is sent as a chat turn.
type Dispatcher struct {
	registry *Registry
	parser   *Parser
	env      *Env
}

// NewDispatcher creates a dispatcher with the built-in commands.
func NewDispatcher(env *Env) *Dispatcher {
	registry := NewRegistry()
	return &Dispatcher{
		registry: registry,
		parser:   NewParser(registry),
		env:      env,
	}
}

// Registry returns the command registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Env returns the environment commands run against.
func (d *Dispatcher) Env() *Env {
	return d.env
}

// Execute runs one line of input. It blocks while a turn streams.
func (d *Dispatcher) Execute(ctx context.Context, input string) (Result, error) {
	parsed := d.parser.Parse(input)
	if !parsed.IsCommand {
		return Result{}, d.env.Send(ctx, parsed.RawInput)
	}
	if parsed.Command == nil {
		return Result{}, &UnknownCommandError{Name: parsed.CommandName, Suggestion: d.suggest(parsed.CommandName)}
	}
	cmd := parsed.Command
	if len(parsed.Args) < cmd.RequiredArgs() {
		return Result{}, &UsageError{Usage: cmd.Usage}
	}

	d.env.logger.Debug("running command", "command", cmd.Name, "args", len(parsed.Args))
	return cmd.Handler(ctx, d.env, Invocation{
		Name: cmd.Name,
		Args: parsed.Args,
		Raw:  parsed.RawArgs,
	})
}

// suggest returns the registered name closest to a mistyped one. Fuzzy
// subsequence matches win; otherwise the nearest name by edit distance is
// used, which catches swapped and substituted letters.
func (d *Dispatcher) suggest(name string) string {
	if len(name) < 2 {
		return ""
	}
	names := d.registry.Names()
	if matches := fuzzy.Find(name, names); len(matches) > 0 {
		return matches[0].Str
	}

	input := strings.TrimPrefix(strings.ToLower(name), "/")
	maxDistance := 1
	if len(input) >= 4 {
		maxDistance = 2
	}
	if len(input) > 8 {
		maxDistance = 3
	}

	best, bestDistance := "", maxDistance+1
	for _, candidate := range names {
		distance := editDistance(input, strings.TrimPrefix(candidate, "/"))
		if distance > 0 && distance < bestDistance {
			best, bestDistance = candidate, distance
		}
	}
	return best
}

// editDistance is the Levenshtein distance counting a swap of two adjacent
// characters as one edit.
func editDistance(a, b string) int {
	s1, s2 := []rune(a), []rune(b)
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	// Three rows: the transposition case looks two rows back.
	prev2 := make([]int, len(s2)+1)
	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if i > 1 && j > 1 && s1[i-1] == s2[j-2] && s1[i-2] == s2[j-1] {
				curr[j] = min(curr[j], prev2[j-2]+1)
			}
		}
		prev2, prev, curr = prev, curr, prev2
	}
	return prev[len(s2)]
}
