// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// =============================================================================
// COMPLETER
// =============================================================================

// Completer provides tab completion for commands and their arguments.
type Completer struct {
	registry *Registry
	env      *Env
}

// NewCompleter creates a completer. env may be nil, in which case model
// names are not completed.
func NewCompleter(registry *Registry, env *Env) *Completer {
	return &Completer{registry: registry, env: env}
}

// Complete returns full-line candidates for line, in the shape liner's
// completer expects.
func (c *Completer) Complete(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	if partial := GetPartialCommand(line); partial != "" {
		return c.completeCommands(strings.ToLower(partial))
	}

	name := ExtractCommandName(line)
	cmd := c.registry.Get(strings.ToLower(name))
	if cmd == nil {
		return nil
	}

	// The argument being typed is whatever follows the last space.
	argIndex := len(strings.Fields(line[len(name):]))
	partial := ""
	if !strings.HasSuffix(line, " ") {
		argIndex--
		if i := strings.LastIndexFunc(line, unicode.IsSpace); i >= 0 {
			partial = line[i+1:]
		}
	}
	if argIndex < 0 || argIndex >= len(cmd.Args) {
		return nil
	}
	head := line[:len(line)-len(partial)]

	values := c.argValues(cmd.Args[argIndex], partial)
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = head + v
	}
	return out
}

func (c *Completer) completeCommands(partial string) []string {
	var out []string
	for _, cmd := range c.registry.All() {
		if strings.HasPrefix(cmd.Name, partial) {
			out = append(out, cmd.Name+" ")
		}
	}
	return out
}

func (c *Completer) argValues(arg ArgDef, partial string) []string {
	switch arg.Type {
	case ArgTypeEnum:
		return withPrefix(arg.Values, partial)
	case ArgTypeModel:
		if c.env == nil {
			return nil
		}
		return withPrefix(c.env.CachedModels(context.Background()), partial)
	case ArgTypeFile:
		return completeFiles(partial)
	default:
		return nil
	}
}

func withPrefix(values []string, partial string) []string {
	var out []string
	lower := strings.ToLower(partial)
	for _, v := range values {
		if strings.HasPrefix(strings.ToLower(v), lower) {
			out = append(out, v)
		}
	}
	return out
}

// completeFiles lists paths starting with partial. Directories get a
// trailing separator.
func completeFiles(partial string) []string {
	dir, base := filepath.Split(partial)
	readDir := dir
	if readDir == "" {
		readDir = "."
	}
	entries, err := os.ReadDir(readDir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, base) || (strings.HasPrefix(name, ".") && !strings.HasPrefix(base, ".")) {
			continue
		}
		candidate := dir + name
		if e.IsDir() {
			candidate += string(filepath.Separator)
		}
		out = append(out, candidate)
	}
	sort.Strings(out)
	return out
}
