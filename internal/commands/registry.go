// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"sort"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// Invocation is one parsed command call.
type Invocation struct {
	Name string
	Args []string
	Raw  string // argument text as typed
}

// Result is what a command hands back to the interface that ran it.
type Result struct {
	// Output is text to show the user.
	Output string

	// Quit asks the interface to exit.
	Quit bool
}

// HandlerFunc executes a command.
type HandlerFunc func(ctx context.Context, env *Env, inv Invocation) (Result, error)

// Command represents a slash command that can be executed.
type Command struct {
	// Name is the primary command name (e.g., "/help")
	Name string

	// Aliases are alternative names (e.g., "/h", "/?")
	Aliases []string

	// Description is shown in help and completion
	Description string

	// Usage shows argument syntax (e.g., "/model <name>")
	Usage string

	// Args defines the expected arguments
	Args []ArgDef

	// Handler is the function that executes the command
	Handler HandlerFunc

	// Category for grouping in help display
	Category string
}

// RequiredArgs returns the number of leading required arguments.
func (c *Command) RequiredArgs() int {
	n := 0
	for _, a := range c.Args {
		if !a.Required {
			break
		}
		n++
	}
	return n
}

// ArgDef defines an argument for a command.
type ArgDef struct {
	Name        string
	Required    bool
	Type        ArgType
	Description string
	Values      []string // for ArgTypeEnum
}

// ArgType indicates what kind of completion to provide.
type ArgType int

const (
	ArgTypeString       ArgType = iota // Free-form string
	ArgTypeMessage                     // 1-based message number
	ArgTypeConversation                // Conversation number or title
	ArgTypeFile                        // File path
	ArgTypeEnum                        // One of predefined values
	ArgTypeModel                       // Model name for the current provider
)

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Registry holds all registered commands.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]*Command
}

// NewRegistry creates a new command registry with all built-in commands.
func NewRegistry() *Registry {
	r := &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
	}
	r.registerBuiltins()
	return r
}

// Register adds a command to the registry.
func (r *Registry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[alias] = cmd
	}
}

// Get retrieves a command by name or alias.
func (r *Registry) Get(name string) *Command {
	if cmd, ok := r.commands[name]; ok {
		return cmd
	}
	if cmd, ok := r.aliases[name]; ok {
		return cmd
	}
	return nil
}

// All returns all registered commands sorted by name.
func (r *Registry) All() []*Command {
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// ByCategory returns commands grouped by category.
func (r *Registry) ByCategory() map[string][]*Command {
	result := make(map[string][]*Command)
	for _, cmd := range r.All() {
		category := cmd.Category
		if category == "" {
			category = "General"
		}
		result[category] = append(result[category], cmd)
	}
	return result
}

// categoryOrder is the order categories appear in help.
var categoryOrder = []string{"Conversation", "Messages", "Attachments", "Model", "General"}

// =============================================================================
// BUILT-IN COMMANDS
// =============================================================================

func (r *Registry) registerBuiltins() {
	messageArg := ArgDef{Name: "n", Required: true, Type: ArgTypeMessage, Description: "Message number"}

	// Conversation commands
	r.Register(&Command{
		Name:        "/new",
		Aliases:     []string{"/n"},
		Description: "Start a new chat",
		Category:    "Conversation",
		Handler:     handleNew,
	})
	r.Register(&Command{
		Name:        "/list",
		Aliases:     []string{"/ls"},
		Description: "List your conversations",
		Usage:       "/list [filter]",
		Args:        []ArgDef{{Name: "filter", Type: ArgTypeString, Description: "Fuzzy title filter"}},
		Category:    "Conversation",
		Handler:     handleList,
	})
	r.Register(&Command{
		Name:        "/open",
		Aliases:     []string{"/o"},
		Description: "Open a conversation by number or title",
		Usage:       "/open <n|title>",
		Args:        []ArgDef{{Name: "conversation", Required: true, Type: ArgTypeConversation}},
		Category:    "Conversation",
		Handler:     handleOpen,
	})
	r.Register(&Command{
		Name:        "/rename",
		Description: "Rename the current conversation",
		Usage:       "/rename <title>",
		Args:        []ArgDef{{Name: "title", Required: true, Type: ArgTypeString}},
		Category:    "Conversation",
		Handler:     handleRename,
	})
	r.Register(&Command{
		Name:        "/remove",
		Aliases:     []string{"/rm"},
		Description: "Delete a conversation (default: the current one)",
		Usage:       "/remove [n|title]",
		Args:        []ArgDef{{Name: "conversation", Type: ArgTypeConversation}},
		Category:    "Conversation",
		Handler:     handleRemove,
	})
	r.Register(&Command{
		Name:        "/export",
		Aliases:     []string{"/e"},
		Description: "Export the current chat to a file",
		Usage:       "/export <markdown|json|yaml> [path]",
		Args: []ArgDef{
			{Name: "format", Required: true, Type: ArgTypeEnum, Values: []string{"markdown", "json", "yaml"}},
			{Name: "path", Type: ArgTypeFile},
		},
		Category: "Conversation",
		Handler:  handleExport,
	})

	// Message commands
	r.Register(&Command{
		Name:        "/retry",
		Aliases:     []string{"/r"},
		Description: "Regenerate from message n",
		Usage:       "/retry [n]",
		Args:        []ArgDef{{Name: "n", Type: ArgTypeMessage, Description: "Message number (default: last reply)"}},
		Category:    "Messages",
		Handler:     handleRetry,
	})
	r.Register(&Command{
		Name:        "/edit",
		Description: "Replace message n and resend",
		Usage:       "/edit <n> <text>",
		Args:        []ArgDef{messageArg, {Name: "text", Required: true, Type: ArgTypeString}},
		Category:    "Messages",
		Handler:     handleEdit,
	})
	r.Register(&Command{
		Name:        "/delete",
		Aliases:     []string{"/del"},
		Description: "Remove message n from this chat",
		Usage:       "/delete <n>",
		Args:        []ArgDef{messageArg},
		Category:    "Messages",
		Handler:     handleDelete,
	})
	r.Register(&Command{
		Name:        "/copy",
		Aliases:     []string{"/c"},
		Description: "Copy a message, or its code blocks, to the clipboard",
		Usage:       "/copy [n] [code]",
		Args: []ArgDef{
			{Name: "n", Type: ArgTypeMessage, Description: "Message number (default: last reply)"},
			{Name: "what", Type: ArgTypeEnum, Values: []string{"code"}},
		},
		Category: "Messages",
		Handler:  handleCopy,
	})
	r.Register(&Command{
		Name:        "/cancel",
		Aliases:     []string{"/stop"},
		Description: "Stop the reply being generated",
		Category:    "Messages",
		Handler:     handleCancel,
	})

	// Attachment commands
	r.Register(&Command{
		Name:        "/attach",
		Aliases:     []string{"/a"},
		Description: "Attach an image to the next message",
		Usage:       "/attach <path>",
		Args:        []ArgDef{{Name: "path", Required: true, Type: ArgTypeFile}},
		Category:    "Attachments",
		Handler:     handleAttach,
	})
	r.Register(&Command{
		Name:        "/detach",
		Description: "Drop the pending attachment",
		Category:    "Attachments",
		Handler:     handleDetach,
	})

	// Model commands
	r.Register(&Command{
		Name:        "/provider",
		Aliases:     []string{"/p"},
		Description: "Show or switch the provider",
		Usage:       "/provider [openai|anthropic|gemini|vllm]",
		Args: []ArgDef{
			{Name: "provider", Type: ArgTypeEnum, Values: []string{"openai", "anthropic", "gemini", "vllm"}},
		},
		Category: "Model",
		Handler:  handleProvider,
	})
	r.Register(&Command{
		Name:        "/model",
		Aliases:     []string{"/m"},
		Description: "Show or switch the model",
		Usage:       "/model [name]",
		Args:        []ArgDef{{Name: "name", Type: ArgTypeModel}},
		Category:    "Model",
		Handler:     handleModel,
	})
	r.Register(&Command{
		Name:        "/models",
		Description: "List the provider's models",
		Usage:       "/models [refresh]",
		Args:        []ArgDef{{Name: "refresh", Type: ArgTypeEnum, Values: []string{"refresh"}}},
		Category:    "Model",
		Handler:     handleModels,
	})

	// General
	r.Register(&Command{
		Name:        "/help",
		Aliases:     []string{"/h", "/?"},
		Description: "Show available commands",
		Usage:       "/help [command]",
		Args:        []ArgDef{{Name: "command", Type: ArgTypeString}},
		Category:    "General",
		Handler:     r.handleHelp,
	})
	r.Register(&Command{
		Name:        "/quit",
		Aliases:     []string{"/q", "/exit"},
		Description: "Exit",
		Category:    "General",
		Handler:     handleQuit,
	})
}

// Names returns every command name and alias, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.commands)+len(r.aliases))
	for name := range r.commands {
		names = append(names, name)
	}
	for alias := range r.aliases {
		names = append(names, alias)
	}
	sort.Strings(names)
	return names
}
