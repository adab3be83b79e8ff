// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes a chat session to Markdown, JSON or YAML.
//
// # Usage
//
//	doc := export.NewDocument(snap.ConversationID, title, snap.Messages, nil)
//	exporter, err := export.ForFormat("markdown", nil)
//	if err != nil {
//	    return err
//	}
//	path, err := export.ExportToFile(doc, exporter, ".")
package export
