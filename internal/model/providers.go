// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// =============================================================================
// PROVIDER TYPE
// =============================================================================

// Provider identifies an LLM provider the backend can route a turn to.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderVLLM      Provider = "vllm"
)

// Providers lists every supported provider in display order.
var Providers = []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderVLLM}

// DefaultVLLMBaseURL is the base URL assumed for a local vLLM server.
const DefaultVLLMBaseURL = "http://localhost:8000/v1"

// String returns the wire name of the provider.
func (p Provider) String() string {
	return string(p)
}

// DisplayName returns a human-readable name for the provider.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderAnthropic:
		return "Anthropic"
	case ProviderGemini:
		return "Google Gemini"
	case ProviderVLLM:
		return "vLLM / Local"
	default:
		return string(p)
	}
}

// RequiresAPIKey reports whether turns for this provider need an API key.
// Local vLLM-style servers are exempt.
func (p Provider) RequiresAPIKey() bool {
	return p != ProviderVLLM
}

// UsesBaseURL reports whether the provider is addressed through a custom base URL.
func (p Provider) UsesBaseURL() bool {
	return p == ProviderVLLM
}

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

// ParseProvider converts a user-supplied name into a Provider.
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider %q (supported: openai, anthropic, gemini, vllm)", name)
	}
	return p, nil
}

// =============================================================================
// MODEL CAPABILITIES
// =============================================================================

// visionMarkers are model name fragments that indicate image input support.
var visionMarkers = []string{"vision", "gpt-4o", "gpt-4-turbo", "gemini-1.5", "gemini-2"}

// SupportsVision reports whether a model name suggests image input support.
func SupportsVision(model string) bool {
	model = strings.ToLower(model)
	for _, marker := range visionMarkers {
		if strings.Contains(model, marker) {
			return true
		}
	}
	return false
}

// PickModel keeps selected when the provider offers it and otherwise falls
// back to the first available model. An empty list keeps selected.
func PickModel(available []string, selected string) string {
	if len(available) == 0 {
		return selected
	}
	for _, m := range available {
		if m == selected {
			return selected
		}
	}
	return available[0]
}
