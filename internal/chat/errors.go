// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"

	"github.com/mayankbarode/OpenChat/internal/attachment"
	"github.com/mayankbarode/OpenChat/internal/backend"
	"github.com/mayankbarode/OpenChat/internal/model"
)

// Error variables for controller operations.
var (
	// ErrBusy is returned when an operation needs the controller idle but a
	// request is in flight. Nothing is changed.
	ErrBusy = errors.New("a response is already in progress")

	// ErrCanceled is returned by an operation whose request was cancelled,
	// either with CancelActiveStream or through its context.
	ErrCanceled = errors.New("request canceled")
)

// ValidationError reports a turn that cannot be sent as given.
type ValidationError struct {
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Reason
}

// CredentialMissingError reports a send to a provider that needs an API key
// when none is configured.
type CredentialMissingError struct {
	Provider model.Provider
}

// Error implements the error interface.
func (e *CredentialMissingError) Error() string {
	return fmt.Sprintf("please set your %s API key in settings first", e.Provider.DisplayName())
}

// NotFoundError reports an operation on a message id absent from the session.
type NotFoundError struct {
	MessageID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("message %q not found", e.MessageID)
}

// TransportError wraps a network, HTTP or provider failure that ended a turn.
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return "send failed: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthExpiredError reports that the backend rejected the session token.
type AuthExpiredError struct {
	Err error
}

// Error implements the error interface.
func (e *AuthExpiredError) Error() string {
	return backend.ErrAuthExpired.Error()
}

// Unwrap returns the underlying error.
func (e *AuthExpiredError) Unwrap() error {
	return e.Err
}

// HistoryFetchError reports a failed conversation load.
type HistoryFetchError struct {
	ConversationID string
	Err            error
}

// Error implements the error interface.
func (e *HistoryFetchError) Error() string {
	return fmt.Sprintf("failed to load conversation %s: %v", e.ConversationID, e.Err)
}

// Unwrap returns the underlying error.
func (e *HistoryFetchError) Unwrap() error {
	return e.Err
}

// describe turns a turn failure into the text shown in the session.
func describe(err error) string {
	var apiErr *backend.APIError
	var providerErr *backend.ProviderError
	switch {
	case errors.Is(err, backend.ErrAuthExpired):
		return backend.ErrAuthExpired.Error()
	case errors.As(err, &providerErr):
		return providerErr.Message
	case errors.As(err, &apiErr):
		if apiErr.Detail != "" {
			return apiErr.Detail
		}
		return "Failed to send message"
	default:
		return err.Error()
	}
}

// IsPreflight reports whether err was returned before the turn was added to
// the session, so the caller's input (text and attachment) is still unsent.
func IsPreflight(err error) bool {
	var (
		validation *ValidationError
		credential *CredentialMissingError
		notFound   *NotFoundError
		oversize   *attachment.OversizeError
		badType    *attachment.UnsupportedTypeError
	)
	return errors.Is(err, ErrBusy) ||
		errors.As(err, &validation) ||
		errors.As(err, &credential) ||
		errors.As(err, &notFound) ||
		errors.As(err, &oversize) ||
		errors.As(err, &badType)
}
