// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"

	"github.com/mayankbarode/OpenChat/internal/auth"
	"github.com/mayankbarode/OpenChat/internal/backend"
	"github.com/mayankbarode/OpenChat/internal/chat"
	"github.com/mayankbarode/OpenChat/internal/commands"
	"github.com/mayankbarode/OpenChat/internal/config"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates authentication failure or an expired session
	ExitAuthError = 4
	// ExitNetworkError indicates network or connectivity error
	ExitNetworkError = 5
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
)

// GetExitCode determines the exit code for an error returned by a command.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		formErr       *auth.FormError
		validationErr *chat.ValidationError
		usageErr      *commands.UsageError
		configErr     config.ValidateErrors
		configField   config.ValidationError
		transportErr  *chat.TransportError
		notFound      *chat.NotFoundError
		missingKey    *chat.CredentialMissingError
	)
	switch {
	case errors.As(err, &formErr), errors.As(err, &validationErr), errors.As(err, &usageErr):
		return ExitUsageError
	case errors.As(err, &configErr), errors.As(err, &configField), errors.As(err, &missingKey):
		return ExitConfigError
	case errors.Is(err, backend.ErrAuthExpired), errors.Is(err, backend.ErrNotAuthenticated):
		return ExitAuthError
	case errors.Is(err, backend.ErrNotFound), errors.As(err, &notFound):
		return ExitNotFoundError
	case errors.As(err, &transportErr):
		return ExitNetworkError
	default:
		return ExitGeneralError
	}
}
