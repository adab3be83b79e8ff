// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinPasswordLength is the shortest password accepted at signup.
const MinPasswordLength = 6

// MinCheckedUsernameLength is the shortest username whose availability is
// looked up.
const MinCheckedUsernameLength = 3

// Strength grades a password for display.
type Strength int

const (
	StrengthNone Strength = iota
	StrengthWeak
	StrengthMedium
	StrengthStrong
)

// String returns the label shown next to the password field.
func (s Strength) String() string {
	switch s {
	case StrengthWeak:
		return "weak"
	case StrengthMedium:
		return "medium"
	case StrengthStrong:
		return "strong"
	default:
		return ""
	}
}

// PasswordStrength grades a password. Shorter than MinPasswordLength is weak;
// eight or more characters with an upper-case letter and a digit is strong.
func PasswordStrength(password string) Strength {
	n := utf8.RuneCountInString(password)
	switch {
	case n == 0:
		return StrengthNone
	case n < MinPasswordLength:
		return StrengthWeak
	case n >= 8 && strings.IndexFunc(password, unicode.IsUpper) >= 0 &&
		strings.IndexFunc(password, unicode.IsDigit) >= 0:
		return StrengthStrong
	default:
		return StrengthMedium
	}
}

// FormError reports a field of a login or signup form that failed local
// validation. No request is made.
type FormError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *FormError) Error() string {
	return e.Reason
}

// SignupForm is the input to Manager.Signup.
type SignupForm struct {
	Username string
	Email    string
	Password string
	Confirm  string
}

// Validate checks the form in the order the fields are presented.
func (f SignupForm) Validate() error {
	if strings.TrimSpace(f.Username) == "" {
		return &FormError{Field: "username", Reason: "username is required"}
	}
	if f.Password == "" || f.Confirm == "" {
		return &FormError{Field: "password", Reason: "password and confirmation are required"}
	}
	return validateNewPassword(f.Password, f.Confirm)
}

func validateNewPassword(password, confirm string) error {
	if password != confirm {
		return &FormError{Field: "confirm", Reason: "passwords do not match"}
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return &FormError{Field: "password", Reason: "password must be at least 6 characters"}
	}
	return nil
}

func validateLogin(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return &FormError{Field: "username", Reason: "username is required"}
	}
	if password == "" {
		return &FormError{Field: "password", Reason: "password is required"}
	}
	return nil
}
