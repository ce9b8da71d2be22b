package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrTransport    = errors.New("transport failure")
	ErrServer       = errors.New("server error")
	ErrNotFound     = errors.New("not found")
	ErrPollTimeout  = errors.New("poll timeout")
	ErrSessionBusy  = errors.New("session busy")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTemporary    = errors.New("temporary failure")
)

const GenericServerMessage = "The server returned an error. Please try again."

// Error carries a plain-language Message next to the classified Kind.
// Err keeps the underlying cause for logs and errors.Is/As.
type Error struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func NewError(kind error, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// UserMessage returns text that is safe to show to an end user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) && strings.TrimSpace(typed.Message) != "" {
		return typed.Message
	}
	switch {
	case IsKind(err, ErrValidation), IsKind(err, ErrInvalidInput):
		return "The selected file cannot be analyzed."
	case IsKind(err, ErrTransport):
		return "Could not reach the analysis service. Check your connection and try again."
	case IsKind(err, ErrNotFound):
		return "The requested analysis could not be found."
	case IsKind(err, ErrPollTimeout):
		return "The analysis is taking longer than expected. Please check again in a moment."
	case IsKind(err, ErrSessionBusy):
		return "Another document is already being analyzed. Wait for it to finish or cancel it first."
	case IsKind(err, ErrUnauthorized):
		return "You are not allowed to perform this action."
	case IsKind(err, ErrTemporary):
		return "The analysis service is temporarily unavailable. Please try again shortly."
	default:
		return GenericServerMessage
	}
}
