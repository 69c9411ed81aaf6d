package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTool is returned when a call names a tool outside the
// catalog.
type ErrUnknownTool struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("tool %q does not exist", e.ToolName)
}

var (
	// ErrInvalidArguments marks a call whose arguments are missing,
	// mistyped or reference ids the session does not know.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrPrecondition marks a call that cannot run in the current
	// session state, e.g. a try-on before the user uploaded a photo.
	ErrPrecondition = errors.New("precondition not met")
)

// DiagnosticPrefix starts every failed tool result.
const DiagnosticPrefix = "[ERROR]"

// Diagnostic renders err as the short text the model sees in place of
// a tool result.
func Diagnostic(tool string, err error) string {
	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = "timed out"
	case errors.Is(err, ErrPrecondition), errors.Is(err, ErrInvalidArguments):
		// Drop the sentinel suffix, the detail before it is what matters.
		msg = strings.TrimSuffix(msg, ": "+ErrPrecondition.Error())
		msg = strings.TrimSuffix(msg, ": "+ErrInvalidArguments.Error())
	}
	if tool == "" {
		return DiagnosticPrefix + " " + msg
	}
	return DiagnosticPrefix + " " + tool + ": " + msg
}

func invalidArgs(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArguments)...)
}

func precondition(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrPrecondition)...)
}
