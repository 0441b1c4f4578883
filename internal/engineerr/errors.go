// Package engineerr defines the typed failures surfaced by the compilation
// engine. Every failure carries a Kind, a JSON pointer into the input document,
// a human readable message and an optional cause.
package engineerr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// Kind classifies an engine failure. Kind implements error so that callers can
// match on it with errors.Is(err, engineerr.TypeMismatch).
type Kind string

const (
	ParseError               Kind = "ParseError"
	UnresolvedComponent      Kind = "UnresolvedComponent"
	PresetReassignsComponent Kind = "PresetReassignsComponent"
	InvalidPreset            Kind = "InvalidPreset"
	UnknownParam             Kind = "UnknownParam"
	MissingParam             Kind = "MissingParam"
	TypeMismatch             Kind = "TypeMismatch"
	AmbiguousParam           Kind = "AmbiguousParam"
	BadReference             Kind = "BadReference"
	UnresolvedRef            Kind = "UnresolvedRef"
	CircularReference        Kind = "CircularReference"
	InvalidConnection        Kind = "InvalidConnection"
	InvalidSchedule          Kind = "InvalidSchedule"
	InvalidCron              Kind = "InvalidCron"
	InvalidInterval          Kind = "InvalidInterval"
	InvalidMatrix            Kind = "InvalidMatrix"
	InvalidJoin              Kind = "InvalidJoin"
	InvalidField             Kind = "InvalidField"
	Cancelled                Kind = "Cancelled"
)

func (k Kind) Error() string { return string(k) }

// Error is the single failure type returned across the engine boundary.
type Error struct {
	Kind    Kind
	Path    string
	Message string
	Cause   error
}

// New builds an Error with a formatted message.
func New(kind Kind, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that records cause as the underlying failure.
func Wrap(kind Kind, path string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Path != "" {
		b.WriteString(" at ")
		b.WriteString(e.Path)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is this error's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

type errorJSON struct {
	Kind    Kind   `json:"kind"`
	Path    string `json:"path"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// MarshalJSON renders the error for the CLI layer.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := errorJSON{Kind: e.Kind, Path: e.Path, Message: e.Message}
	if e.Cause != nil {
		out.Cause = e.Cause.Error()
	}
	return sonic.Marshal(out)
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// PathOf returns the JSON pointer of the first *Error in err's chain.
func PathOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Path
	}
	return ""
}

// Under prefixes the path of an *Error with the given pointer. Errors of any
// other type are returned unchanged. The input error is not modified.
func Under(prefix string, err error) error {
	if err == nil || prefix == "" {
		return err
	}
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	cp := *e
	cp.Path = prefix + e.Path
	return &cp
}
