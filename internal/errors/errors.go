// internal/errors/errors.go
package errors

import (
	stderrors "errors"
	"strings"
)

type Kind string

const (
	KindNotFound       Kind = "NOT_FOUND"
	KindConflict       Kind = "CONFLICT"
	KindEmptyOperation Kind = "EMPTY_OPERATION"
	KindCorruption     Kind = "CORRUPTION"
	KindIOFailure      Kind = "IO_FAILURE"
	KindValidation     Kind = "VALIDATION"
)

// Error is the error type returned by every core operation. Project, Record
// and Path carry whatever context was known where the error was raised.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Project string `json:"project,omitempty"`
	Record  string `json:"record,omitempty"`
	Path    string `json:"path,omitempty"`
	Err     error  `json:"-"`
}

// Sentinels for errors.Is comparisons. They match any *Error of the same Kind.
var (
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrEmptyOperation = &Error{Kind: KindEmptyOperation}
	ErrCorruption     = &Error{Kind: KindCorruption}
	ErrIOFailure      = &Error{Kind: KindIOFailure}
	ErrValidation     = &Error{Kind: KindValidation}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)

	var ctx []string
	if e.Project != "" {
		ctx = append(ctx, "project="+e.Project)
	}
	if e.Record != "" {
		ctx = append(ctx, "record="+e.Record)
	}
	if e.Path != "" {
		ctx = append(ctx, "path="+e.Path)
	}
	if len(ctx) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(ctx, " "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// The With methods return a copy so the sentinels above are never modified.

func (e *Error) WithProject(name string) *Error {
	c := *e
	c.Project = name
	return &c
}

func (e *Error) WithRecord(id string) *Error {
	c := *e
	c.Record = id
	return &c
}

func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func EmptyOperation(message string) *Error {
	return &Error{Kind: KindEmptyOperation, Message: message}
}

func Corruption(message string) *Error {
	return &Error{Kind: KindCorruption, Message: message}
}

func IOFailure(message string, err error) *Error {
	return &Error{Kind: KindIOFailure, Message: message, Err: err}
}

func ValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is is a convenience for errors.Is(err, &Error{Kind: kind}).
func Is(err error, kind Kind) bool {
	return stderrors.Is(err, &Error{Kind: kind})
}
