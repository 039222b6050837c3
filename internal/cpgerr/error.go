// Package cpgerr implements the error taxonomy of spec.md §7: every error
// the core raises carries a stable machine-readable Kind plus an optional
// file/function locator, and is recovered locally rather than aborting a
// batch (spec.md §7 Propagation policy).
package cpgerr

import "fmt"

// Kind is one of the six error categories spec.md §7 names.
type Kind string

const (
	KindParse      Kind = "parse_error"
	KindAnalysis   Kind = "analysis_error"
	KindResolution Kind = "resolution_error"
	KindResource   Kind = "resource_error"
	KindStorage    Kind = "storage_error"
	KindQuery      Kind = "query_error"
)

// Locator identifies where an error occurred, for file- or function-scoped
// errors. Zero value means "no locator" (e.g. a storage_error).
type Locator struct {
	File     string
	Line     int
	Column   int
	Module   string
	Function string
	Arity    int
}

func (l Locator) String() string {
	switch {
	case l.Function != "":
		return fmt.Sprintf("%s.%s/%d", l.Module, l.Function, l.Arity)
	case l.File != "" && l.Line > 0:
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	case l.File != "":
		return l.File
	default:
		return ""
	}
}

// Error is the single error type used across the core packages.
type Error struct {
	Kind    Kind
	Locator Locator
	Message string
	Cause   error
}

func New(kind Kind, loc Locator, msg string) *Error {
	return &Error{Kind: kind, Locator: loc, Message: msg}
}

func Wrap(kind Kind, loc Locator, msg string, cause error) *Error {
	return &Error{Kind: kind, Locator: loc, Message: msg, Cause: cause}
}

func (e *Error) Error() string {
	loc := e.Locator.String()
	if loc == "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, loc, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, loc, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf returns the Kind of the first *Error found in err's Unwrap chain,
// and false if the chain holds none.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	for err != nil {
		if c, ok := err.(*Error); ok {
			ce = c
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ce == nil {
		return "", false
	}
	return ce.Kind, true
}
