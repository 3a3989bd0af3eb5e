// Package apperror carries the error kinds the aggregation engine reports.
package apperror

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// KindStore means a collection read or write failed.
	KindStore Kind = "store"
	// KindParse means a date or month label could not be parsed.
	KindParse Kind = "parse"
	// KindValidation means caller input was rejected before any write.
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Kind == KindStore {
		return err
	}
	return &Error{Kind: KindStore, Op: op, Err: err}
}

func Parse(op string, format string, args ...any) error {
	return &Error{Kind: KindParse, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Validation(op string, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NotFound(op string, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Kind == kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}
