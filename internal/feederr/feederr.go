// Package feederr holds the single failure shape the feed engine surfaces to its callers.
package feederr

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindAuth        Kind = "auth"
	KindRequest     Kind = "request"
	KindValidation  Kind = "validation"
	KindPersistence Kind = "persistence"
)

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrAuth        = &Error{Kind: KindAuth}
	ErrRequest     = &Error{Kind: KindRequest}
	ErrValidation  = &Error{Kind: KindValidation}
	ErrPersistence = &Error{Kind: KindPersistence}
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return fmt.Sprintf("feed %s error", e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("feed %s error: %s", e.Kind, e.Op)
	case e.Op == "":
		return fmt.Sprintf("feed %s error: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("feed %s error: %s: %v", e.Kind, e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Auth(op string, err error) error        { return New(KindAuth, op, err) }
func Request(op string, err error) error     { return New(KindRequest, op, err) }
func Validation(op string, err error) error  { return New(KindValidation, op, err) }
func Persistence(op string, err error) error { return New(KindPersistence, op, err) }

// KindOf returns the kind of the first *Error in the chain, or "" if there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
