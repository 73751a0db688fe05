// Package apierr carries an HTTP status and a stable machine code alongside
// an error so handlers can render a consistent envelope.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

type Error struct {
	Status int
	Code   string
	Err    error
	// Details is rendered next to the message (violations, candidates).
	Details any
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err != nil:
		return e.Err.Error()
	case e.Code != "":
		return e.Code
	default:
		return fmt.Sprintf("api error (%d)", e.Status)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.Details = details
	}
	return e
}

func BadRequest(code string, err error) *Error { return New(http.StatusBadRequest, code, err) }
func NotFound(code string, err error) *Error   { return New(http.StatusNotFound, code, err) }

type mapping struct {
	target error
	status int
	code   string
}

var registry struct {
	mu       sync.RWMutex
	mappings []mapping
}

// Register maps every error matching target (via errors.Is) to status and
// code. Earlier registrations win when several targets match.
func Register(target error, status int, code string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	for _, m := range registry.mappings {
		if m.target == target {
			return
		}
	}
	registry.mappings = append(registry.mappings, mapping{target: target, status: status, code: code})
}

// From returns err as an *Error. An *Error already in the chain is returned
// unchanged; a registered sentinel supplies status and code; anything else is
// a 500 with code "internal".
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	for _, m := range registry.mappings {
		if errors.Is(err, m.target) {
			return New(m.status, m.code, err)
		}
	}
	return New(http.StatusInternalServerError, "internal", err)
}
