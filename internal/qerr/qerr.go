// Package qerr is the typed failure reporting used across the issuer core.
// Every check failure carries a stable code plus the source location of the
// check that tripped, so on-chain style diagnostics survive error wrapping.
package qerr

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Code identifies the failure class. Codes are stable; diagnostics hang off
// the source location, not the code.
type Code uint32

const (
	CodeInvalidInstruction Code = iota
	CodeInvalidGroupOwner
	CodeGroupNotRentExempt
	CodeAlreadyInitialized
	CodeNotInitialized
	CodeSignerNecessary
	CodeInvalidSignerKey
	CodeInvalidAdminKey
	CodeInvalidAccount
	CodeDuplicateBaseToken
	CodeDuplicateLeverageToken
	CodeBaseTokenNotFound
	CodeRegistryFull
	CodeSlotOccupied
	CodeUnknownOracleType
	CodeMathOverflow
	CodeInvocationFailed
	CodeNotImplemented
)

func (c Code) String() string {
	switch c {
	case CodeInvalidInstruction:
		return "invalid instruction"
	case CodeInvalidGroupOwner:
		return "invalid group owner"
	case CodeGroupNotRentExempt:
		return "group not rent exempt"
	case CodeAlreadyInitialized:
		return "already initialized"
	case CodeNotInitialized:
		return "not initialized"
	case CodeSignerNecessary:
		return "missing required signature"
	case CodeInvalidSignerKey:
		return "invalid derived signer key"
	case CodeInvalidAdminKey:
		return "invalid admin key"
	case CodeInvalidAccount:
		return "invalid account"
	case CodeDuplicateBaseToken:
		return "duplicate base token"
	case CodeDuplicateLeverageToken:
		return "duplicate leverage token"
	case CodeBaseTokenNotFound:
		return "base token not found"
	case CodeRegistryFull:
		return "registry full"
	case CodeSlotOccupied:
		return "registry slot occupied"
	case CodeUnknownOracleType:
		return "unknown oracle type"
	case CodeMathOverflow:
		return "math overflow"
	case CodeInvocationFailed:
		return "cross-module invocation failed"
	case CodeNotImplemented:
		return "not implemented"
	default:
		return fmt.Sprintf("code(%d)", uint32(c))
	}
}

// Error satisfies the error interface so bare codes work with errors.Is
// targets without allocating an *Error.
func (c Code) Error() string { return c.String() }

// Error is one located check failure.
type Error struct {
	Code   Code
	Source string
	Line   int
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%s:%d): %v", e.Code, e.Source, e.Line, e.cause)
	}
	return fmt.Sprintf("%s (%s:%d)", e.Code, e.Source, e.Line)
}

func (e *Error) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return e.Code
}

// Is lets errors.Is match either another *Error with the same code or the
// bare Code sentinel.
func (e *Error) Is(target error) bool {
	if c, ok := target.(Code); ok {
		return e.Code == c
	}
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// New builds a located error at the caller.
func New(code Code) *Error {
	return at(code, nil, 2)
}

// Wrap attaches a collaborator-propagated cause to a located error.
func Wrap(code Code, cause error) *Error {
	return at(code, cause, 2)
}

// Check fails with code when cond is false, tagged with the caller's location.
func Check(cond bool, code Code) error {
	if cond {
		return nil
	}
	return at(code, nil, 2)
}

func at(code Code, cause error, skip int) *Error {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		file, line = "unknown", 0
	}
	return &Error{Code: code, Source: filepath.Base(file), Line: line, cause: cause}
}
