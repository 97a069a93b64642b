package group

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for transport mapping.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Code is a stable machine-readable error code.
type Code string

// Error codes.
const (
	CodeValidation        Code = "VALIDATION_FAILED"
	CodeSessionNotFound   Code = "SESSION_NOT_FOUND"
	CodeVariantNotFound   Code = "VARIANT_NOT_FOUND"
	CodeNotMember         Code = "NOT_A_MEMBER"
	CodeNotLeader         Code = "NOT_LEADER"
	CodeAlreadyJoined     Code = "ALREADY_JOINED"
	CodeTokenExhausted    Code = "TOKEN_EXHAUSTED"
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeVariantInactive   Code = "VARIANT_INACTIVE"
	CodeInternal          Code = "INTERNAL"
)

// Error is a classified domain error. Message is safe to show to callers.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the Code of err, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func validation(msg string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: msg}
}

func invalid(code Code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

func notFound(code Code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

func forbidden(code Code, msg string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: msg}
}

func conflict(code Code, msg string, err error) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg, Err: err}
}
