package errors

import (
	stdErrors "errors"
	"fmt"
)

type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	CodeUnknownEventType    Code = "UNKNOWN_EVENT_TYPE"
	CodeSerialization       Code = "SERIALIZATION_ERROR"
	CodeStorage             Code = "STORAGE_UNAVAILABLE"
	CodeDelivery            Code = "DELIVERY_FAILED"
	CodeSubscriber          Code = "SUBSCRIBER_FAILED"
	CodeInternal            Code = "INTERNAL_ERROR"
	CodeDependency          Code = "DEPENDENCY_ERROR"
)

// Metadata describes how callers are expected to react to a code.
// WriteFailed separates "state unchanged" failures from delayed notifications.
type Metadata struct {
	Retryable     bool
	WriteFailed   bool
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		Retryable:     false,
		WriteFailed:   true,
		PublicMessage: "validation failed",
	},
	CodeNotFound: {
		Retryable:     false,
		WriteFailed:   false,
		PublicMessage: "resource not found",
	},
	CodeConcurrencyConflict: {
		Retryable:     true,
		WriteFailed:   true,
		PublicMessage: "stream was modified concurrently",
	},
	CodeUnknownEventType: {
		Retryable:     false,
		WriteFailed:   false,
		PublicMessage: "event type is not registered",
	},
	CodeSerialization: {
		Retryable:     false,
		WriteFailed:   true,
		PublicMessage: "event could not be serialized",
	},
	CodeStorage: {
		Retryable:     true,
		WriteFailed:   true,
		PublicMessage: "storage unavailable",
	},
	CodeDelivery: {
		Retryable:     true,
		WriteFailed:   false,
		PublicMessage: "external delivery delayed",
	},
	CodeSubscriber: {
		Retryable:     false,
		WriteFailed:   false,
		PublicMessage: "in-process notification failed",
	},
	CodeInternal: {
		Retryable:     true,
		WriteFailed:   true,
		PublicMessage: "internal error",
	},
	CodeDependency: {
		Retryable:     true,
		WriteFailed:   false,
		PublicMessage: "dependency unavailable",
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of the first coded error in the chain, or CodeInternal.
func CodeOf(err error) Code {
	if te := As(err); te != nil {
		return te.Code()
	}
	return CodeInternal
}

// IsRetryable reports whether the error chain carries a retryable code.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(CodeOf(err)).Retryable
}
