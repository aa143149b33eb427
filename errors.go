package main

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures so handlers can pick a status code and a message.
type ErrorKind string

const (
	ErrRemoteQuery      ErrorKind = "remote_query_failure"
	ErrCapabilityDenied ErrorKind = "capability_denied"
	ErrValidation       ErrorKind = "validation_failure"
	ErrMalformedOptions ErrorKind = "malformed_option_data"
	ErrShapeMismatch    ErrorKind = "shape_mismatch"
	ErrNotFound         ErrorKind = "not_found"
	ErrPermission       ErrorKind = "permission_denied"
	ErrInternal         ErrorKind = "internal"
)

// Error is the service error type. Field is set when the failure belongs to one form field.
type Error struct {
	Kind    ErrorKind
	Message string
	Field   string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	base := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Field != "" {
		base = fmt.Sprintf("%s (field=%s)", base, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func WrapError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func ShapeError(fieldID string, msg string) *Error {
	return &Error{Kind: ErrShapeMismatch, Message: msg, Field: fieldID}
}

func NotFoundError(msg string) *Error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

func PermissionError(msg string) *Error {
	return &Error{Kind: ErrPermission, Message: msg}
}

// Violation codes.
const (
	ViolationRequired = "required"
	ViolationInvalid  = "invalid"
)

// FieldViolation is one field that failed validation.
type FieldViolation struct {
	FieldID   string `json:"field_id"`
	FieldName string `json:"field_name"`
	Code      string `json:"code"`
	Detail    string `json:"detail,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ValidationError carries every violation found in one pass.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.FieldName, v.Code))
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

// KindOf reports the ErrorKind of err, or ErrInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return ErrValidation
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}

func asValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
