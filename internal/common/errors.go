package common

import (
	"errors"
	"net/http"
)

// Kind classifies an application error per the checkout error taxonomy.
type Kind string

const (
	// KindValidation covers recoverable input problems: bad coupon codes,
	// invalid shipping or payment methods, malformed condition payloads.
	KindValidation Kind = "validation"
	// KindStateConflict covers illegal lifecycle transitions and lost
	// optimistic-update races. No partial mutation occurs.
	KindStateConflict Kind = "state_conflict"
	// KindExternal covers collaborator failures (payment gateway); the order
	// remains in its prior state and the call may be retried.
	KindExternal Kind = "external"
	// KindConfiguration covers operator mistakes rejected at the authoring
	// boundary, e.g. a removable included tax on a non-default zone.
	KindConfiguration Kind = "configuration"
)

// AppError represents an error with an attached kind, code, and HTTP status.
type AppError struct {
	Kind       Kind
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewValidation constructs a validation error.
func NewValidation(code, message string, err error) *AppError {
	return &AppError{Kind: KindValidation, Code: code, Message: message, HTTPStatus: http.StatusUnprocessableEntity, Err: err}
}

// NewStateConflict constructs a state-conflict error.
func NewStateConflict(code, message string, err error) *AppError {
	return &AppError{Kind: KindStateConflict, Code: code, Message: message, HTTPStatus: http.StatusConflict, Err: err}
}

// NewExternal constructs an external-collaborator error.
func NewExternal(code, message string, err error) *AppError {
	return &AppError{Kind: KindExternal, Code: code, Message: message, HTTPStatus: http.StatusBadGateway, Err: err}
}

// NewConfiguration constructs a configuration error.
func NewConfiguration(code, message string, err error) *AppError {
	return &AppError{Kind: KindConfiguration, Code: code, Message: message, HTTPStatus: http.StatusBadRequest, Err: err}
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var target *AppError
	if !errors.As(err, &target) {
		return false
	}
	return target.Kind == kind
}

// AsAppError extracts the AppError from err, if any.
func AsAppError(err error) (*AppError, bool) {
	var target *AppError
	ok := errors.As(err, &target)
	return target, ok
}
