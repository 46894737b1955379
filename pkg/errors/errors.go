package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sort"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode           `json:"code"`
	Status  int                 `json:"-"`
	Message string              `json:"message"`
	Fields  map[string][]string `json:"errors,omitempty"`
	Err     error               `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode is the HTTP status to answer with when the error reaches a handler.
func (e *AppError) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrValidation:
		return http.StatusUnprocessableEntity
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNetwork:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrValidation
	ErrRejected
	ErrNetwork
)

// GenericMessage is shown when nothing more specific is known.
const GenericMessage = "An error occurred. Please try again."

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Status:  http.StatusUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// Validation is a local rejection made before anything is sent upstream.
func Validation(fields map[string]string) *AppError {
	e := &AppError{Code: ErrValidation, Message: "validation failed", Fields: map[string][]string{}}
	for k, v := range fields {
		e.Fields[k] = []string{v}
	}
	return e
}

// FieldError is Validation for a single field.
func FieldError(field, message string) *AppError {
	return &AppError{Code: ErrValidation, Message: message, Fields: map[string][]string{field: {message}}}
}

// Rejected is an upstream answer carrying an error status and body.
func Rejected(status int, message string, fields map[string][]string) *AppError {
	return &AppError{Code: ErrRejected, Status: status, Message: message, Fields: fields}
}

func Network(err error) *AppError {
	return &AppError{Code: ErrNetwork, Message: GenericMessage, Err: err}
}

// Code extracts the code of the first AppError in the chain.
func Code(err error) (ErrorCode, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code, true
	}
	return 0, false
}

func Is(err error, code ErrorCode) bool {
	c, ok := Code(err)
	return ok && c == code
}

// Message picks the text to show a user for err.
func Message(err error, fallback string) string {
	if fallback == "" {
		fallback = GenericMessage
	}
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return fallback
	}
	switch appErr.Code {
	case ErrNetwork, ErrInternal:
		return fallback
	}
	if appErr.Message != "" {
		return appErr.Message
	}
	if msgs := appErr.FieldMessages(); len(msgs) > 0 {
		keys := make([]string, 0, len(msgs))
		for k := range msgs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return msgs[keys[0]]
	}
	return fallback
}

// FieldMessages keeps the first message for each field.
func (e *AppError) FieldMessages() map[string]string {
	out := make(map[string]string, len(e.Fields))
	for k, v := range e.Fields {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// Fields returns per-field messages when err carries them.
func Fields(err error) map[string]string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.FieldMessages()
	}
	return nil
}
