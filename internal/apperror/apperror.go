// Package apperror defines the error taxonomy shared by all request
// handlers and the wire envelope returned to clients.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
)

// ErrorType is the coarse classification carried on the wire envelope.
type ErrorType string

const (
	TypeBadRequest       ErrorType = "BAD_REQUEST"
	TypeValueError       ErrorType = "VALUE_ERROR"
	TypeNotFound         ErrorType = "NOT_FOUND"
	TypeAuthError        ErrorType = "AUTH_ERROR"
	TypeStoreUnavailable ErrorType = "STORE_UNAVAILABLE"
	TypeRemoteService    ErrorType = "REMOTE_SERVICE_ERROR"
	TypeToolError        ErrorType = "TOOL_ERROR"
	TypeServerError      ErrorType = "SERVER_ERROR"
)

// Sentinel errors raised by the core subsystems. Handlers wrap these with
// context; the envelope middleware classifies by errors.Is.
var (
	ErrStoreUnavailable = errors.New("chunk store unavailable")
	ErrSchemaMismatch   = errors.New("chunk store schema mismatch")
	ErrRepoNotIndexed   = errors.New("repository not indexed")
	ErrAuthExpired      = errors.New("auth token expired")
	ErrRateLimited      = errors.New("rate limited by remote service")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyIndexing  = errors.New("indexing already in progress")
)

// Error is a classified error that renders to the wire envelope.
type Error struct {
	Code    string
	Type    ErrorType
	Subtype string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a classified error with no underlying cause.
func New(t ErrorType, code, message string) *Error {
	return &Error{Code: code, Type: t, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(t ErrorType, code string, cause error, message string) *Error {
	return &Error{Code: code, Type: t, Message: message, Cause: cause}
}

// BadRequest is a convenience constructor for malformed payloads.
func BadRequest(message string) *Error {
	return New(TypeBadRequest, "bad_request", message)
}

// Envelope is the bit-exact wire shape clients depend on.
type Envelope struct {
	ErrorCode    string    `json:"error_code"`
	ErrorType    ErrorType `json:"error_type"`
	ErrorSubtype *string   `json:"error_subtype"`
	ErrorMessage string    `json:"error_message"`
	Traceback    string    `json:"traceback"`
}

// Classify maps any error to (HTTP status, envelope). Unrecognized errors
// become SERVER_ERROR with a stack trace for local debugging.
func Classify(err error) (int, Envelope) {
	var appErr *Error
	if errors.As(err, &appErr) {
		env := Envelope{
			ErrorCode:    appErr.Code,
			ErrorType:    appErr.Type,
			ErrorMessage: appErr.Error(),
		}
		if appErr.Subtype != "" {
			s := appErr.Subtype
			env.ErrorSubtype = &s
		}
		return statusFor(appErr.Type), env
	}

	switch {
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrSchemaMismatch):
		return http.StatusInternalServerError, Envelope{
			ErrorCode:    "store_unavailable",
			ErrorType:    TypeStoreUnavailable,
			ErrorMessage: err.Error(),
		}
	case errors.Is(err, ErrRepoNotIndexed):
		return http.StatusBadRequest, Envelope{
			ErrorCode:    "repo_not_indexed",
			ErrorType:    TypeValueError,
			ErrorMessage: err.Error(),
		}
	case errors.Is(err, ErrAuthExpired):
		return http.StatusUnauthorized, Envelope{
			ErrorCode:    "auth_expired",
			ErrorType:    TypeAuthError,
			ErrorMessage: err.Error(),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusBadGateway, Envelope{
			ErrorCode:    "rate_limited",
			ErrorType:    TypeRemoteService,
			ErrorMessage: err.Error(),
		}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, Envelope{
			ErrorCode:    "not_found",
			ErrorType:    TypeNotFound,
			ErrorMessage: err.Error(),
		}
	}

	return http.StatusInternalServerError, Envelope{
		ErrorCode:    "internal_error",
		ErrorType:    TypeServerError,
		ErrorMessage: err.Error(),
		Traceback:    string(debug.Stack()),
	}
}

func statusFor(t ErrorType) int {
	switch t {
	case TypeBadRequest, TypeValueError:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeAuthError:
		return http.StatusUnauthorized
	case TypeRemoteService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
