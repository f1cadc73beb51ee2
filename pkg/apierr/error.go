package apierr

import "fmt"

// Error is an API failure: a stable code, the HTTP status it maps to, a
// message for the caller and, for validation failures, the offending request
// field and value. The cause is logged but never written to the client.
type Error struct {
	code    Code
	status  int
	message string
	field   string
	value   any
	cause   error
}

// New returns an Error with no cause.
func New(code Code, status int, message string) *Error {
	return &Error{code: code, status: status, message: message}
}

// Wrap returns an Error carrying cause for logs and errors.Is.
func Wrap(code Code, status int, message string, cause error) *Error {
	return &Error{code: code, status: status, message: message, cause: cause}
}

// WithField returns a copy of e that names the request field at fault and
// the value that was rejected. value may be nil.
func (e *Error) WithField(field string, value any) *Error {
	c := *e
	c.field, c.value = field, value
	return &c
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.code, e.message)
	if e.field != "" {
		s += " [" + e.field + "]"
	}
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error   { return e.cause }
func (e *Error) Code() Code      { return e.code }
func (e *Error) Message() string { return e.message }
func (e *Error) Status() int     { return e.status }

// Field is the request field a validation error refers to, or "".
func (e *Error) Field() string { return e.field }

// ErrorResponse is the JSON envelope: {"error": {...}}.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries field and value only for validation errors.
type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Value   any    `json:"value,omitempty"`
}

func (e *Error) Response() ErrorResponse {
	return ErrorResponse{Error: ErrorBody{
		Code:    e.code,
		Message: e.message,
		Field:   e.field,
		Value:   e.value,
	}}
}
