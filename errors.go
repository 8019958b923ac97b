package json2ubl

import (
	"errors"
	"fmt"
	"maps"
)

// ErrorCode classifies conversion failures
type ErrorCode string

const (
	CodeDocumentType  ErrorCode = "DocumentTypeError"
	CodeMapping       ErrorCode = "MappingError"
	CodeSerialization ErrorCode = "SerializationError"
	CodeSchema        ErrorCode = "SchemaError"
	CodeCache         ErrorCode = "CacheError"
	CodeValidation    ErrorCode = "ValidationError"
	CodeFile          ErrorCode = "FileError"
	CodePermission    ErrorCode = "PermissionError"
	CodeConfig        ErrorCode = "ConfigError"
)

// Sentinels for errors.Is checks by class
var (
	ErrDocumentType  = &Error{Code: CodeDocumentType}
	ErrMapping       = &Error{Code: CodeMapping}
	ErrSerialization = &Error{Code: CodeSerialization}
	ErrSchema        = &Error{Code: CodeSchema}
	ErrCache         = &Error{Code: CodeCache}
	ErrValidation    = &Error{Code: CodeValidation}
	ErrFile          = &Error{Code: CodeFile}
	ErrPermission    = &Error{Code: CodePermission}
	ErrConfig        = &Error{Code: CodeConfig}
)

// Error is a classified conversion error
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error
}

// NewError creates a classified error wrapping err (which may be nil)
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithDetail returns e with key set in its details
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// ErrorResponse is the serialized form of an Error
type ErrorResponse struct {
	ErrorCode string         `json:"error_code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// Response converts e to its serialized form
func (e *Error) Response() *ErrorResponse {
	resp := &ErrorResponse{
		ErrorCode: string(e.Code),
		Message:   e.Message,
		Details:   maps.Clone(e.Details),
	}
	if e.Err != nil {
		if resp.Details == nil {
			resp.Details = make(map[string]any)
		}
		resp.Details["cause"] = e.Err.Error()
	}
	return resp
}

// ResponseFor converts any error; unclassified errors become
// SerializationError responses
func ResponseFor(err error) *ErrorResponse {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Response()
	}
	return &ErrorResponse{ErrorCode: string(CodeSerialization), Message: err.Error()}
}

// CodeOf returns the code of a classified error, or "" otherwise
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
