// Package errors provides the classified error taxonomy shared by the router,
// socket router, and client dispatcher. It includes error classification,
// standard error variables, typed errors carrying structured validation data,
// and helper functions for consistent wrapping and classification.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes.
type ErrorClass int

const (
	// ErrorValidation represents request-side validation failures. These are
	// caller errors and surface as 400-class results.
	ErrorValidation ErrorClass = iota
	// ErrorResponseValidation represents a server-side contract violation:
	// the application handler produced a response that fails its declared
	// schema. Treated as a programming error (500-class).
	ErrorResponseValidation
	// ErrorNotFound represents a request that matched no contract entry
	// (404-class).
	ErrorNotFound
	// ErrorTransport represents network-level failures: the request never
	// completed, distinct from any response the server produced.
	ErrorTransport
	// ErrorDeclared represents a status code the contract explicitly
	// enumerates as an error response. The server returned it on purpose.
	ErrorDeclared
	// ErrorInternal represents unclassified server-side failures (500-class).
	ErrorInternal
)

// String returns the string representation of ErrorClass.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorValidation:
		return "validation"
	case ErrorResponseValidation:
		return "response_validation"
	case ErrorNotFound:
		return "not_found"
	case ErrorTransport:
		return "transport"
	case ErrorDeclared:
		return "declared"
	case ErrorInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions.
var (
	// Contract construction errors
	ErrUnknownEndpointKind = errors.New("unknown endpoint kind")
	ErrDuplicateEndpoint   = errors.New("duplicate endpoint name")
	ErrStatusOverlap       = errors.New("status code declared in both responses and error responses")
	ErrMissingSchema       = errors.New("missing required schema")

	// Dispatch errors
	ErrRouteNotFound     = errors.New("route not found")
	ErrEndpointNotFound  = errors.New("endpoint not found in contract")
	ErrMethodNotAllowed  = errors.New("method not allowed")
	ErrHandlerMissing    = errors.New("no handler registered for endpoint")
	ErrKindMismatch      = errors.New("handler kind does not match endpoint kind")
	ErrNonEmptyNoContent = errors.New("204 response must not carry a body")

	// Stream and socket lifecycle errors
	ErrEmitterClosed    = errors.New("emitter is closed")
	ErrConnectionClosed = errors.New("connection closed")
	ErrInvalidEnvelope  = errors.New("invalid message envelope")
	ErrUnknownMessage   = errors.New("unknown message type")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// Part identifies which piece of a request failed validation.
type Part string

// Request parts carrying an optional schema.
const (
	PartParams  Part = "params"
	PartQuery   Part = "query"
	PartHeaders Part = "headers"
	PartBody    Part = "body"
	PartMessage Part = "message"
	PartChunk   Part = "chunk"
	PartEvent   Part = "event"
)

// Issue is one structured validation problem reported by the schema
// capability.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError reports that one request part failed its declared schema.
// It always names the part and carries the full issue list.
type ValidationError struct {
	Part   Part    `json:"part"`
	Issues []Issue `json:"issues"`
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	if len(ve.Issues) == 0 {
		return fmt.Sprintf("validation failed: %s", ve.Part)
	}
	msgs := make([]string, len(ve.Issues))
	for i, issue := range ve.Issues {
		if issue.Path != "" {
			msgs[i] = fmt.Sprintf("%s: %s", issue.Path, issue.Message)
		} else {
			msgs[i] = issue.Message
		}
	}
	return fmt.Sprintf("validation failed: %s: %s", ve.Part, strings.Join(msgs, "; "))
}

// NewValidationError creates a part-tagged validation error.
func NewValidationError(part Part, issues []Issue) *ValidationError {
	return &ValidationError{Part: part, Issues: issues}
}

// ResponseValidationError reports that an application handler produced a
// response body violating the schema declared for its status code.
type ResponseValidationError struct {
	Status int     `json:"status"`
	Issues []Issue `json:"issues"`
}

// Error implements the error interface.
func (rve *ResponseValidationError) Error() string {
	return fmt.Sprintf("response validation failed: status %d: %d issue(s)", rve.Status, len(rve.Issues))
}

// DeclaredError is raised on the client when the server returns a status code
// the contract enumerates as an error response. It is distinguishable from a
// transport failure: the server explicitly produced this result, and Payload
// has already been validated against the declared error schema.
type DeclaredError struct {
	Endpoint string
	Status   int
	Payload  any
}

// Error implements the error interface.
func (de *DeclaredError) Error() string {
	return fmt.Sprintf("%s: declared error response: status %d", de.Endpoint, de.Status)
}

// TransportError reports that a request never completed: dial failure, broken
// connection, aborted context. It is never used for responses the server
// actually produced.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (te *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s: %v", te.Op, te.Err)
}

// Unwrap returns the underlying error.
func (te *TransportError) Unwrap() error { return te.Err }

// ClassifiedError wraps an error with its classification.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsValidation checks if an error is a request validation failure.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorValidation
	}
	return false
}

// IsResponseValidation checks if an error is a server-side contract violation.
func IsResponseValidation(err error) bool {
	if err == nil {
		return false
	}
	var rve *ResponseValidationError
	if errors.As(err, &rve) {
		return true
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorResponseValidation
	}
	return false
}

// IsNotFound checks if an error is a route or endpoint miss.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRouteNotFound) || errors.Is(err, ErrEndpointNotFound) {
		return true
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorNotFound
	}
	return false
}

// IsTransport checks if an error means the request never completed.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransport
	}
	return false
}

// IsDeclared checks if an error is a contract-enumerated error response.
func IsDeclared(err error) bool {
	if err == nil {
		return false
	}
	var de *DeclaredError
	return errors.As(err, &de)
}

// AsDeclared extracts the DeclaredError from an error chain, if present.
func AsDeclared(err error) (*DeclaredError, bool) {
	var de *DeclaredError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// AsValidation extracts the ValidationError from an error chain, if present.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// Classify returns the error class for an error.
func Classify(err error) ErrorClass {
	switch {
	case IsValidation(err):
		return ErrorValidation
	case IsResponseValidation(err):
		return ErrorResponseValidation
	case IsNotFound(err):
		return ErrorNotFound
	case IsDeclared(err):
		return ErrorDeclared
	case IsTransport(err):
		return ErrorTransport
	default:
		return ErrorInternal
	}
}

// newClassified creates a new classified error.
// This is an internal helper - use the Wrap* constructors instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapInvalid wraps an error as a validation failure with context.
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorValidation, wrappedErr, component, method, wrappedErr.Error())
}

// WrapNotFound wraps an error as a routing miss with context.
func WrapNotFound(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorNotFound, wrappedErr, component, method, wrappedErr.Error())
}

// WrapTransport wraps an error as a transport failure with context.
func WrapTransport(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransport, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInternal wraps an error as an internal failure with context.
func WrapInternal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInternal, wrappedErr, component, method, wrappedErr.Error())
}

// HTTPStatus maps an error class to the HTTP status family used on the wire.
func HTTPStatus(err error) int {
	if de, ok := AsDeclared(err); ok {
		return de.Status
	}
	switch Classify(err) {
	case ErrorValidation:
		return 400
	case ErrorNotFound:
		return 404
	case ErrorResponseValidation, ErrorInternal:
		return 500
	case ErrorTransport:
		return 502
	default:
		return 500
	}
}
