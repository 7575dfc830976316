// Package router implements the server side of the contract: it matches an
// inbound HTTP request to an endpoint, validates its parts, invokes the
// application handler, and serializes a protocol-correct response or stream
// for each of the four endpoint kinds.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ricsam/richie-rpc-sub000/contract"
	"github.com/ricsam/richie-rpc-sub000/errors"
	"github.com/ricsam/richie-rpc-sub000/metric"
)

// DefaultMaxBodyBytes caps request body reads unless overridden.
const DefaultMaxBodyBytes int64 = 32 << 20 // 32 MiB

// Request carries the validated parts of one matched request into an
// application handler. Handlers never see parts that failed validation.
type Request struct {
	// Endpoint is the contract name the request matched.
	Endpoint string
	// Params, Query, Headers, Body are the parsed (and, where a schema is
	// declared, validated) request parts.
	Params  any
	Query   any
	Headers any
	Body    any
	// HTTP is the underlying request, for escape hatches like reading the
	// remote address. Its body has already been consumed.
	HTTP *http.Request
	// RequestID is the X-Request-ID header value or a generated identifier.
	RequestID string
	// Logger is scoped to this request (endpoint and request id attached).
	Logger *slog.Logger
}

// Response is what a standard endpoint handler returns.
type Response struct {
	Status int
	Body   any
	// Header entries are copied onto the response verbatim. A Content-Type
	// set here suppresses the JSON default.
	Header http.Header
}

// StandardHandler handles a request/response endpoint.
type StandardHandler func(ctx context.Context, req *Request) (*Response, error)

// StreamHandler drives a streaming endpoint through its emitter. Returning a
// non-nil error after chunks were sent closes the stream without a final
// frame.
type StreamHandler func(ctx context.Context, req *Request, em *StreamEmitter) error

// SSEHandler drives an SSE endpoint. The returned cleanup function, if any,
// runs exactly once when the response ends: natural close, handler error, or
// client disconnect. ctx is canceled on disconnect.
type SSEHandler func(ctx context.Context, req *Request, em *SSEEmitter) (cleanup func(), err error)

// DownloadHandler handles a download endpoint.
type DownloadHandler func(ctx context.Context, req *Request) (*DownloadResponse, error)

// Router owns the endpoint table and dispatches inbound requests to the four
// handler kinds. The table is read-only after construction; Routers are safe
// for concurrent use.
type Router struct {
	contract *contract.Contract

	standard  map[string]StandardHandler
	streaming map[string]StreamHandler
	sse       map[string]SSEHandler
	download  map[string]DownloadHandler

	logger       *slog.Logger
	metrics      *metric.Registry
	maxBodyBytes int64
	notFound     http.Handler
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Router) { rt.logger = logger }
}

// WithMetrics attaches a metrics registry. Nil (the default) disables
// metrics.
func WithMetrics(registry *metric.Registry) Option {
	return func(rt *Router) { rt.metrics = registry }
}

// WithMaxBodyBytes overrides the request body size limit.
func WithMaxBodyBytes(n int64) Option {
	return func(rt *Router) { rt.maxBodyBytes = n }
}

// WithNotFoundHandler overrides the response for requests matching no
// contract entry.
func WithNotFoundHandler(h http.Handler) Option {
	return func(rt *Router) { rt.notFound = h }
}

// New creates a Router over a contract. Handlers are registered per endpoint
// with Standard, Streaming, SSE, and Download before serving.
func New(c *contract.Contract, opts ...Option) *Router {
	rt := &Router{
		contract:     c,
		standard:     make(map[string]StandardHandler),
		streaming:    make(map[string]StreamHandler),
		sse:          make(map[string]SSEHandler),
		download:     make(map[string]DownloadHandler),
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Standard registers the handler for a standard endpoint.
func (rt *Router) Standard(name string, h StandardHandler) error {
	if err := rt.checkKind(name, contract.KindStandard); err != nil {
		return err
	}
	rt.standard[name] = h
	return nil
}

// Streaming registers the handler for a streaming endpoint.
func (rt *Router) Streaming(name string, h StreamHandler) error {
	if err := rt.checkKind(name, contract.KindStreaming); err != nil {
		return err
	}
	rt.streaming[name] = h
	return nil
}

// SSE registers the handler for an SSE endpoint.
func (rt *Router) SSE(name string, h SSEHandler) error {
	if err := rt.checkKind(name, contract.KindSSE); err != nil {
		return err
	}
	rt.sse[name] = h
	return nil
}

// Download registers the handler for a download endpoint.
func (rt *Router) Download(name string, h DownloadHandler) error {
	if err := rt.checkKind(name, contract.KindDownload); err != nil {
		return err
	}
	rt.download[name] = h
	return nil
}

func (rt *Router) checkKind(name string, want contract.Kind) error {
	ep, ok := rt.contract.Get(name)
	if !ok {
		return errors.WrapNotFound(errors.ErrEndpointNotFound, "Router", "register", name)
	}
	if ep.Kind != want {
		return errors.WrapInvalid(errors.ErrKindMismatch, "Router", "register",
			fmt.Sprintf("endpoint %q is %s, handler is %s", name, ep.Kind, want))
	}
	return nil
}

// ServeHTTP implements http.Handler. Matching walks contract entries in
// declaration order; the first entry whose method and path both match wins.
func (rt *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	started := time.Now()

	name, ep, captures, ok := rt.match(req.Method, req.URL.Path)
	if !ok {
		rt.handleNotFound(w, req)
		return
	}

	requestID := req.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	logger := rt.logger.With(
		slog.String("endpoint", name),
		slog.String("kind", ep.Kind.String()),
		slog.String("request_id", requestID),
	)

	parsed, err := parseAndValidate(req, ep, captures, rt.maxBodyBytes)
	if err != nil {
		if ve, isValidation := errors.AsValidation(err); isValidation {
			rt.metrics.ObserveValidationFailure(name, string(ve.Part))
		}
		logger.Warn("request validation failed", slog.String("error", err.Error()))
		status := errors.HTTPStatus(err)
		writeErrorResponse(w, status, err)
		rt.metrics.ObserveRequest(name, ep.Kind.String(), status, time.Since(started))
		return
	}

	r := &Request{
		Endpoint:  name,
		Params:    parsed.Params,
		Query:     parsed.Query,
		Headers:   parsed.Headers,
		Body:      parsed.Body,
		HTTP:      req,
		RequestID: requestID,
		Logger:    logger,
	}

	var status int
	switch ep.Kind {
	case contract.KindStandard:
		status = rt.serveStandard(w, req, name, ep, r)
	case contract.KindStreaming:
		status = rt.serveStreaming(w, req, name, ep, r)
	case contract.KindSSE:
		status = rt.serveSSE(w, req, name, ep, r)
	case contract.KindDownload:
		status = rt.serveDownload(w, req, name, ep, r)
	default:
		// Contract construction rejects unknown kinds; reaching this is a
		// programming error.
		writeErrorResponse(w, http.StatusInternalServerError, errors.ErrUnknownEndpointKind)
		status = http.StatusInternalServerError
	}

	rt.metrics.ObserveRequest(name, ep.Kind.String(), status, time.Since(started))
}

// match probes contract entries in declaration order. No specificity scoring:
// the first method+path hit wins.
func (rt *Router) match(method, path string) (string, contract.Endpoint, map[string]string, bool) {
	for _, entry := range rt.contract.Entries() {
		if entry.Endpoint.Method != method {
			continue
		}
		if captures, ok := MatchPath(entry.Endpoint.Path, path); ok {
			return entry.Name, entry.Endpoint, captures, true
		}
	}
	return "", contract.Endpoint{}, nil, false
}

func (rt *Router) handleNotFound(w http.ResponseWriter, req *http.Request) {
	if rt.notFound != nil {
		rt.notFound.ServeHTTP(w, req)
		return
	}
	writeErrorResponse(w, http.StatusNotFound, errors.ErrRouteNotFound)
}

// wireError is the JSON error body shape shared with the client dispatcher.
type wireError struct {
	Error  string         `json:"error"`
	Part   string         `json:"part,omitempty"`
	Issues []errors.Issue `json:"issues,omitempty"`
}

// writeErrorResponse serializes router-level failures. Validation failures
// keep their structured issue list; everything 500-class is opaque.
func writeErrorResponse(w http.ResponseWriter, status int, err error) {
	body := wireError{}
	switch {
	case errors.IsValidation(err):
		body.Error = "Validation Failed"
		if ve, ok := errors.AsValidation(err); ok {
			body.Part = string(ve.Part)
			body.Issues = ve.Issues
		}
	case errors.IsNotFound(err):
		body.Error = "Route Not Found"
	case errors.IsResponseValidation(err):
		body.Error = "Response Validation Failed"
	default:
		body.Error = "Internal Server Error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		return
	}
	//nolint:errcheck // nothing left to do if the write fails
	w.Write(data)
}
