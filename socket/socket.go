// Package socket implements the WebSocket side of the contract: it matches
// upgrade requests against a socket contract, validates the request parts
// before upgrading, and then runs a per-connection read loop that validates
// every inbound message against the endpoint's client message table before
// any application hook sees it.
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ricsam/richie-rpc-sub000/contract"
	"github.com/ricsam/richie-rpc-sub000/errors"
	"github.com/ricsam/richie-rpc-sub000/metric"
	"github.com/ricsam/richie-rpc-sub000/router"
	"github.com/ricsam/richie-rpc-sub000/schema"
)

// ValidationReplyType is the message type of the default reply sent when an
// inbound message fails validation and no ValidationError hook is
// registered.
const ValidationReplyType = "__validationError__"

// ValidationReply is the payload of the default validation failure reply.
type ValidationReply struct {
	Message string         `json:"message"`
	Part    string         `json:"part"`
	Issues  []errors.Issue `json:"issues"`
}

// Hooks are the per-endpoint lifecycle callbacks. All hooks for one
// connection run on that connection's reader goroutine, so they may touch
// Session.State without locking.
type Hooks struct {
	// Open runs after a successful upgrade, before any message is read.
	// Returning an error closes the connection immediately (Close still
	// fires).
	Open func(ctx context.Context, s *Session) error
	// Message receives one validated inbound message. It never sees a
	// payload that failed validation.
	Message func(ctx context.Context, s *Session, msg Message) error
	// ValidationError, if set, replaces the default reply for inbound
	// messages that fail validation. The connection stays open either way.
	ValidationError func(ctx context.Context, s *Session, verr *errors.ValidationError)
	// Close runs exactly once when the connection ends, after the session
	// has been dropped from all topics.
	Close func(s *Session)
}

// Router upgrades and dispatches WebSocket connections for a socket
// contract. Hooks are registered per endpoint with Handle before serving.
type Router struct {
	contract *contract.SocketContract
	hooks    map[string]Hooks

	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metric.Registry
	broker   Broker

	msgRate   rate.Limit
	msgBurst  int
	readLimit int64

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a socket Router.
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

// WithBroker replaces the default in-memory topic broker, e.g. with a
// NATS-backed one for multi-instance fan-out.
func WithBroker(b Broker) Option {
	return func(rt *Router) { rt.broker = b }
}

// WithCheckOrigin sets the upgrade origin policy. The default accepts any
// origin.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(rt *Router) { rt.upgrader.CheckOrigin = fn }
}

// WithMessageRateLimit caps inbound messages per connection. Messages over
// the limit are rejected like validation failures; the connection stays
// open. Zero (the default) disables the limit.
func WithMessageRateLimit(perSecond float64, burst int) Option {
	return func(rt *Router) {
		rt.msgRate = rate.Limit(perSecond)
		rt.msgBurst = burst
	}
}

// WithReadLimit caps the size of a single inbound frame in bytes. Zero (the
// default) leaves the transport default in place.
func WithReadLimit(n int64) Option {
	return func(rt *Router) { rt.readLimit = n }
}

// New creates a Router over a socket contract.
func New(c *contract.SocketContract, opts ...Option) *Router {
	rt := &Router{
		contract: c,
		hooks:    make(map[string]Hooks),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:   slog.Default(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.broker == nil {
		rt.broker = NewMemoryBroker()
	}
	return rt
}

// Handle registers the hooks for a named endpoint. Registering an unknown
// name fails; registering a name twice replaces its hooks.
func (rt *Router) Handle(name string, hooks Hooks) error {
	if _, ok := rt.contract.Get(name); !ok {
		return errors.WrapNotFound(errors.ErrEndpointNotFound, "socket.Router", "Handle", name)
	}
	rt.hooks[name] = hooks
	return nil
}

// MustHandle is Handle panicking on error, for static registration blocks.
func (rt *Router) MustHandle(name string, hooks Hooks) {
	if err := rt.Handle(name, hooks); err != nil {
		panic(err)
	}
}

// Close shuts down every live session and the broker. Intended for graceful
// shutdown; in-flight read loops observe their connection closing and run
// their normal close path.
func (rt *Router) Close() error {
	rt.mu.Lock()
	sessions := make([]*Session, 0, len(rt.sessions))
	for _, s := range rt.sessions {
		sessions = append(sessions, s)
	}
	rt.mu.Unlock()

	for _, s := range sessions {
		//nolint:errcheck // best effort during shutdown
		s.Close()
	}
	return rt.broker.Close()
}

// ServeHTTP matches the upgrade request against the contract in declaration
// order, validates params, query, and headers before upgrading, then hands
// the connection to its read loop. Validation failures are plain HTTP 400
// responses; the upgrade never happens.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var (
		entry    contract.SocketEntry
		captures map[string]string
		matched  bool
	)
	for _, e := range rt.contract.Entries() {
		if caps, ok := router.MatchPath(e.Endpoint.Path, r.URL.Path); ok {
			entry, captures, matched = e, caps, true
			break
		}
	}
	if !matched {
		writeHTTPError(w, http.StatusNotFound, errors.ErrRouteNotFound)
		return
	}

	hooks, registered := rt.hooks[entry.Name]
	if !registered {
		writeHTTPError(w, http.StatusInternalServerError, errors.ErrHandlerMissing)
		return
	}

	ep := entry.Endpoint
	params, query, headers, err := validateUpgrade(r, ep, captures)
	if err != nil {
		if ve, ok := errors.AsValidation(err); ok {
			rt.metrics.ObserveValidationFailure(entry.Name, string(ve.Part))
		}
		writeHTTPError(w, http.StatusBadRequest, err)
		return
	}

	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its own response.
		rt.logger.Warn("websocket upgrade failed",
			"endpoint", entry.Name, "error", err)
		return
	}

	sess := &Session{
		ID:       uuid.NewString(),
		Endpoint: entry.Name,
		Params:   params,
		Query:    query,
		Headers:  headers,
		State:    make(map[string]any),
		conn:     conn,
		router:   rt,
	}
	if rt.readLimit > 0 {
		conn.SetReadLimit(rt.readLimit)
	}

	rt.mu.Lock()
	rt.sessions[sess.ID] = sess
	rt.mu.Unlock()
	rt.metrics.SocketOpened()

	logger := rt.logger.With("endpoint", entry.Name, "session_id", sess.ID)
	logger.Info("websocket connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer rt.teardown(sess, hooks, logger)

	if hooks.Open != nil {
		if err := hooks.Open(ctx, sess); err != nil {
			logger.Warn("open hook rejected connection", "error", err)
			return
		}
	}

	rt.readLoop(ctx, sess, ep, hooks, logger)
}

// readLoop is the single reader goroutine for one connection. Every inbound
// frame is parsed and validated here; hooks only ever see messages that
// passed.
func (rt *Router) readLoop(ctx context.Context, sess *Session, ep contract.SocketEndpoint, hooks Hooks, logger *slog.Logger) {
	var limiter *rate.Limiter
	if rt.msgRate > 0 {
		burst := rt.msgBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rt.msgRate, burst)
	}

	for {
		_, frame, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		if limiter != nil && !limiter.Allow() {
			rt.rejectMessage(ctx, sess, hooks, errors.NewValidationError(errors.PartMessage, []errors.Issue{
				{Path: "", Message: "message rate limit exceeded"},
			}))
			continue
		}

		msg, verr := decodeInbound(ep, frame)
		if verr != nil {
			rt.rejectMessage(ctx, sess, hooks, verr)
			continue
		}

		rt.metrics.ObserveSocketMessage(sess.Endpoint, msg.Type, "inbound")
		if hooks.Message == nil {
			continue
		}
		if err := hooks.Message(ctx, sess, msg); err != nil {
			logger.Error("message hook failed", "type", msg.Type, "error", err)
		}
	}
}

// rejectMessage reports one failed inbound message via the ValidationError
// hook, or the default typed reply when no hook is set. Exactly one reply
// per failed message; the connection stays open.
func (rt *Router) rejectMessage(ctx context.Context, sess *Session, hooks Hooks, verr *errors.ValidationError) {
	rt.metrics.ObserveValidationFailure(sess.Endpoint, string(verr.Part))
	if hooks.ValidationError != nil {
		hooks.ValidationError(ctx, sess, verr)
		return
	}
	//nolint:errcheck // a dead connection surfaces on the next read
	sess.Send(ValidationReplyType, ValidationReply{
		Message: "Validation Failed",
		Part:    string(verr.Part),
		Issues:  verr.Issues,
	})
}

// teardown runs the connection's close path exactly once: drop from all
// topics, fire the Close hook, release the session.
func (rt *Router) teardown(sess *Session, hooks Hooks, logger *slog.Logger) {
	rt.broker.Drop(sess)
	if hooks.Close != nil {
		hooks.Close(sess)
	}
	//nolint:errcheck // may already be closed by the peer
	sess.Close()

	rt.mu.Lock()
	delete(rt.sessions, sess.ID)
	rt.mu.Unlock()
	rt.metrics.SocketClosed()
	logger.Info("websocket connection closed")
}

// decodeInbound parses one frame into a validated Message. Any failure is a
// PartMessage validation error.
func decodeInbound(ep contract.SocketEndpoint, frame []byte) (Message, *errors.ValidationError) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Message{}, errors.NewValidationError(errors.PartMessage, []errors.Issue{
			{Path: "", Message: "malformed message envelope"},
		})
	}
	if env.Type == "" {
		return Message{}, errors.NewValidationError(errors.PartMessage, []errors.Issue{
			{Path: "type", Message: "message type is required"},
		})
	}

	msgSchema, known := ep.ClientMessages[env.Type]
	if !known {
		return Message{}, errors.NewValidationError(errors.PartMessage, []errors.Issue{
			{Path: "type", Message: fmt.Sprintf("unknown message type %q", env.Type)},
		})
	}

	var payload any
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return Message{}, errors.NewValidationError(errors.PartMessage, []errors.Issue{
				{Path: "payload", Message: "payload is not valid JSON"},
			})
		}
	}

	validated, issues := schema.Validate(msgSchema, payload)
	if len(issues) > 0 {
		return Message{}, errors.NewValidationError(errors.PartMessage, issues)
	}
	return Message{Type: env.Type, Payload: validated}, nil
}

// validateUpgrade parses and validates the three upgrade request parts,
// short-circuiting at the first failing part like the HTTP pipeline does.
func validateUpgrade(r *http.Request, ep contract.SocketEndpoint, captures map[string]string) (params, query, headers any, err error) {
	rawParams := make(map[string]any, len(captures))
	for k, v := range captures {
		rawParams[k] = v
	}
	params, issues := schema.Validate(ep.Params, rawParams)
	if len(issues) > 0 {
		return nil, nil, nil, errors.NewValidationError(errors.PartParams, issues)
	}

	query, issues = schema.Validate(ep.Query, router.NormalizeQuery(r.URL.Query()))
	if len(issues) > 0 {
		return nil, nil, nil, errors.NewValidationError(errors.PartQuery, issues)
	}

	headers, issues = schema.Validate(ep.Headers, router.NormalizeHeaders(r.Header))
	if len(issues) > 0 {
		return nil, nil, nil, errors.NewValidationError(errors.PartHeaders, issues)
	}
	return params, query, headers, nil
}

// writeHTTPError mirrors the HTTP router's error body shape for failures
// that happen before the upgrade.
func writeHTTPError(w http.ResponseWriter, status int, err error) {
	body := struct {
		Error  string         `json:"error"`
		Part   string         `json:"part,omitempty"`
		Issues []errors.Issue `json:"issues,omitempty"`
	}{}
	switch {
	case errors.IsValidation(err):
		body.Error = "Validation Failed"
		if ve, ok := errors.AsValidation(err); ok {
			body.Part = string(ve.Part)
			body.Issues = ve.Issues
		}
	case errors.IsNotFound(err):
		body.Error = "Route Not Found"
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
