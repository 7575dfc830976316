package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ricsam/richie-rpc-sub000/contract"
	"github.com/ricsam/richie-rpc-sub000/errors"
	"github.com/ricsam/richie-rpc-sub000/schema"
)

// Socket is one live WebSocket connection to a socket endpoint. Outbound
// messages are validated against the endpoint's client message table before
// transmission; inbound messages are trusted (the server is the validated
// side of that direction's contract) and dispatched to per-type handlers.
type Socket struct {
	conn     *websocket.Conn
	endpoint contract.SocketEndpoint
	name     string
	logger   *slog.Logger

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	handlers  map[string]func(payload any)

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}

	errMu   sync.Mutex
	readErr error
}

// Socket dials a socket endpoint by name. Requires the client to have been
// built with WithSocketContract. Params, query, and headers are validated
// before the dial, mirroring the server's pre-upgrade checks.
func (c *Client) Socket(ctx context.Context, name string, req *Request) (*Socket, error) {
	if c.socketContract == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "Socket",
			"no socket contract configured")
	}
	ep, ok := c.socketContract.Get(name)
	if !ok {
		return nil, errors.WrapNotFound(errors.ErrEndpointNotFound, "Client", "Socket", name)
	}
	if req == nil {
		req = &Request{}
	}

	if err := validateOutbound(ep.Params, stringifyParams(req.Params), errors.PartParams); err != nil {
		return nil, err
	}
	if err := validateOutbound(ep.Query, req.Query, errors.PartQuery); err != nil {
		return nil, err
	}
	if err := validateOutbound(ep.Headers, headersValue(req.Headers), errors.PartHeaders); err != nil {
		return nil, err
	}

	path, err := buildPath(ep.Path, req.Params)
	if err != nil {
		return nil, err
	}
	wsURL := httpToWS(c.baseURL) + path
	if q := encodeQuery(req.Query); len(q) > 0 {
		wsURL += "?" + q.Encode()
	}

	header := make(http.Header)
	for key, values := range c.headers {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	for key, value := range req.Headers {
		header.Set(key, value)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, errors.WrapTransport(err, "Client", "Socket", name)
	}
	if resp != nil {
		resp.Body.Close()
	}

	s := &Socket{
		conn:     conn,
		endpoint: ep,
		name:     name,
		logger:   c.logger.With("endpoint", name),
		handlers: make(map[string]func(payload any)),
		done:     make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// On registers the handler for one inbound message type, replacing any
// previous one. Register handlers before the server starts sending;
// messages with no handler are dropped.
func (s *Socket) On(msgType string, fn func(payload any)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers[msgType] = fn
}

// Send transmits one typed message. The payload is validated against the
// endpoint's client message table first, so contract violations fail
// locally instead of drawing the server's validation reply.
func (s *Socket) Send(msgType string, payload any) error {
	msgSchema, known := s.endpoint.ClientMessages[msgType]
	if !known {
		return errors.NewValidationError(errors.PartMessage, []errors.Issue{
			{Path: "type", Message: "unknown message type " + msgType},
		})
	}
	if _, issues := schema.Validate(msgSchema, payload); len(issues) > 0 {
		return errors.NewValidationError(errors.PartMessage, issues)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.WrapInternal(err, "Socket", "Send", "payload marshal")
	}
	frame, err := json.Marshal(envelope{Type: msgType, Payload: raw})
	if err != nil {
		return errors.WrapInternal(err, "Socket", "Send", "envelope marshal")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.WrapTransport(err, "Socket", "Send", msgType)
	}
	return nil
}

// Close ends the connection. Idempotent.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		//nolint:errcheck // best effort; the hard close follows
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Done closes when the connection ends, from either side.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Err reports why the read loop ended; nil for a clean close.
func (s *Socket) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.readErr
}

// envelope mirrors the server's wire frame.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (s *Socket) readLoop() {
	defer close(s.done)
	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.errMu.Lock()
				s.readErr = errors.WrapTransport(err, "Socket", "readLoop", s.name)
				s.errMu.Unlock()
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			s.logger.Warn("dropping malformed inbound frame", "error", err)
			continue
		}
		var payload any
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				s.logger.Warn("dropping frame with malformed payload", "type", env.Type, "error", err)
				continue
			}
		}

		s.handlerMu.RLock()
		fn := s.handlers[env.Type]
		s.handlerMu.RUnlock()
		if fn == nil {
			s.logger.Debug("no handler for inbound message", "type", env.Type)
			continue
		}
		fn(payload)
	}
}

func httpToWS(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
