package socket

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ricsam/richie-rpc-sub000/errors"
)

// Envelope is the wire shape of every socket message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is a validated inbound message handed to the Message hook.
type Message struct {
	Type    string
	Payload any
}

// Session is the per-connection state of one WebSocket connection: the
// endpoint it matched, its parsed request parts, an opaque application
// context, and a free-form state map. A session is created on connection
// open, mutated only by that connection's own hooks (which all run on the
// connection's reader goroutine), and destroyed on close.
type Session struct {
	// ID uniquely identifies this connection.
	ID string
	// Endpoint is the socket contract name the connection matched.
	Endpoint string
	// Params, Query, Headers are the validated parts of the upgrade request.
	Params  any
	Query   any
	Headers any
	// Context is an opaque application value, typically assigned by the Open
	// hook.
	Context any
	// State is free-form per-connection storage owned by this connection's
	// hooks.
	State map[string]any

	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error

	router *Router
}

// Send writes a typed message directly to this connection. Outbound payloads
// are trusted and not runtime-validated; the server side of the contract is
// the trusted side.
func (s *Session) Send(msgType string, payload any) error {
	env, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	s.router.metrics.ObserveSocketMessage(s.Endpoint, msgType, "outbound")
	return s.writeRaw(env)
}

// Subscribe joins a broadcast topic.
func (s *Session) Subscribe(topic string) error {
	return s.router.broker.Subscribe(topic, s)
}

// Unsubscribe leaves a broadcast topic.
func (s *Session) Unsubscribe(topic string) error {
	return s.router.broker.Unsubscribe(topic, s)
}

// Publish fans a typed message out to every other subscriber of a topic. The
// sender is excluded by convention; sending to self is an explicit Send.
func (s *Session) Publish(topic, msgType string, payload any) error {
	env, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	s.router.metrics.ObservePublish(topic)
	return s.router.broker.Publish(topic, s.ID, env)
}

// Close ends the session. Validation failures never close a connection on
// their own; only an explicit Close (from either side) does.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// writeRaw writes one prebuilt envelope frame. Serialized by writeMu because
// broker fan-out may write concurrently with the session's own hooks.
func (s *Session) writeRaw(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.WrapTransport(err, "Session", "writeRaw", "frame write")
	}
	return nil
}

// marshalEnvelope builds the {"type","payload"} wire frame.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.WrapInternal(err, "Session", "marshalEnvelope", "payload marshal")
	}
	env := Envelope{Type: msgType, Payload: raw}
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, errors.WrapInternal(err, "Session", "marshalEnvelope", "envelope marshal")
	}
	return frame, nil
}
