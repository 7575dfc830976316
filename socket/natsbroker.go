package socket

import (
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/ricsam/richie-rpc-sub000/errors"
)

// natsFrame wraps an envelope frame with its origin session for cross-
// instance fan-out. The origin is excluded on delivery so publish-excludes-
// sender holds across the whole cluster.
type natsFrame struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

// NATSBroker extends topic fan-out across router instances by relaying
// publishes through NATS subjects. Local subscribers are tracked per topic;
// one NATS subscription per topic is held while at least one local session
// subscribes.
type NATSBroker struct {
	nc     *nats.Conn
	prefix string

	mu    sync.Mutex
	local map[string]map[*Session]struct{}
	subs  map[string]*nats.Subscription
}

// NewNATSBroker creates a broker relaying through the given connection.
// Topics map to subjects by attaching the prefix: "chat" becomes
// "<prefix>.chat".
func NewNATSBroker(nc *nats.Conn, prefix string) (*NATSBroker, error) {
	if nc == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NATSBroker", "NewNATSBroker",
			"nats connection is required")
	}
	if prefix == "" {
		prefix = "socket.topics"
	}
	return &NATSBroker{
		nc:     nc,
		prefix: prefix,
		local:  make(map[string]map[*Session]struct{}),
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Subscribe implements Broker.
func (b *NATSBroker) Subscribe(topic string, s *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.local[topic]
	if !ok {
		subs = make(map[*Session]struct{})
		b.local[topic] = subs
	}
	subs[s] = struct{}{}

	if _, exists := b.subs[topic]; exists {
		return nil
	}
	natsSub, err := b.nc.Subscribe(b.subject(topic), func(msg *nats.Msg) {
		b.deliver(topic, msg.Data)
	})
	if err != nil {
		delete(subs, s)
		return errors.WrapTransport(err, "NATSBroker", "Subscribe", topic)
	}
	b.subs[topic] = natsSub
	return nil
}

// Unsubscribe implements Broker.
func (b *NATSBroker) Unsubscribe(topic string, s *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(topic, s)
}

// Publish implements Broker. The frame goes through NATS even when all
// subscribers are local, so every instance observes the same delivery order
// per topic.
func (b *NATSBroker) Publish(topic, senderID string, frame []byte) error {
	data, err := json.Marshal(natsFrame{Origin: senderID, Frame: frame})
	if err != nil {
		return errors.WrapInternal(err, "NATSBroker", "Publish", "frame marshal")
	}
	if err := b.nc.Publish(b.subject(topic), data); err != nil {
		return errors.WrapTransport(err, "NATSBroker", "Publish", topic)
	}
	return nil
}

// Drop implements Broker.
func (b *NATSBroker) Drop(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic := range b.local {
		//nolint:errcheck // best-effort cleanup on close
		b.removeLocked(topic, s)
	}
}

// Close implements Broker.
func (b *NATSBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for topic, natsSub := range b.subs {
		if err := natsSub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = errors.WrapTransport(err, "NATSBroker", "Close", topic)
		}
		delete(b.subs, topic)
	}
	b.local = make(map[string]map[*Session]struct{})
	return firstErr
}

// deliver fans an inbound NATS message out to local subscribers, excluding
// the origin session.
func (b *NATSBroker) deliver(topic string, data []byte) {
	var wrapped natsFrame
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return
	}

	b.mu.Lock()
	receivers := make([]*Session, 0, len(b.local[topic]))
	for sub := range b.local[topic] {
		if sub.ID == wrapped.Origin {
			continue
		}
		receivers = append(receivers, sub)
	}
	b.mu.Unlock()

	for _, sub := range receivers {
		//nolint:errcheck // dying connections clean up via their close path
		sub.writeRaw(wrapped.Frame)
	}
}

func (b *NATSBroker) subject(topic string) string {
	return b.prefix + "." + topic
}

func (b *NATSBroker) removeLocked(topic string, s *Session) error {
	subs, ok := b.local[topic]
	if !ok {
		return nil
	}
	delete(subs, s)
	if len(subs) > 0 {
		return nil
	}
	delete(b.local, topic)
	if natsSub, exists := b.subs[topic]; exists {
		delete(b.subs, topic)
		if err := natsSub.Unsubscribe(); err != nil {
			return errors.WrapTransport(err, "NATSBroker", "Unsubscribe", topic)
		}
	}
	return nil
}
