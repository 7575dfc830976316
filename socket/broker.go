package socket

import "sync"

// Broker delivers topic fan-out between sessions. The in-memory broker is
// the default; a NATS-backed broker extends fan-out across instances.
type Broker interface {
	// Subscribe adds a session to a topic's broadcast group.
	Subscribe(topic string, s *Session) error
	// Unsubscribe removes a session from a topic's broadcast group.
	Unsubscribe(topic string, s *Session) error
	// Publish delivers a prebuilt envelope frame to every subscriber of a
	// topic except the sender.
	Publish(topic, senderID string, frame []byte) error
	// Drop removes a session from every topic. Called by the router when the
	// connection closes.
	Drop(s *Session)
	// Close releases broker resources.
	Close() error
}

// MemoryBroker is the in-process Broker: a topic table guarded by one
// read-write mutex. Fan-out writes happen outside the lock against a
// snapshot of the subscriber set.
type MemoryBroker struct {
	mu     sync.RWMutex
	topics map[string]map[*Session]struct{}
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		topics: make(map[string]map[*Session]struct{}),
	}
}

// Subscribe implements Broker.
func (b *MemoryBroker) Subscribe(topic string, s *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Session]struct{})
		b.topics[topic] = subs
	}
	subs[s] = struct{}{}
	return nil
}

// Unsubscribe implements Broker.
func (b *MemoryBroker) Unsubscribe(topic string, s *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
	return nil
}

// Publish implements Broker. Delivery failures to individual subscribers are
// ignored: a dying connection cleans itself up through its own close path.
func (b *MemoryBroker) Publish(topic, senderID string, frame []byte) error {
	b.mu.RLock()
	receivers := make([]*Session, 0, len(b.topics[topic]))
	for sub := range b.topics[topic] {
		if sub.ID == senderID {
			continue
		}
		receivers = append(receivers, sub)
	}
	b.mu.RUnlock()

	for _, sub := range receivers {
		//nolint:errcheck // see above
		sub.writeRaw(frame)
	}
	return nil
}

// Drop implements Broker.
func (b *MemoryBroker) Drop(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.topics {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

// Close implements Broker.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = make(map[string]map[*Session]struct{})
	return nil
}
