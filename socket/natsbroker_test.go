package socket

import (
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNATSBroker() *NATSBroker {
	return &NATSBroker{
		prefix: "socket.topics",
		local:  make(map[string]map[*Session]struct{}),
		subs:   make(map[string]*nats.Subscription),
	}
}

func TestNewNATSBrokerRequiresConnection(t *testing.T) {
	b, err := NewNATSBroker(nil, "chat")
	require.Error(t, err)
	assert.Nil(t, b)
}

func TestNATSBrokerSubjectMapping(t *testing.T) {
	b := &NATSBroker{prefix: "socket.topics"}
	assert.Equal(t, "socket.topics.room:42", b.subject("room:42"))

	b = &NATSBroker{prefix: "chat"}
	assert.Equal(t, "chat.events", b.subject("events"))
}

func TestNATSBrokerUnsubscribeDropsTopic(t *testing.T) {
	b := newTestNATSBroker()
	one := &Session{ID: "one"}
	two := &Session{ID: "two"}
	b.local["room"] = map[*Session]struct{}{one: {}, two: {}}

	require.NoError(t, b.Unsubscribe("room", one))
	assert.Contains(t, b.local, "room")

	require.NoError(t, b.Unsubscribe("room", two))
	assert.NotContains(t, b.local, "room")
}

func TestNATSBrokerDropRemovesAllTopics(t *testing.T) {
	b := newTestNATSBroker()
	s := &Session{ID: "one"}
	other := &Session{ID: "two"}
	b.local["room"] = map[*Session]struct{}{s: {}, other: {}}
	b.local["lobby"] = map[*Session]struct{}{s: {}}

	b.Drop(s)

	assert.NotContains(t, b.local, "lobby")
	require.Contains(t, b.local, "room")
	assert.NotContains(t, b.local["room"], s)
}

func TestNATSBrokerDeliverExcludesOrigin(t *testing.T) {
	b := newTestNATSBroker()
	// The origin session has no connection. Delivery must skip it, so a
	// frame whose origin is the only subscriber reaches nobody.
	origin := &Session{ID: "origin"}
	b.local["room"] = map[*Session]struct{}{origin: {}}

	frame, err := json.Marshal(natsFrame{Origin: "origin", Frame: json.RawMessage(`{"type":"ping","payload":null}`)})
	require.NoError(t, err)
	b.deliver("room", frame)
}

func TestNATSBrokerDeliverIgnoresMalformedFrame(t *testing.T) {
	b := newTestNATSBroker()
	b.local["room"] = map[*Session]struct{}{{ID: "one"}: {}}
	b.deliver("room", []byte("{not json"))
}
