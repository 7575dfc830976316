package main

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreListenReceivesAppends(t *testing.T) {
	store := newMemoryStore()
	events, stop := store.Listen("general")
	defer stop()

	msg := store.Append("general", "ada", "hello")
	got := <-events
	assert.Equal(t, "messageCreated", got.Name)
	assert.Equal(t, msg.ID, got.Payload["id"])
}

func TestStoreStopIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	events, stop := store.Listen("general")
	stop()
	stop()

	_, open := <-events
	assert.False(t, open)
	store.Append("general", "ada", "after stop")
}

func TestStoreAppendConcurrentWithStop(t *testing.T) {
	store := newMemoryStore()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				store.Append("general", "ada", fmt.Sprintf("w%d-%d", w, i))
			}
		}(w)
	}
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				events, stop := store.Listen("general")
				// Drain whatever arrived before unregistering.
				for range len(events) {
					<-events
				}
				stop()
			}
		}()
	}
	wg.Wait()

	msgs := store.Messages("general", 0)
	require.Len(t, msgs, 2000)
}
