package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEmitter_SubscribeAndUnsubscribe(t *testing.T) {
	e := NewEventEmitter(nil)
	ch, unsubscribe := e.Subscribe()

	e.EmitToggled("fs", false)
	ev := <-ch
	assert.Equal(t, EventToggled, ev.Type)
	assert.Equal(t, "fs", ev.ServerID)
	assert.Equal(t, false, ev.Details["enabled"])
	assert.False(t, ev.Timestamp.IsZero())

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)

	// Emitting after unsubscribe must not panic.
	e.EmitRemoved("fs")
}

func TestEventEmitter_SlowSubscriberDoesNotBlock(t *testing.T) {
	e := NewEventEmitter(nil)
	ch, unsubscribe := e.Subscribe()
	defer unsubscribe()

	for i := 0; i < subscriberBuffer*2; i++ {
		e.EmitConnected("fs", TransportStdio)
	}
	require.Len(t, ch, subscriberBuffer)
}
