package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishSubscribe(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	h.Publish(CalibrationPhase, CalibrationPhaseEvent{From: "AwaitingPair", To: "Solving", Ts: 1})

	ev := <-ch
	assert.Equal(t, CalibrationPhase, ev.Name)
	payload, err := DecodeAs[CalibrationPhaseEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, "Solving", payload.To)

	latest, ok := h.Latest(CalibrationPhase)
	require.True(t, ok)
	assert.Equal(t, ev.Data, latest.Data)
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()

	for i := 0; i < 100; i++ {
		h.Publish(Triangulation, TriangulationEvent{SequenceID: uint64(i)})
	}
	assert.Len(t, ch, cap(ch))

	latest, ok := h.Latest(Triangulation)
	require.True(t, ok)
	payload, err := DecodeAs[TriangulationEvent](latest)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), payload.SequenceID)

	h.Unsubscribe(ch)
	assert.Equal(t, 0, h.Subscribers())
	_, open := <-ch
	for open {
		_, open = <-ch
	}
}

func TestNilHubIsNoop(t *testing.T) {
	var h *EventHub
	h.Publish(CalibrationAction, CalibrationActionEvent{Action: "Start"})
	_, ok := h.Latest(CalibrationAction)
	assert.False(t, ok)
}

func TestDecodeAsEmpty(t *testing.T) {
	v, err := DecodeAs[CalibrationPairEvent](Event{})
	require.NoError(t, err)
	assert.Equal(t, CalibrationPairEvent{}, v)
}
