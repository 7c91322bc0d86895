package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
	err     error
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return s.err
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{
		RunID:   UUIDToBytes(uuid.MustParse("0190b4f0-0000-7000-8000-000000000001")),
		TS:      time.Unix(1700000000, 0).UTC(),
		Stage:   stage,
		Entity:  "Model X",
		Item:    "page_1_item_1",
		Outcome: OutcomeWritten,
	}
}

func TestHubFlushesOnBatchSize(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatchEvents: 2, MaxBatchWait: time.Hour}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	hub.Emit(sampleEvent(StageItemDone))
	hub.Emit(sampleEvent(StageItemDone))

	require.Eventually(t, func() bool { return len(sink.events()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestHubFlushesOnTimer(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: 10 * time.Millisecond}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	hub.Emit(sampleEvent(StageRunStart))

	require.Eventually(t, func() bool { return len(sink.events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Hour}, sink)
	for i := 0; i < 5; i++ {
		hub.Emit(sampleEvent(StageItemDone))
	}

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	assert.Len(t, sink.events(), 5)
	assert.True(t, sink.closed)

	hub.Emit(sampleEvent(StageItemDone))
	assert.Len(t, sink.events(), 5, "emit after close is ignored")
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{}, sink)
	hub.Emit(Event{Stage: StageRunStart})
	require.NoError(t, hub.Close(context.Background()))

	assert.Empty(t, sink.events())
}

func TestHubSinkErrorsDoNotStopDelivery(t *testing.T) {
	t.Parallel()

	failing := &stubSink{err: errors.New("down")}
	healthy := &stubSink{}
	hub := NewHub(Config{MaxBatchEvents: 1}, failing, healthy)
	hub.Emit(sampleEvent(StageEntityDone))
	require.NoError(t, hub.Close(context.Background()))

	assert.Len(t, healthy.events(), 1)
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := sampleEvent(StageItemDone)
	require.NoError(t, valid.Validate())

	tests := map[string]func(e *Event){
		"missing run id":    func(e *Event) { e.RunID = [16]byte{} },
		"missing timestamp": func(e *Event) { e.TS = time.Time{} },
		"unknown stage":     func(e *Event) { e.Stage = "NOPE" },
		"entity required":   func(e *Event) { e.Stage = StageEntityStart; e.Entity = "" },
		"item required":     func(e *Event) { e.Item = "" },
		"bad outcome":       func(e *Event) { e.Outcome = "maybe" },
		"negative duration": func(e *Event) { e.Dur = -time.Second },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			evt := sampleEvent(StageItemDone)
			mutate(&evt)
			require.Error(t, evt.Validate())
		})
	}

	assert.Equal(t, "0190b4f0-0000-7000-8000-000000000001", valid.RunUUID().String())
}
