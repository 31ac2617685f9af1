package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (c *captureSink) Consume(_ context.Context, batch []Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, batch...)
	return nil
}

func (c *captureSink) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *captureSink) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestHubDeliversBatches(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	for i := 0; i < 5; i++ {
		hub.Emit(Event{JobID: "job-1", OwnerID: "owner-1", TS: time.Now(), Stage: StageJobProgress})
	}
	require.NoError(t, hub.Close(context.Background()))

	got := sink.snapshot()
	require.Len(t, got, 5)
	require.Equal(t, "job-1", got[0].JobID)
	require.True(t, sink.closed)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{OwnerID: "owner-1", TS: time.Now(), Stage: StageJobStart})  // missing job id
	hub.Emit(Event{JobID: "job-1", OwnerID: "owner-1", TS: time.Now()})       // missing stage
	hub.Emit(Event{JobID: "job-1", OwnerID: "owner-1", Stage: StageJobStart}) // missing timestamp
	require.NoError(t, hub.Close(context.Background()))

	require.Empty(t, sink.snapshot())
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(Event{JobID: "job-1", OwnerID: "owner-1", TS: time.Now(), Stage: StageJobProgress})
	require.Empty(t, sink.snapshot())
}

func TestHubFlushesOnBatchSize(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchEvents: 2, MaxBatchWait: time.Hour}, sink)
	defer hub.Close(context.Background())

	hub.Emit(Event{JobID: "job-1", OwnerID: "owner-1", TS: time.Now(), Stage: StageJobProgress})
	hub.Emit(Event{JobID: "job-1", OwnerID: "owner-1", TS: time.Now(), Stage: StageJobProgress})

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)
}
