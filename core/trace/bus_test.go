package trace

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/error505/azure-cloud-ai-visualizer/core/run"
)

func testEvent(id run.ID, step run.StepID, phase Phase, ts float64) Event {
	return Event{
		RunID:    id,
		StepID:   step,
		Agent:    "Architect",
		Phase:    phase,
		TS:       ts,
		Progress: Progress{Current: int(step), Total: 3},
	}
}

// drain collects every event delivered to q until the terminal sentinel.
func drain(t *testing.T, q *Queue) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var events []Event
	for {
		ev, ok, err := q.Next(ctx)
		require.NoError(t, err)
		if !ok {
			return events
		}
		events = append(events, ev)
	}
}

func TestEmitFansOutInOrder(t *testing.T) {
	b := New(Options{})
	id := b.NewRun("test")
	b.EnsureRun(id)

	q1 := b.Attach(id)
	q2 := b.Attach(id)

	emitted := []Event{
		testEvent(id, 1, PhaseStart, 1.0),
		testEvent(id, 1, PhaseDelta, 1.1),
		testEvent(id, 1, PhaseEnd, 1.2),
	}
	for _, ev := range emitted {
		b.Emit(ev)
	}
	b.Finish(id)

	for _, q := range []*Queue{q1, q2} {
		got := drain(t, q)
		require.Equal(t, emitted, got)
	}
}

func TestAttachBeforeEnsureObservesLiveEvents(t *testing.T) {
	b := New(Options{})
	id := b.NewRun("test")

	q := b.Attach(id)
	b.EnsureRun(id)
	b.Emit(testEvent(id, 1, PhaseStart, 1.0))
	b.Finish(id)

	got := drain(t, q)
	require.Len(t, got, 1)
	require.Equal(t, PhaseStart, got[0].Phase)
}

func TestLateAttachObservesOnlySentinel(t *testing.T) {
	b := New(Options{})
	id := b.NewRun("test")
	b.EnsureRun(id)
	b.Emit(testEvent(id, 1, PhaseStart, 1.0))
	b.Finish(id)

	q := b.Attach(id)
	require.Empty(t, drain(t, q))
}

func TestEnsureRunIdempotentAndFinishTwiceSafe(t *testing.T) {
	b := New(Options{})
	id := b.NewRun("test")
	b.EnsureRun(id)
	b.EnsureRun(id)
	require.True(t, b.IsActive(id))

	q := b.Attach(id)
	b.Finish(id)
	b.Finish(id)
	require.False(t, b.IsActive(id))

	// exactly one sentinel despite the double Finish
	require.Empty(t, drain(t, q))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := q.Next(ctx)
	require.Error(t, err)
}

func TestDetachStopsDelivery(t *testing.T) {
	b := New(Options{})
	id := b.NewRun("test")
	b.EnsureRun(id)

	stay := b.Attach(id)
	leave := b.Attach(id)
	b.Emit(testEvent(id, 1, PhaseStart, 1.0))
	b.Detach(id, leave)
	b.Emit(testEvent(id, 1, PhaseEnd, 1.1))
	b.Finish(id)

	require.Len(t, drain(t, stay), 2)

	leave.mu.Lock()
	require.Len(t, leave.items, 1) // only the pre-detach event
	leave.mu.Unlock()
}

func TestIsActiveLifecycle(t *testing.T) {
	b := New(Options{})
	id := b.NewRun("test")
	require.False(t, b.IsActive(id))
	b.EnsureRun(id)
	require.True(t, b.IsActive(id))
	b.Finish(id)
	require.False(t, b.IsActive(id))
}

func TestStreamConsumesUntilSentinel(t *testing.T) {
	b := New(Options{})
	id := b.NewRun("test")
	b.EnsureRun(id)

	done := make(chan []Event, 1)
	ready := b.Attach(id) // guarantees run state exists before emitting
	go func() {
		var got []Event
		_ = b.Stream(context.Background(), id, func(ev Event) error {
			got = append(got, ev)
			return nil
		})
		done <- got
	}()

	// Let the streaming goroutine attach before the first emit.
	time.Sleep(20 * time.Millisecond)
	b.Emit(testEvent(id, 1, PhaseStart, 1.0))
	b.Emit(testEvent(id, 1, PhaseEnd, 1.1))
	b.Finish(id)

	select {
	case got := <-done:
		require.Len(t, got, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not terminate at sentinel")
	}
	require.Len(t, drain(t, ready), 2)
}

func TestJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b := New(Options{JournalDir: dir})
	id := b.NewRun("test")
	b.EnsureRun(id)

	emitted := []Event{
		testEvent(id, 1, PhaseStart, 1.0),
		testEvent(id, 1, PhaseDelta, 1.1),
		testEvent(id, 1, PhaseEnd, 1.2),
	}
	for _, ev := range emitted {
		b.Emit(ev)
	}
	b.Finish(id)

	require.FileExists(t, filepath.Join(dir, string(id)+".jsonl"))
	got := b.ReadPersisted(id)
	require.Equal(t, emitted, got)
}

func TestReadPersistedAbsentJournalReturnsEmpty(t *testing.T) {
	b := New(Options{JournalDir: t.TempDir()})
	require.Empty(t, b.ReadPersisted(run.ID("never-seen")))

	noJournal := New(Options{})
	require.Empty(t, noJournal.ReadPersisted(run.ID("never-seen")))
}

func TestEmitWithoutSubscribersStillJournals(t *testing.T) {
	dir := t.TempDir()
	b := New(Options{JournalDir: dir})
	id := b.NewRun("test")
	b.EnsureRun(id)
	b.Emit(testEvent(id, 1, PhaseStart, 1.0))
	b.Finish(id)

	require.Len(t, b.ReadPersisted(id), 1)
}
