package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/error505/azure-cloud-ai-visualizer/core/run"
	"github.com/error505/azure-cloud-ai-visualizer/core/telemetry"
)

// Queue is a per-subscriber delivery channel. It is unbounded so Emit never
// blocks on a slow subscriber and never drops an in-flight event; the cost
// is memory growth under a stalled consumer, which the bridge bounds by
// detaching on write failure.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []queueItem
	closed bool
}

type queueItem struct {
	event Event
	done  bool
}

func newQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) push(it queueItem) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, it)
	q.mu.Unlock()
	q.cond.Signal()
}

// Next blocks until an event is available, the run finishes (ok=false), or
// ctx is canceled (err != nil).
func (q *Queue) Next(ctx context.Context) (Event, bool, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.cond.Broadcast()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if err := ctx.Err(); err != nil {
			return Event{}, false, err
		}
		q.cond.Wait()
	}
	it := q.items[0]
	q.items = q.items[1:]
	if it.done {
		return Event{}, false, nil
	}
	return it.event, true, nil
}

func (q *Queue) closeLocked() {
	q.closed = true
	q.cond.Broadcast()
}

type runState struct {
	mu       sync.Mutex
	active   bool
	finished bool
	subs     map[*Queue]struct{}
}

// Bus implements the per-run trace fan-out and journaling contract.
type Bus struct {
	journalDir string
	logger     telemetry.Logger

	mu       sync.Mutex
	runs     map[run.ID]*runState
	finished map[run.ID]struct{}

	journalMu   sync.Mutex
	journalFile map[run.ID]*os.File
}

// Options configures a Bus.
type Options struct {
	// JournalDir is the directory JSONL journal files are written to. Empty
	// disables journaling.
	JournalDir string
	Logger     telemetry.Logger
}

// New constructs a Bus.
func New(opts Options) *Bus {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Bus{
		journalDir:  opts.JournalDir,
		logger:      logger,
		runs:        make(map[run.ID]*runState),
		finished:    make(map[run.ID]struct{}),
		journalFile: make(map[run.ID]*os.File),
	}
}

// NewRun returns a fresh run identifier. It does not register the run; call
// EnsureRun before the first Emit.
func (b *Bus) NewRun(prefix string) run.ID {
	return run.NewID(prefix)
}

// EnsureRun creates the subscriber list for id and marks it active. Idempotent.
func (b *Bus) EnsureRun(id run.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rs, ok := b.runs[id]
	if !ok {
		rs = &runState{subs: make(map[*Queue]struct{})}
		b.runs[id] = rs
	}
	rs.mu.Lock()
	rs.active = true
	rs.mu.Unlock()
}

// Attach registers a new subscriber queue for id. Safe to call before or
// after EnsureRun (a pre-ensure subscriber waits for the run to start and
// then observes its events), and before or after Finish: a subscriber
// attached after Finish observes only the terminal sentinel.
func (b *Bus) Attach(id run.ID) *Queue {
	q := newQueue()
	if b.isFinished(id) {
		q.push(queueItem{done: true})
		return q
	}
	rs := b.runStateFor(id)
	rs.mu.Lock()
	if rs.finished {
		rs.mu.Unlock()
		q.push(queueItem{done: true})
		return q
	}
	rs.subs[q] = struct{}{}
	rs.mu.Unlock()
	return q
}

// Detach removes q from id's subscriber list. Drops the run entry from the
// map once its subscriber list becomes empty and the run is no longer active.
func (b *Bus) Detach(id run.ID, q *Queue) {
	rs := b.runStateForIfPresent(id)
	if rs == nil {
		return
	}
	rs.mu.Lock()
	delete(rs.subs, q)
	empty := len(rs.subs) == 0 && !rs.active
	rs.mu.Unlock()

	q.mu.Lock()
	q.closeLocked()
	q.mu.Unlock()

	if empty {
		b.mu.Lock()
		delete(b.runs, id)
		b.mu.Unlock()
	}
}

// Emit pushes event onto every currently-attached subscriber for its run and
// appends one JSONL line to the run's journal file (best-effort). Emit never
// blocks on a subscriber: each Queue is unbounded.
func (b *Bus) Emit(event Event) {
	rs := b.runStateForIfPresent(event.RunID)
	if rs != nil {
		rs.mu.Lock()
		for q := range rs.subs {
			q.push(queueItem{event: event})
		}
		rs.mu.Unlock()
	}
	b.appendJournal(event)
}

// Finish pushes the terminal sentinel to every currently-attached subscriber
// and marks the run no longer active. Journaled events remain on disk; the
// run id is tombstoned so a late Attach observes only the sentinel. Calling
// Finish again is a no-op.
func (b *Bus) Finish(id run.ID) {
	b.mu.Lock()
	if _, done := b.finished[id]; done {
		b.mu.Unlock()
		return
	}
	b.finished[id] = struct{}{}
	rs := b.runs[id]
	b.mu.Unlock()
	if rs == nil {
		b.closeJournal(id)
		return
	}
	rs.mu.Lock()
	rs.active = false
	rs.finished = true
	subs := make([]*Queue, 0, len(rs.subs))
	for q := range rs.subs {
		subs = append(subs, q)
	}
	empty := len(rs.subs) == 0
	rs.mu.Unlock()
	for _, q := range subs {
		q.push(queueItem{done: true})
	}
	if empty {
		b.mu.Lock()
		delete(b.runs, id)
		b.mu.Unlock()
	}
	b.closeJournal(id)
}

// IsActive reports whether id has been ensured and not yet finished.
func (b *Bus) IsActive(id run.ID) bool {
	rs := b.runStateForIfPresent(id)
	if rs == nil {
		return false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.active
}

// Stream attaches to id, invokes fn for every event delivered until the
// run's terminal sentinel or ctx cancellation, then detaches. It is a
// convenience wrapper over Attach/Next/Detach.
func (b *Bus) Stream(ctx context.Context, id run.ID, fn func(Event) error) error {
	q := b.Attach(id)
	defer b.Detach(id, q)
	for {
		ev, ok, err := q.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// ReadPersisted reads the full journal file for id, returning an empty slice
// if the journal is absent, empty, or unreadable.
func (b *Bus) ReadPersisted(id run.ID) []Event {
	if b.journalDir == "" {
		return nil
	}
	data, err := os.ReadFile(b.journalPath(id))
	if err != nil {
		return nil
	}
	var events []Event
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			break
		}
		events = append(events, ev)
	}
	return events
}

func (b *Bus) runStateFor(id run.ID) *runState {
	b.mu.Lock()
	defer b.mu.Unlock()
	rs, ok := b.runs[id]
	if !ok {
		rs = &runState{subs: make(map[*Queue]struct{})}
		b.runs[id] = rs
	}
	return rs
}

func (b *Bus) runStateForIfPresent(id run.ID) *runState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runs[id]
}

func (b *Bus) isFinished(id run.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.finished[id]
	return ok
}

func (b *Bus) journalPath(id run.ID) string {
	return filepath.Join(b.journalDir, string(id)+".jsonl")
}

func (b *Bus) appendJournal(event Event) {
	if b.journalDir == "" {
		return
	}
	line, err := event.MarshalJSONLine()
	if err != nil {
		b.logger.Warn(context.Background(), "trace journal: marshal event failed", "run_id", string(event.RunID), "error", err.Error())
		return
	}
	b.journalMu.Lock()
	defer b.journalMu.Unlock()
	f, ok := b.journalFile[event.RunID]
	if !ok {
		if err := os.MkdirAll(b.journalDir, 0o755); err != nil {
			b.logger.Warn(context.Background(), "trace journal: mkdir failed", "error", err.Error())
			return
		}
		f, err = os.OpenFile(b.journalPath(event.RunID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			b.logger.Warn(context.Background(), "trace journal: open failed", "run_id", string(event.RunID), "error", err.Error())
			return
		}
		b.journalFile[event.RunID] = f
	}
	if _, err := f.Write(line); err != nil {
		b.logger.Warn(context.Background(), "trace journal: write failed", "run_id", string(event.RunID), "error", err.Error())
	}
}

func (b *Bus) closeJournal(id run.ID) {
	b.journalMu.Lock()
	defer b.journalMu.Unlock()
	if f, ok := b.journalFile[id]; ok {
		_ = f.Close()
		delete(b.journalFile, id)
	}
}
