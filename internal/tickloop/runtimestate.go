package tickloop

import (
	"sync/atomic"
	"time"
)

// TickSummary aggregates one tick's outcomes for scheduler_health.
type TickSummary struct {
	Executed int `json:"executed"`
	OK       int `json:"ok"`
	Failed   int `json:"failed"`
	JobsDue  int `json:"jobs_due"`
}

// RuntimeState is the tick loop's small in-process status record, written
// only by the loop's own goroutine and read by the control RPC's health
// tool. It is published as an immutable snapshot behind an atomic pointer
// rather than guarded by a mutex, so readers never block on a tick in
// progress and always see a consistent, if momentarily stale, snapshot.
type RuntimeState struct {
	StartedAt       time.Time
	LastTickAt      time.Time
	LastTickSummary TickSummary
	ThreadAlive     bool
}

type stateBox struct {
	ptr atomic.Pointer[RuntimeState]
}

func newStateBox(startedAt time.Time) *stateBox {
	b := &stateBox{}
	b.ptr.Store(&RuntimeState{StartedAt: startedAt, ThreadAlive: true})
	return b
}

func (b *stateBox) load() RuntimeState {
	return *b.ptr.Load()
}

func (b *stateBox) publishTick(at time.Time, summary TickSummary) {
	prev := b.ptr.Load()
	next := &RuntimeState{
		StartedAt:       prev.StartedAt,
		LastTickAt:      at,
		LastTickSummary: summary,
		ThreadAlive:     true,
	}
	b.ptr.Store(next)
}

func (b *stateBox) markStopped() {
	prev := b.ptr.Load()
	next := *prev
	next.ThreadAlive = false
	b.ptr.Store(&next)
}
