package forward

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/internal/reading"
	"github.com/temoto/hydrorelay/log2"
)

// Pending is one reading queued for one destination.
type Pending struct {
	ID       uuid.UUID
	Reading  *reading.Reading
	Enqueued time.Time

	// guarded by Destination.mu
	attempts uint32
	done     bool // completion guard of current attempt
}

func (p *Pending) String() string {
	return fmt.Sprintf("%s device=%s attempt=%d", p.ID, p.Reading.Name, p.attempts)
}

// Destination owns FIFO queue for one configured forwarding target.
// Head of queue is the only entry ever in flight.
type Destination struct {
	Device string
	Index  int
	Config config.Destination

	log *log2.Log

	mu    sync.Mutex
	queue []*Pending
	busy  bool
	timer *time.Timer

	stat struct {
		enqueued    uint64
		attempts    uint64
		success     uint64
		errors      uint64
		buffered    uint64
		duplicates  uint64
		lastAttempt atomic_clock.Clock
		lastSuccess atomic_clock.Clock
	}
}

func newDestination(device string, index int, cfg config.Destination, log *log2.Log) *Destination {
	return &Destination{
		Device: device,
		Index:  index,
		Config: cfg,
		log:    log.Tagged(cfg.Type),
	}
}

func (d *Destination) String() string {
	return fmt.Sprintf("%s/%d:%s", d.Device, d.Index, d.Config.String())
}

// Len is current queue length, including entry in flight.
func (d *Destination) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Busy reports whether an attempt is outstanding.
func (d *Destination) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

type Stat struct {
	Queue       int
	Enqueued    uint64
	Attempts    uint64
	Success     uint64
	Errors      uint64
	Buffered    uint64
	Duplicates  uint64
	LastAttempt time.Time
	LastSuccess time.Time
}

func (d *Destination) Stat() Stat {
	s := Stat{
		Queue:      d.Len(),
		Enqueued:   atomic.LoadUint64(&d.stat.enqueued),
		Attempts:   atomic.LoadUint64(&d.stat.attempts),
		Success:    atomic.LoadUint64(&d.stat.success),
		Errors:     atomic.LoadUint64(&d.stat.errors),
		Buffered:   atomic.LoadUint64(&d.stat.buffered),
		Duplicates: atomic.LoadUint64(&d.stat.duplicates),
	}
	now := time.Now()
	s.LastAttempt = clockTime(&d.stat.lastAttempt, now)
	s.LastSuccess = clockTime(&d.stat.lastSuccess, now)
	return s
}

// clock keeps monotonic offset, not wall time; convert relative to now.
func clockTime(c *atomic_clock.Clock, now time.Time) time.Time {
	if c.IsZero() {
		return time.Time{}
	}
	return now.Add(-atomic_clock.Since(c))
}

// caller must hold d.mu
func (d *Destination) locked_pop() {
	d.queue[0] = nil
	d.queue = d.queue[1:]
	if len(d.queue) == 0 {
		// release backing array grown during long outage
		d.queue = nil
	}
}
