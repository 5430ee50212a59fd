// Package forward is the forwarding queue and dispatch engine.
//
// Every Destination has own FIFO queue. Enqueue appends, and starts delivery
// when the queue was empty. Sink reports Outcome through one-shot completion;
// Success drops head and continues immediately, Error drops head and continues
// after RetryDelay, Buffer keeps head and retries it after RetryDelay.
// Destinations never wait for each other.
package forward

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/hydrorelay/helpers"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/internal/reading"
	"github.com/temoto/hydrorelay/log2"
)

const DefaultRetryDelay = config.DefaultRetryDelay

type Options struct {
	Log        *log2.Log
	RetryDelay time.Duration
	Metrics    *Metrics
}

type Engine struct {
	alive      *alive.Alive
	ctx        context.Context
	cancel     context.CancelFunc
	log        *log2.Log
	metrics    *Metrics
	retryDelay time.Duration

	mu           sync.RWMutex
	sinks        map[string]Sink
	devices      map[string][]*Destination
	destinations []*Destination
}

func NewEngine(opt Options) *Engine {
	if opt.RetryDelay <= 0 {
		opt.RetryDelay = DefaultRetryDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		alive:      alive.NewAlive(),
		ctx:        ctx,
		cancel:     cancel,
		log:        opt.Log,
		metrics:    opt.Metrics,
		retryDelay: opt.RetryDelay,
		sinks:      make(map[string]Sink),
		devices:    make(map[string][]*Destination),
	}
}

func (e *Engine) RetryDelay() time.Duration { return e.retryDelay }

// RegisterSink binds destination type tag to implementation.
// Later registration replaces earlier one.
func (e *Engine) RegisterSink(kind string, s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks[kind] = s
}

func (e *Engine) Sink(kind string) Sink {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sinks[kind]
}

// SinkKinds returns registered type tags, sorted.
func (e *Engine) SinkKinds() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	kinds := make([]string, 0, len(e.sinks))
	for k := range e.sinks {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// AddDestination creates queue for one forwarder of device.
func (e *Engine) AddDestination(device string, cfg config.Destination) *Destination {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := newDestination(device, len(e.devices[device]), cfg, e.log)
	e.devices[device] = append(e.devices[device], d)
	e.destinations = append(e.destinations, d)
	return d
}

// Load creates destinations for every configured device.
// Unsupported destination types are reported, such destinations still exist
// and every reading for them completes as Error.
func (e *Engine) Load(c *config.Config) error {
	errs := make([]error, 0)
	for _, name := range c.DeviceNames() {
		for _, dc := range c.Devices()[name] {
			d := e.AddDestination(name, dc)
			if e.Sink(dc.Type) == nil {
				errs = append(errs, errors.NotSupportedf("device=%s destination type=%s", name, dc.Type))
			}
			e.log.Debugf("device=%s destination=%s", name, d.String())
		}
	}
	return helpers.FoldErrors(errs)
}

// Destinations returns forwarders configured for device, nil if unknown.
func (e *Engine) Destinations(device string) []*Destination {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.devices[device]
}

func (e *Engine) AllDestinations() []*Destination {
	e.mu.RLock()
	defer e.mu.RUnlock()
	result := make([]*Destination, len(e.destinations))
	copy(result, e.destinations)
	return result
}

// Route enqueues reading to every destination of its device.
// Returns number of destinations.
func (e *Engine) Route(r *reading.Reading) int {
	ds := e.Destinations(r.Name)
	if len(ds) == 0 {
		e.log.Infof("no forwarders defined for device %s", r.Name)
		return 0
	}
	for _, d := range ds {
		e.Enqueue(d, r)
	}
	return len(ds)
}

// Enqueue appends reading to destination queue, starts delivery if the queue was empty.
func (e *Engine) Enqueue(d *Destination, r *reading.Reading) *Pending {
	p := &Pending{
		ID:       uuid.New(),
		Reading:  r,
		Enqueued: time.Now(),
	}
	d.mu.Lock()
	d.queue = append(d.queue, p)
	n := len(d.queue)
	d.mu.Unlock()
	atomic.AddUint64(&d.stat.enqueued, 1)
	e.metrics.queueLength(d, n)

	if n == 1 {
		e.dispatch(d)
	} else {
		d.log.Debugf("%s queued behind %d", p.ID, n-1)
	}
	return p
}

func (e *Engine) dispatch(d *Destination) {
	d.mu.Lock()
	if len(d.queue) == 0 || d.busy {
		d.mu.Unlock()
		return
	}
	if !e.alive.Add(1) {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	p := d.queue[0]
	p.done = false
	p.attempts++
	seq := p.attempts
	d.busy = true
	n := len(d.queue)
	d.mu.Unlock()

	atomic.AddUint64(&d.stat.attempts, 1)
	d.stat.lastAttempt.SetNow()
	d.log.Infof("forwarding to %s (%d in queue) %s", d.Config.String(), n, p.String())

	done := func(o Outcome) { e.complete(d, p, seq, o) }
	s := e.Sink(d.Config.Type)
	if s == nil {
		d.log.Errorf("config error: unsupported destination type=%s", d.Config.Type)
		done(Error)
		return
	}
	s.Attempt(e.ctx, p.Reading, &d.Config, done)
}

func (e *Engine) complete(d *Destination, p *Pending, seq uint32, o Outcome) {
	d.mu.Lock()
	if p.done || p.attempts != seq || len(d.queue) == 0 || d.queue[0] != p {
		d.mu.Unlock()
		atomic.AddUint64(&d.stat.duplicates, 1)
		d.log.Debugf("%s duplicate outcome=%s ignored", p.ID, o.String())
		return
	}
	p.done = true
	d.busy = false

	switch o {
	case Success, Error:
		d.locked_pop()
	case Buffer:
	default:
		d.log.Errorf("code error %s outcome=%s, dropping", p.ID, o.String())
		o = Error
		d.locked_pop()
	}
	n := len(d.queue)
	retry := n > 0 && o != Success && e.alive.IsRunning()
	if retry {
		d.timer = time.AfterFunc(e.retryDelay, func() { e.dispatch(d) })
	}
	d.mu.Unlock()

	switch o {
	case Success:
		atomic.AddUint64(&d.stat.success, 1)
		d.stat.lastSuccess.SetNow()
		e.metrics.delivered(time.Since(p.Enqueued).Seconds())
		d.log.Infof("successfully forwarded %s", p.ID)
	case Error:
		atomic.AddUint64(&d.stat.errors, 1)
		d.log.Errorf("error during forwarding %s, but not buffering", p.ID)
	case Buffer:
		atomic.AddUint64(&d.stat.buffered, 1)
		d.log.Infof("error during forwarding %s, buffered to be sent later (%d in queue)", p.ID, n)
	}
	e.metrics.delivery(d, o)
	e.metrics.queueLength(d, n)
	e.alive.Done()

	if n > 0 && o == Success {
		// continue without delay; own goroutine keeps stack flat when sink completes synchronously
		go e.dispatch(d)
	}
}

// Stop cancels retry timers and in-flight attempts context.
// Queued readings are discarded.
func (e *Engine) Stop() {
	e.alive.Stop()
	for _, d := range e.AllDestinations() {
		d.mu.Lock()
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
		d.mu.Unlock()
	}
	e.cancel()
}

// Wait returns after Stop and all in-flight attempts completed.
func (e *Engine) Wait() { e.alive.Wait() }

func (e *Engine) StopChan() <-chan struct{} { return e.alive.StopChan() }
