/*
Package dispatch runs one worker goroutine per registered transport.

A worker repeatedly calls the poll function it was registered with until the
function returns false. Then the transport is removed from the registry and
closed. The registry lock is held only while the registry is edited and never
around transport i/o.
*/
package dispatch

import (
	"io"
	"log/slog"
	"sync"

	"code.hybscloud.com/atomix"

	"github.com/AmatsuZero/Common/transport"
)

// ID identifies a transport registered with a Dispatcher.
type ID = uint32

// PollFunc is called by a worker with its transport. Returning false stops the
// worker.
type PollFunc func(t transport.Transport) bool

// Config contains options for a Dispatcher.
type Config struct {
	// Logger receives worker lifecycle events. If nil, nothing is logged.
	Logger *slog.Logger
}

// Dispatcher is a registry of active transports.
// Use New to create a Dispatcher.
type Dispatcher struct {
	log *slog.Logger
	ids atomix.Uint32
	wg  sync.WaitGroup

	mu       sync.Mutex
	conns    map[ID]transport.Transport
	listener io.Closer
}

// New creates an empty Dispatcher.
func New(c Config) *Dispatcher {
	log := c.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		log:   log,
		conns: make(map[ID]transport.Transport),
	}
}

// Add registers t and starts a worker calling poll(t) until it returns false.
// It returns the id t is registered under.
func (d *Dispatcher) Add(t transport.Transport, poll PollFunc) ID {
	id := d.ids.Add(1)

	d.mu.Lock()
	d.conns[id] = t
	d.mu.Unlock()

	d.wg.Add(1)
	go d.work(id, t, poll)

	return id
}

func (d *Dispatcher) work(id ID, t transport.Transport, poll PollFunc) {
	defer d.wg.Done()

	d.log.Debug("worker started", "conn", id)
	for d.poll(id, t, poll) {
	}
	d.Remove(id)
	d.log.Debug("worker stopped", "conn", id)
}

func (d *Dispatcher) poll(id ID, t transport.Transport, poll PollFunc) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("poll panicked", "conn", id, "panic", r)
			ok = false
		}
	}()
	return poll(t)
}

// Remove unregisters transport with given id and closes it. It reports whether
// the transport was registered.
//
// The worker of the transport stops after its next poll observes the closed
// transport.
func (d *Dispatcher) Remove(id ID) bool {
	d.mu.Lock()
	t, ok := d.conns[id]
	delete(d.conns, id)
	d.mu.Unlock()

	if ok {
		if err := t.Close(); err != nil {
			d.log.Debug("close transport", "conn", id, "error", err)
		}
	}
	return ok
}

// RemoveAll closes every registered transport and the listener set by
// SetListener, and clears the registry. It may be called from any worker.
func (d *Dispatcher) RemoveAll() {
	d.mu.Lock()
	conns := d.conns
	ln := d.listener
	d.conns = make(map[ID]transport.Transport)
	d.listener = nil
	d.mu.Unlock()

	d.log.Debug("removing all transports", "count", len(conns))
	for id, t := range conns {
		if err := t.Close(); err != nil {
			d.log.Debug("close transport", "conn", id, "error", err)
		}
	}
	if ln != nil {
		if err := ln.Close(); err != nil {
			d.log.Debug("close listener", "error", err)
		}
	}
}

// SetListener sets the listening endpoint closed by RemoveAll.
func (d *Dispatcher) SetListener(ln io.Closer) {
	d.mu.Lock()
	d.listener = ln
	d.mu.Unlock()
}

// Len returns number of registered transports.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Wait blocks until all workers have stopped.
func (d *Dispatcher) Wait() { d.wg.Wait() }
