package fetch

import (
	"context"
	"sync"
)

// State of a Machine.
type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker is pumped by a Machine. RunNext performs one unit of work and
// reports false when there was nothing to do.
type Worker interface {
	RunNext(ctx context.Context) bool
}

// Machine pumps a Worker on a single goroutine until it runs out of work.
// At most one pump goroutine exists per Machine, so units of work never
// overlap.
type Machine struct {
	worker Worker

	mu      sync.Mutex
	state   State
	looping bool
	kicked  bool
}

func NewMachine(w Worker) *Machine {
	return &Machine{worker: w}
}

// Start moves the machine to Running and makes sure a pump goroutine is
// draining the worker. Calling Start while running is a no-op apart from
// asking the pump to look for work once more before going idle.
func (m *Machine) Start(ctx context.Context) {
	m.mu.Lock()
	m.state = Running
	m.kicked = true
	if m.looping {
		m.mu.Unlock()
		return
	}
	m.looping = true
	m.mu.Unlock()

	go m.pump(ctx)
}

// Stop halts pumping once the current unit of work returns. It does not
// interrupt that unit.
func (m *Machine) Stop() {
	m.mu.Lock()
	if m.state == Running {
		m.state = Stopped
	}
	m.mu.Unlock()
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) pump(ctx context.Context) {
	for {
		m.mu.Lock()
		if m.state != Running {
			m.looping = false
			m.mu.Unlock()
			return
		}
		m.kicked = false
		m.mu.Unlock()

		if m.worker.RunNext(ctx) {
			continue
		}

		m.mu.Lock()
		if m.kicked && m.state == Running {
			m.mu.Unlock()
			continue
		}
		if m.state == Running {
			m.state = Idle
		}
		m.looping = false
		m.mu.Unlock()
		return
	}
}
