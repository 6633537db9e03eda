package fetch

import (
	"sync"
	"time"

	"github.com/bep/debounce"
)

// Delayer collapses bursts of calls into a single delayed call. Only the
// action passed to the most recent ExecuteDelayed runs.
type Delayer struct {
	mu        sync.Mutex
	wait      time.Duration
	debounced func(func())
}

// NewDelayer returns a Delayer waiting wait before running an action. A
// zero wait runs actions immediately on the calling goroutine.
func NewDelayer(wait time.Duration) *Delayer {
	d := &Delayer{}
	d.SetWait(wait)
	return d
}

func (d *Delayer) Wait() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wait
}

// SetWait changes the delay. An action still pending under the old delay
// is dropped.
func (d *Delayer) SetWait(wait time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.debounced != nil {
		d.debounced(func() {})
	}

	d.wait = wait
	d.debounced = nil
	if wait > 0 {
		d.debounced = debounce.New(wait)
	}
}

// ExecuteDelayed schedules action, replacing any action that has not run
// yet.
func (d *Delayer) ExecuteDelayed(action func()) {
	d.mu.Lock()
	debounced := d.debounced
	d.mu.Unlock()

	if debounced == nil {
		action()
		return
	}
	debounced(action)
}
