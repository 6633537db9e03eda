package fetch

import (
	"sync"

	"github.com/tilezen/go-tilefetch/feature"
)

// ResultKind tags a Result.
type ResultKind int

const (
	Success ResultKind = iota
	Failure
	Cancelled
)

func (k ResultKind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is delivered to data-changed subscribers. Features is set for
// Success, Err for Failure.
type Result struct {
	Kind      ResultKind
	Features  []*feature.Feature
	Err       error
	LayerName string
}

// Notifier fans a value out to subscribers. The zero value is ready to use.
type Notifier[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]func(T)
}

// Subscribe registers fn and returns a function that removes it.
func (n *Notifier[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs == nil {
		n.subs = make(map[int]func(T))
	}
	id := n.next
	n.next++
	n.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// Notify calls every subscriber with v. Subscribers run on the calling
// goroutine, outside the notifier lock.
func (n *Notifier[T]) Notify(v T) {
	n.mu.Lock()
	subs := make([]func(T), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}
