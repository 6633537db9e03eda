package render

import "sync"

// Pool hands out renderers so concurrent renders never share one. It grows
// without bound: a renderer is created whenever none is idle.
type Pool struct {
	newFn func() Renderer

	mu   sync.Mutex
	idle []Renderer
}

func NewPool(newFn func() Renderer) *Pool {
	return &Pool{newFn: newFn}
}

// Acquire returns an idle renderer, or a new one, and the function that
// gives it back. Calling release more than once has no effect.
func (p *Pool) Acquire() (r Renderer, release func()) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		r = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.mu.Unlock()

	if r == nil {
		r = p.newFn()
	}

	var once sync.Once
	return r, func() {
		once.Do(func() {
			p.mu.Lock()
			p.idle = append(p.idle, r)
			p.mu.Unlock()
		})
	}
}

// Idle returns the number of renderers waiting to be reused.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
