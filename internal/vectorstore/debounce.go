package vectorstore

import (
	"sync"
	"time"
)

type debounceState struct {
	timer   *time.Timer
	pending func()
}

// Debouncer coalesces repeated calls per key. The first call in a quiet
// period runs immediately; further calls inside the window collapse into a
// single trailing run when the window closes.
type Debouncer struct {
	window time.Duration

	mu     sync.Mutex
	keys   map[string]*debounceState
	closed bool
}

// NewDebouncer creates a Debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window, keys: make(map[string]*debounceState)}
}

// Trigger schedules fn for key.
func (d *Debouncer) Trigger(key string, fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if st, ok := d.keys[key]; ok {
		st.pending = fn
		d.mu.Unlock()
		return
	}
	st := &debounceState{}
	d.keys[key] = st
	st.timer = time.AfterFunc(d.window, func() { d.fire(key) })
	d.mu.Unlock()

	fn()
}

func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	st, ok := d.keys[key]
	if !ok {
		d.mu.Unlock()
		return
	}
	fn := st.pending
	if fn == nil || d.closed {
		delete(d.keys, key)
		d.mu.Unlock()
		return
	}
	st.pending = nil
	st.timer = time.AfterFunc(d.window, func() { d.fire(key) })
	d.mu.Unlock()

	fn()
}

// Stop cancels every scheduled trailing run.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for key, st := range d.keys {
		st.timer.Stop()
		delete(d.keys, key)
	}
}
