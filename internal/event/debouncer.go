package event

import (
	"sync"
	"time"
)

// Debouncer admits a key once per window. Providers redeliver webhooks and
// several hooks may fire for one push; only the first within the window counts.
type Debouncer struct {
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	admitted map[string]time.Time
}

// NewDebouncer creates a new debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:   window,
		now:      time.Now,
		admitted: make(map[string]time.Time),
	}
}

// Admit reports whether key was not admitted during the last window, and
// records it as admitted now if so.
func (d *Debouncer) Admit(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.admitted[key]; ok && now.Sub(at) < d.window {
		return false
	}
	d.admitted[key] = now
	return true
}

// Forget drops key so the next delivery is admitted. Used when handling the
// admitted delivery failed and the provider is expected to retry.
func (d *Debouncer) Forget(key string) {
	d.mu.Lock()
	delete(d.admitted, key)
	d.mu.Unlock()
}

// Cleanup drops keys whose window has passed and returns how many it dropped.
func (d *Debouncer) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-d.window)
	n := 0
	for key, at := range d.admitted {
		if !at.After(cutoff) {
			delete(d.admitted, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.admitted)
}
