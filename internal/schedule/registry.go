package schedule

import (
	"sync"
	"time"
)

// Registry maps job keys to live timers and enforces the
// at-most-one-timer-per-key invariant.
//
// Arm always cancels any existing timer under the key before installing the
// new one; duplicate prevention is never a lookup-then-insert race. Each arm
// bumps a per-key generation, and a timer that fires must claim its key at
// the current generation before running. A timer whose Stop() lost the race
// with the runtime (callback already scheduled) fails the claim and becomes
// a no-op instead of a stale fire.
type Registry struct {
	mu     sync.Mutex
	timers map[string]*armedTimer
	gens   map[string]uint64
}

type armedTimer struct {
	gen   uint64
	timer *time.Timer
}

func NewRegistry() *Registry {
	return &Registry{
		timers: map[string]*armedTimer{},
		gens:   map[string]uint64{},
	}
}

// Arm installs fn to run after delay, replacing any pending timer for key.
func (r *Registry) Arm(key string, delay time.Duration, fn func()) {
	r.mu.Lock()
	if cur := r.timers[key]; cur != nil {
		cur.timer.Stop()
	}
	r.gens[key]++
	gen := r.gens[key]
	at := &armedTimer{gen: gen}
	at.timer = time.AfterFunc(delay, func() {
		if !r.claim(key, gen) {
			return
		}
		fn()
	})
	r.timers[key] = at
	r.mu.Unlock()
}

// claim consumes the armed timer for key if it is still the current
// generation. A successful claim transitions the key to unarmed.
func (r *Registry) claim(key string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.timers[key]
	if cur == nil || cur.gen != gen {
		return false
	}
	delete(r.timers, key)
	return true
}

// Cancel stops and removes the pending timer for key. Canceling an absent
// key is a no-op, not an error.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.timers[key]
	if cur == nil {
		return false
	}
	cur.timer.Stop()
	// Bump the generation so an already-scheduled callback fails its claim.
	r.gens[key]++
	delete(r.timers, key)
	return true
}

// Armed reports whether key currently has a pending timer.
func (r *Registry) Armed(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timers[key] != nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.timers))
	for k := range r.timers {
		out = append(out, k)
	}
	return out
}

// CancelAll stops every pending timer.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, at := range r.timers {
		at.timer.Stop()
		r.gens[k]++
		delete(r.timers, k)
	}
}
