package worker

import (
	"context"
	"log"
	"sync"
	"time"
)

// Reaper recovers campaigns stuck in generating after a crash: any
// campaign generating for longer than the threshold goes back to draft
// with progress 0. Posts written before the crash stay.
type Reaper struct {
	store     Store
	threshold time.Duration
	interval  time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewReaper creates a reaper sweeping at the given interval.
func NewReaper(store Store, threshold, interval time.Duration) *Reaper {
	return &Reaper{store: store, threshold: threshold, interval: interval}
}

// Start begins the background sweep loop.
func (r *Reaper) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.mu.Unlock()

	log.Printf("[Reaper] Starting (threshold=%s, sweep=%s)", r.threshold, r.interval)
	r.wg.Add(1)
	go r.loop()
}

// Stop halts the sweep loop and waits for it to exit.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Reaper) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.ctx)
		}
	}
}

// Sweep resets stuck campaigns once. Exposed for tests and for an
// explicit sweep at boot.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.threshold)
	n, err := r.store.ResetStuck(ctx, cutoff)
	if err != nil {
		log.Printf("[Reaper] Sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Reaper] Reset %d stuck campaign(s) to draft", n)
	}
}
