package watch

import (
	"sync"
	"time"
)

// Debouncer runs an action once after a burst of triggers has gone quiet.
type Debouncer struct {
	mu     sync.Mutex
	timer  *time.Timer
	delay  time.Duration
	action func()
	seq    uint64
	wg     sync.WaitGroup
}

// NewDebouncer creates a debouncer that runs action delay after the last
// Trigger.
func NewDebouncer(delay time.Duration, action func()) *Debouncer {
	return &Debouncer{delay: delay, action: action}
}

// Trigger (re)starts the quiet period.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}

	// a timer that already fired but has not taken the lock yet sees a newer seq
	d.seq++
	seq := d.seq

	d.wg.Add(1)
	d.timer = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()

		d.mu.Lock()
		if d.seq != seq {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()

		d.action()
	})
}

// Cancel drops a pending action. An action already running is not waited for.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		if d.timer.Stop() {
			d.wg.Done()
		}
		d.timer = nil
	}
}

// CancelAndWait drops a pending action and waits for a running one.
func (d *Debouncer) CancelAndWait() {
	d.Cancel()
	d.wg.Wait()
}
