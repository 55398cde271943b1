// Package persist writes the document to disk: a debounced flush coordinator,
// a guarded atomic writer, and version snapshots of overwritten content.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before a scheduled flush runs.
const DefaultDebounce = time.Second

// ErrShutdown is returned by FlushNow after Shutdown.
var ErrShutdown = errors.New("flush coordinator shut down")

// FlushFunc serializes and writes the current document.
type FlushFunc func(ctx context.Context) error

// Coordinator debounces flush requests. All flush state is owned by one
// background goroutine; callers talk to it through channels.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	scheduleCh   chan struct{}
	cancelCh     chan chan struct{}
	timerFiredCh chan uint64
	flushNowCh   chan chan error
	shutdownCh   chan chan error

	wg sync.WaitGroup

	debounce time.Duration
	flush    FlushFunc
	log      *slog.Logger

	shutdownOnce sync.Once
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Debounce time.Duration
	Flush    FlushFunc
	Logger   *slog.Logger
}

// NewCoordinator starts a coordinator. It must be stopped with Shutdown.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		ctx:          ctx,
		cancel:       cancel,
		scheduleCh:   make(chan struct{}, 1),
		cancelCh:     make(chan chan struct{}),
		timerFiredCh: make(chan uint64, 8),
		flushNowCh:   make(chan chan error),
		shutdownCh:   make(chan chan error, 1),
		debounce:     opts.Debounce,
		flush:        opts.Flush,
		log:          opts.Logger,
	}
	if c.debounce <= 0 {
		c.debounce = DefaultDebounce
	}
	if c.log == nil {
		c.log = slog.New(slog.DiscardHandler)
	}
	if c.flush == nil {
		c.flush = func(context.Context) error { return nil }
	}

	c.wg.Add(1)
	go c.run()
	return c
}

// Schedule marks the document dirty and restarts the quiet period. It never
// blocks: one queued signal already covers any that follow it.
func (c *Coordinator) Schedule() {
	select {
	case c.scheduleCh <- struct{}{}:
	default:
	}
}

// Cancel drops a scheduled flush without running it. The document stays dirty
// only in the sense that the caller is expected to save it explicitly.
func (c *Coordinator) Cancel() {
	done := make(chan struct{})
	select {
	case c.cancelCh <- done:
		<-done
	case <-c.ctx.Done():
	}
}

// FlushNow runs a pending flush immediately and returns its error. It is a no-op
// when nothing is scheduled.
func (c *Coordinator) FlushNow() error {
	resp := make(chan error, 1)
	select {
	case c.flushNowCh <- resp:
		return <-resp
	case <-c.ctx.Done():
		return ErrShutdown
	}
}

// Shutdown flushes anything pending and stops the coordinator. Only the first
// call does work.
func (c *Coordinator) Shutdown() error {
	var err error
	c.shutdownOnce.Do(func() {
		resp := make(chan error, 1)
		select {
		case c.shutdownCh <- resp:
			err = <-resp
			c.wg.Wait()
			c.cancel()
		case <-time.After(30 * time.Second):
			c.cancel()
			err = fmt.Errorf("shutdown timeout after 30s - final flush may not have completed")
		}
	})
	return err
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	var (
		dirty bool
		timer *time.Timer
		seq   uint64
	)
	stop := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		// A timer that already fired may have queued its seq; bumping seq makes
		// it stale.
		seq++
	}
	defer stop()

	for {
		select {
		case <-c.scheduleCh:
			dirty = true
			stop()
			fire := seq
			timer = time.AfterFunc(c.debounce, func() {
				select {
				case c.timerFiredCh <- fire:
				default:
				}
			})

		case fired := <-c.timerFiredCh:
			if fired != seq || !dirty {
				continue
			}
			timer = nil
			dirty = false
			if err := c.flush(c.ctx); err != nil {
				c.log.Warn("scheduled flush failed", "error", err)
			}

		case done := <-c.cancelCh:
			stop()
			dirty = false
			close(done)

		case resp := <-c.flushNowCh:
			stop()
			if !dirty {
				resp <- nil
				continue
			}
			err := c.flush(c.ctx)
			if err == nil {
				dirty = false
			}
			resp <- err

		case resp := <-c.shutdownCh:
			stop()
			var err error
			if dirty {
				err = c.flush(c.ctx)
			}
			resp <- err
			return

		case <-c.ctx.Done():
			return
		}
	}
}
