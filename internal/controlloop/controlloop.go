// Package controlloop implements the top-level fetch-reconcile-sync
// scheduler that drives the daemon for as long as it runs.
package controlloop

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/geofleet/ingestd/internal/extract"
	"github.com/geofleet/ingestd/internal/syncer"
)

const (
	defaultCycleDelay     = 8 * time.Hour
	defaultRescanDelay    = 60 * time.Second
	defaultShutdownWindow = 30 * time.Second
)

// Fetcher is the subset of *fetcher.Fetcher the control loop depends
// on.
type Fetcher interface {
	FetchAll(ctx context.Context, extracts []extract.Extract) (bool, []error)
}

// Reconciler is the subset of *reconciler.Reconciler the control loop
// depends on.
type Reconciler interface {
	Reconcile(ctx context.Context, extracts []extract.Extract, updated, initial bool) error
}

// Syncer is the subset of *syncer.Syncer the control loop depends on.
type Syncer interface {
	Sync(ctx context.Context) (syncer.Result, error)
}

// Config holds the scheduling parameters, named and defaulted to match
// the original engine's CLI flags.
type Config struct {
	// CycleDelay bounds how long one fetch_budget window runs before
	// the next top-of-loop fetch. Defaults to 8h.
	CycleDelay time.Duration

	// RescanDelay is the sleep between reconcile passes within one
	// cycle. Defaults to 60s.
	RescanDelay time.Duration

	// DynamicDB enables the deployment syncer call before and after
	// each reconcile pass.
	DynamicDB bool

	// AlwaysUpdate forces the first reconcile pass after every fetch to
	// behave as if an extract changed, even when the fetch found nothing
	// new; later passes in the same cycle run with updated=false.
	AlwaysUpdate bool

	// ShutdownTimeout bounds how long Stop waits for an in-flight
	// reconcile pass to finish before returning anyway. Defaults to
	// 30s.
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CycleDelay <= 0 {
		c.CycleDelay = defaultCycleDelay
	}
	if c.RescanDelay <= 0 {
		c.RescanDelay = defaultRescanDelay
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownWindow
	}
	return c
}

// ControlLoop runs the fetch -> reconcile -> sync -> sleep scheduler
// described for the daemon, grounded on the teacher's processor.Service
// Start/Stop/pollLoop shape: Start launches the loop in a goroutine,
// Stop signals it to exit and waits (bounded) for the in-flight pass to
// finish.
type ControlLoop struct {
	cfg        Config
	extracts   []extract.Extract
	fetcher    Fetcher
	reconciler Reconciler
	syncer     Syncer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a ControlLoop. syncer may be nil; it is only consulted
// when cfg.DynamicDB is true.
func New(cfg Config, extracts []extract.Extract, f Fetcher, r Reconciler, s Syncer) *ControlLoop {
	return &ControlLoop{
		cfg:        cfg.withDefaults(),
		extracts:   extracts,
		fetcher:    f,
		reconciler: r,
		syncer:     s,
	}
}

// Start launches the scheduler loop in a goroutine and returns
// immediately.
func (cl *ControlLoop) Start(ctx context.Context) error {
	cl.mu.Lock()
	if cl.running {
		cl.mu.Unlock()
		return fmt.Errorf("control loop already running")
	}
	cl.running = true
	cl.stopCh = make(chan struct{})
	cl.doneCh = make(chan struct{})
	cl.mu.Unlock()

	log.Println("control loop: starting")
	go cl.run(ctx)

	return nil
}

// Stop signals the loop to exit and waits up to cfg.ShutdownTimeout for
// the current phase to finish before returning.
func (cl *ControlLoop) Stop() error {
	cl.mu.Lock()
	if !cl.running {
		cl.mu.Unlock()
		return fmt.Errorf("control loop not running")
	}
	cl.running = false
	stopCh := cl.stopCh
	doneCh := cl.doneCh
	cl.mu.Unlock()

	log.Println("control loop: stopping")
	close(stopCh)

	select {
	case <-doneCh:
		log.Println("control loop: stopped gracefully")
	case <-time.After(cl.cfg.ShutdownTimeout):
		log.Println("control loop: shutdown timeout reached, returning anyway")
	}

	return nil
}

func (cl *ControlLoop) run(ctx context.Context) {
	defer close(cl.doneCh)

	initial := true

	for {
		if cl.stopped(ctx) {
			return
		}

		if cl.cfg.DynamicDB {
			cl.runSync(ctx)
		}

		updated, errs := cl.fetcher.FetchAll(ctx, cl.extracts)
		for _, err := range errs {
			log.Printf("control loop: fetch error: %v", err)
		}
		if cl.cfg.AlwaysUpdate {
			updated = true
		}

		if !cl.runCycle(ctx, updated, &initial) {
			return
		}
	}
}

// runCycle drains one fetch_budget window, reconciling every
// rescan_delay until the budget is exhausted or the loop is asked to
// stop. Returns false if the loop should exit entirely.
func (cl *ControlLoop) runCycle(ctx context.Context, updated bool, initial *bool) bool {
	fetchBudget := cl.cfg.CycleDelay

	for fetchBudget >= 0 {
		if cl.stopped(ctx) {
			return false
		}

		if err := cl.reconciler.Reconcile(ctx, cl.extracts, updated, *initial); err != nil {
			log.Printf("control loop: reconcile error: %v", err)
		}
		updated = false
		*initial = false

		if cl.cfg.DynamicDB {
			cl.runSync(ctx)
		}

		select {
		case <-ctx.Done():
			return false
		case <-cl.stopCh:
			return false
		case <-time.After(cl.cfg.RescanDelay):
		}

		fetchBudget -= cl.cfg.RescanDelay
	}

	return true
}

func (cl *ControlLoop) runSync(ctx context.Context) {
	if cl.syncer == nil {
		return
	}
	result, err := cl.syncer.Sync(ctx)
	if err != nil {
		log.Printf("control loop: deployment sync error: %v", err)
		return
	}
	for _, syncErr := range result.Errors {
		log.Printf("control loop: deployment sync item error: %v", syncErr)
	}
}

func (cl *ControlLoop) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-cl.stopCh:
		return true
	default:
		return false
	}
}
