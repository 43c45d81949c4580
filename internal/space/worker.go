package space

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/exert/internal/dispatch"
	"github.com/mattjoyce/exert/internal/fault"
	"github.com/mattjoyce/exert/internal/log"
	"github.com/mattjoyce/exert/internal/naming"
	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/strategy"
	"github.com/mattjoyce/exert/internal/wire"
)

// DefaultTickInterval is how often an idle worker looks for entries.
const DefaultTickInterval = 200 * time.Millisecond

// Worker takes entries from a Space and exerts them locally.
type Worker struct {
	space    *Space
	exerter  *dispatch.Dispatcher
	name     string
	interval time.Duration
	gen      naming.Generator
	logger   *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a worker named name. The dispatcher should not itself
// be configured with s as its space unless PULL routines may nest.
func NewWorker(s *Space, d *dispatch.Dispatcher, name string, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Worker{
		space:    s,
		exerter:  d,
		name:     name,
		interval: interval,
		gen:      naming.NewSequence(),
		logger:   log.WithComponent("space-worker").With("worker", name),
		stopCh:   make(chan struct{}),
	}
}

// Start releases entries left taken by a previous run, then begins the
// tick loop.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("starting space worker")
	n, err := w.space.Release(ctx)
	if err != nil {
		return fmt.Errorf("space worker recovery failed: %w", err)
	}
	if n > 0 {
		w.logger.Warn("released orphaned space entries", "count", n)
	}

	w.wg.Add(1)
	go w.tickLoop(ctx)
	return nil
}

// Stop ends the tick loop and waits for the current entry to finish.
func (w *Worker) Stop() {
	w.logger.Info("stopping space worker")
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Worker) tickLoop(ctx context.Context) {
	defer w.wg.Done()

	w.drain(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.drain(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// drain processes entries until the space is empty.
func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}
		ok, err := w.ProcessNext(ctx)
		if err != nil {
			w.logger.Error("space entry processing failed", "error", err)
			return
		}
		if !ok {
			return
		}
	}
}

// ProcessNext takes one entry, exerts it with PUSH access and completes it.
// It reports false when the space was empty.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	e, err := w.space.Take(ctx, w.name)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}
	logger := w.logger.With("entry_id", e.ID, "routine", e.Routine)

	out := w.exert(ctx, logger, e)
	if err := w.space.Complete(ctx, e.ID, out); err != nil {
		return true, fmt.Errorf("complete entry %s: %w", e.ID, err)
	}
	logger.Info("space entry completed", "status", out.Status.String())
	return true, nil
}

func (w *Worker) exert(ctx context.Context, logger *slog.Logger, e *Entry) *dispatch.SpaceOutcome {
	r, err := wire.DecodeRoutine(w.gen, e.Payload, false)
	if err != nil {
		logger.Error("undecodable space entry", "error", err)
		return &dispatch.SpaceOutcome{Status: routine.Error, Faults: []string{err.Error()}}
	}

	_, err = w.exerter.Exert(ctx, r, routine.Override(strategy.Override().WithAccess(strategy.Push)))
	out := &dispatch.SpaceOutcome{Status: r.Status(), Context: r.Context()}
	if err != nil {
		var rf *fault.RoutineFault
		if errors.As(err, &rf) {
			for _, f := range rf.Trace() {
				out.Faults = append(out.Faults, f.Error())
			}
		}
		if len(out.Faults) == 0 {
			out.Faults = []string{err.Error()}
		}
		if !out.Status.IsTerminal() {
			out.Status = routine.Error
		}
	}
	return out
}
