/*
scheduler.go - Automated cancellation sweep

PURPOSE:
  Periodically evaluates every active policy for cancellation due to
  non-payment, so lapsed policies are canceled without an operator calling
  the cancel endpoint.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Lists active policies and evaluates each with a non-forced cancel
  - Evaluations fan out over a bounded worker pool (sourcegraph/conc)
  - Per-policy failures are recorded in the report; the sweep continues

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Workers: Policies evaluated concurrently (default: 4)
  - Enabled: Whether the periodic sweep runs (default: true)

USAGE:
  sweeper := NewCancellationSweeper(engine, log)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - accounting/cancellation.go: EvaluateCancel
*/
package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/warp/policy-accounting/accounting"
)

// CancellationSweeper cancels lapsed policies on a timer.
type CancellationSweeper struct {
	Engine        *accounting.Engine
	CheckInterval time.Duration
	Workers       int
	Enabled       bool

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCancellationSweeper creates a sweeper with default settings.
func NewCancellationSweeper(engine *accounting.Engine, log *zap.Logger) *CancellationSweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &CancellationSweeper{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Workers:       4,
		Enabled:       true,
		log:           log.Named("sweeper"),
	}
}

// Start begins periodic sweeps. The first sweep runs immediately.
func (cs *CancellationSweeper) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		cs.log.Info("disabled, not starting")
		return
	}
	if cs.ticker != nil {
		return
	}

	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.stop = make(chan bool)
	cs.wg.Add(1)

	go cs.run()

	cs.log.Info("started", zap.Duration("interval", cs.CheckInterval), zap.Int("workers", cs.Workers))
}

// Stop stops the sweeper and waits for an in-flight sweep to finish.
func (cs *CancellationSweeper) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		cs.ticker = nil
		cs.log.Info("stopped")
	}
}

func (cs *CancellationSweeper) run() {
	defer cs.wg.Done()

	cs.sweep()

	for {
		select {
		case <-cs.ticker.C:
			cs.sweep()
		case <-cs.stop:
			return
		}
	}
}

func (cs *CancellationSweeper) sweep() {
	report, err := cs.RunOnce(context.Background(), accounting.Date{})
	if err != nil {
		cs.log.Error("sweep failed", zap.Error(err))
		return
	}
	cs.log.Info("sweep complete",
		zap.Stringer("as_of", report.AsOf),
		zap.Int("evaluated", report.Evaluated),
		zap.Int("canceled", len(report.Canceled)),
		zap.Int("failed", len(report.Failed)))
}

// =============================================================================
// SWEEP
// =============================================================================

// SweepReport is the outcome of one sweep.
type SweepReport struct {
	AsOf      accounting.Date
	Evaluated int
	Canceled  []accounting.PolicyID
	Failed    map[accounting.PolicyID]error
}

// DTO renders the report for the admin endpoint.
func (r SweepReport) DTO() SweepReportDTO {
	dto := SweepReportDTO{
		AsOf:      r.AsOf,
		Evaluated: r.Evaluated,
		Canceled:  r.Canceled,
	}
	if dto.Canceled == nil {
		dto.Canceled = []accounting.PolicyID{}
	}
	if len(r.Failed) > 0 {
		dto.Failed = make(map[string]string, len(r.Failed))
		for id, err := range r.Failed {
			dto.Failed[string(id)] = err.Error()
		}
	}
	return dto
}

type sweepOutcome struct {
	id       accounting.PolicyID
	canceled bool
	err      error
}

// RunOnce evaluates every active policy as of asOf (zero means today).
// Listing failures abort the sweep; per-policy failures are collected.
func (cs *CancellationSweeper) RunOnce(ctx context.Context, asOf accounting.Date) (SweepReport, error) {
	if asOf.IsZero() {
		asOf = cs.Engine.Today()
	}

	active := accounting.StatusActive
	policies, err := cs.Engine.ListPolicies(ctx, accounting.PolicyFilter{Status: &active})
	if err != nil {
		return SweepReport{}, err
	}

	workers := cs.Workers
	if workers < 1 {
		workers = 1
	}
	p := pool.NewWithResults[sweepOutcome]().WithMaxGoroutines(workers)
	for _, policy := range policies {
		id := policy.ID
		p.Go(func() sweepOutcome {
			return cs.evaluate(ctx, id, asOf)
		})
	}
	outcomes := p.Wait()

	report := SweepReport{AsOf: asOf, Failed: map[accounting.PolicyID]error{}}
	for _, o := range outcomes {
		report.Evaluated++
		switch {
		case o.err != nil:
			report.Failed[o.id] = o.err
		case o.canceled:
			report.Canceled = append(report.Canceled, o.id)
		}
	}
	sort.Slice(report.Canceled, func(i, j int) bool { return report.Canceled[i] < report.Canceled[j] })
	return report, nil
}

func (cs *CancellationSweeper) evaluate(ctx context.Context, id accounting.PolicyID, asOf accounting.Date) sweepOutcome {
	pa, err := cs.Engine.Open(ctx, id)
	if err != nil {
		cs.log.Warn("open failed", zap.String("policy_id", string(id)), zap.Error(err))
		return sweepOutcome{id: id, err: err}
	}
	result, err := pa.EvaluateCancel(ctx, accounting.CancelRequest{AsOf: asOf})
	if errors.Is(err, accounting.ErrPolicyCanceled) {
		// Canceled by another caller since the listing.
		return sweepOutcome{id: id}
	}
	if err != nil {
		cs.log.Warn("evaluation failed", zap.String("policy_id", string(id)), zap.Error(err))
		return sweepOutcome{id: id, err: err}
	}
	return sweepOutcome{id: id, canceled: result.Canceled}
}
