package service

import (
	"context"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultMaintenanceInterval = 1 * time.Hour
	defaultPhaseBudget         = 2 * time.Minute
	overflowDrainBatch         = 500
)

// CycleReport aggregates the per-phase results of one maintenance cycle.
type CycleReport struct {
	Decay          *DecayResult         `json:"decay"`
	ReviewRefresh  int                  `json:"review_refresh"`
	Consolidation  *ConsolidationResult `json:"consolidation,omitempty"`
	Forgetting     *ForgettingResult    `json:"forgetting"`
	Placement      *PlacementResult     `json:"placement"`
	OverflowDrain  int                  `json:"overflow_drained"`
	Reconciled     int                  `json:"reconciled"`
	DurationMillis int64                `json:"duration_ms"`
}

// Maintenance runs the periodic cycle: decay, review refresh, consolidation,
// forgetting, then placement. The order is load-bearing: decay must settle
// strengths before forgetting and placement read them, and consolidation sees
// post-decay importance.
type Maintenance struct {
	router        *Router
	decay         *DecayEngine
	review        *ReviewScheduler
	consolidation *ConsolidationEngine
	forgetting    *ForgettingEngine
	placement     *PlacementEngine
	overflow      *OverflowLog
	stats         *Stats
	logger        *zap.Logger

	interval    time.Duration
	phaseBudget time.Duration
	stopCh      chan struct{}
	triggerCh   chan chan *CycleReport
	wg          sync.WaitGroup

	mu         sync.Mutex
	lastReport *CycleReport
}

func NewMaintenance(router *Router, decay *DecayEngine, review *ReviewScheduler, consolidation *ConsolidationEngine, forgetting *ForgettingEngine, placement *PlacementEngine, overflow *OverflowLog, stats *Stats, logger *zap.Logger) *Maintenance {
	return &Maintenance{
		router:        router,
		decay:         decay,
		review:        review,
		consolidation: consolidation,
		forgetting:    forgetting,
		placement:     placement,
		overflow:      overflow,
		stats:         stats,
		logger:        logger,
		interval:      defaultMaintenanceInterval,
		phaseBudget:   defaultPhaseBudget,
		stopCh:        make(chan struct{}),
		// Unbuffered: a trigger only lands when the worker is there to take
		// it, otherwise TriggerNow runs the cycle inline.
		triggerCh: make(chan chan *CycleReport),
	}
}

func (m *Maintenance) SetInterval(d time.Duration) {
	m.interval = d
}

func (m *Maintenance) SetPhaseBudget(d time.Duration) {
	m.phaseBudget = d
}

func (m *Maintenance) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.logger.Info("maintenance worker started", zap.Duration("interval", m.interval))

		for {
			select {
			case <-ticker.C:
				m.RunCycle(context.Background())
			case done := <-m.triggerCh:
				done <- m.RunCycle(context.Background())
			case <-m.stopCh:
				m.logger.Info("maintenance worker stopped")
				return
			}
		}
	}()
}

func (m *Maintenance) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// TriggerNow runs a cycle on the worker goroutine and waits for its report.
// Falls back to running inline when the worker was never started.
func (m *Maintenance) TriggerNow(ctx context.Context) *CycleReport {
	done := make(chan *CycleReport, 1)
	select {
	case m.triggerCh <- done:
		select {
		case report := <-done:
			return report
		case <-ctx.Done():
			return nil
		}
	default:
		return m.RunCycle(ctx)
	}
}

// LastReport returns the most recent cycle report, or nil before the first
// cycle.
func (m *Maintenance) LastReport() *CycleReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReport
}

// RunCycle executes all phases in order, each under its own time budget.
func (m *Maintenance) RunCycle(ctx context.Context) *CycleReport {
	started := time.Now()
	now := started
	report := &CycleReport{}

	m.phase(ctx, func(ctx context.Context) {
		// State crossings reported by decay are picked up by the placement
		// phase later in this same cycle, which rescans every tier.
		report.Decay, _ = m.decay.Run(ctx, now)
	})

	m.phase(ctx, func(ctx context.Context) {
		report.ReviewRefresh = m.review.Refresh(ctx, now)
	})

	m.phase(ctx, func(ctx context.Context) {
		if m.consolidation.ShouldRun(ctx) || m.consolidation.ScheduledRunDue(now) {
			report.Consolidation = m.consolidation.Run(ctx, now)
		}
	})

	m.phase(ctx, func(ctx context.Context) {
		report.Forgetting = m.forgetting.Run(ctx, now)
	})

	m.phase(ctx, func(ctx context.Context) {
		report.Placement = m.placement.Run(ctx, now, m.router.PendingPromotions())
		report.Reconciled = m.placement.Reconcile(ctx)
	})

	m.phase(ctx, func(ctx context.Context) {
		drained, err := m.overflow.Drain(overflowDrainBatch, func(r *domain.Record) error {
			_, err := m.router.Write(ctx, r)
			return err
		})
		if err != nil {
			m.logger.Warn("overflow drain failed", zap.Error(err))
		}
		report.OverflowDrain = drained
	})

	report.DurationMillis = time.Since(started).Milliseconds()
	m.stats.ObserveCycle(time.Since(started), started)

	m.mu.Lock()
	m.lastReport = report
	m.mu.Unlock()

	m.logger.Info("maintenance cycle complete",
		zap.Int64("duration_ms", report.DurationMillis),
		zap.Int("decayed", report.Decay.Decayed),
		zap.Int("expired", report.Forgetting.Expired),
		zap.Int("promoted", report.Placement.Promoted),
		zap.Int("demoted", report.Placement.Demoted),
		zap.Int("overflow_drained", report.OverflowDrain))
	return report
}

func (m *Maintenance) phase(ctx context.Context, fn func(context.Context)) {
	phaseCtx, cancel := context.WithTimeout(ctx, m.phaseBudget)
	defer cancel()
	fn(phaseCtx)
}
