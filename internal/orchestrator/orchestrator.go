// Package orchestrator runs the multi-symbol trading cycle: it owns one
// strategy.State per tradable symbol, refreshes market and account data,
// decides which symbols may open, extend or unstuck, and fans execution out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cryptoblade/internal/binance"
	"cryptoblade/internal/events"
	"cryptoblade/internal/models"
	"cryptoblade/internal/sizing"
	"cryptoblade/internal/strategy"
	"cryptoblade/internal/throttle"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SnapshotStore persists the liveness timestamp and per-symbol snapshots
type SnapshotStore interface {
	SaveLastCycle(ctx context.Context, t time.Time) error
	SaveSnapshot(ctx context.Context, symbol string, data []byte) error
	DeleteSnapshot(ctx context.Context, symbol string) error
}

// Deps are the collaborators injected into the orchestrator. Streams,
// Events and Snapshots are optional.
type Deps struct {
	Exchange  binance.Exchange
	Streams   binance.Streams
	Balance   strategy.BalanceProvider
	Signals   func(symbol string) (strategy.SignalProvider, error)
	Sizer     sizing.Sizer
	Throttler *throttle.Throttler
	Events    events.Publisher
	Snapshots SnapshotStore
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Status is the portfolio-level view exposed to the HTTP surface
type Status struct {
	Mode          string              `json:"mode"`
	Strategy      string              `json:"strategy"`
	Cycle         int64               `json:"cycle"`
	LastCycle     time.Time           `json:"last_cycle"`
	LastCycleMs   int64               `json:"last_cycle_ms"`
	Healthy       bool                `json:"healthy"`
	Symbols       int                 `json:"symbols"`
	Excluded      map[string]string   `json:"excluded"`
	LongExposure  decimal.NullDecimal `json:"long_exposure"`
	ShortExposure decimal.NullDecimal `json:"short_exposure"`
	PnlPct        decimal.NullDecimal `json:"pnl_pct"`
	OpenLong      int                 `json:"open_long"`
	OpenShort     int                 `json:"open_short"`
	CriticalLong  bool                `json:"critical_long"`
	CriticalShort bool                `json:"critical_short"`
}

// Orchestrator owns the symbol map and runs the scheduling loop
type Orchestrator struct {
	cfg      Config
	deps     Deps
	logger   zerolog.Logger
	interval time.Duration
	updates  *updateQueue

	// mu guards the symbol map and the cycle bookkeeping, never exchange I/O
	mu           sync.RWMutex
	states       map[string]*strategy.State
	excluded     map[string]string
	status       Status
	lastUniverse time.Time
	hedgeReady   bool

	subsMu    sync.Mutex
	subs      []binance.Subscription
	streaming bool
}

// New validates the configuration and creates an orchestrator
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	interval, ok := models.IntervalDuration(cfg.Timeframe)
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", cfg.Timeframe)
	}
	if deps.Exchange == nil {
		return nil, errors.New("exchange is required")
	}
	if deps.Sizer == nil {
		return nil, errors.New("sizer is required")
	}
	if deps.Signals == nil {
		name := cfg.StrategyName
		deps.Signals = func(string) (strategy.SignalProvider, error) {
			return strategy.NewSignalProvider(name)
		}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.PlacementConcurrency <= 0 {
		cfg.PlacementConcurrency = 8
	}
	if cfg.HealthStaleness <= 0 {
		cfg.HealthStaleness = 5 * time.Minute
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDynamic
	}

	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.With().Str("component", "orchestrator").Logger(),
		interval: interval,
		updates:  newUpdateQueue(),
		states:   make(map[string]*strategy.State),
		excluded: make(map[string]string),
		status:   Status{Mode: cfg.Mode, Strategy: cfg.StrategyName},
	}, nil
}

// Run initializes the symbol universe and cycles until ctx is cancelled.
// Cancellation is a clean shutdown and returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Initialize(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer o.closeSubscriptions()

	o.logger.Info().Int("symbols", o.symbolCount()).Str("mode", o.cfg.Mode).Msg("Orchestrator started")
	for {
		if err := o.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				o.logger.Info().Msg("Orchestrator stopped")
				return nil
			}
			o.logger.Error().Err(err).Msg("Cycle failed")
			o.publish(events.Error("orchestrator", "cycle failed", err))
		}

		if o.universeDue() {
			if err := o.refreshUniverse(ctx); err != nil && ctx.Err() == nil {
				o.logger.Error().Err(err).Msg("Universe refresh failed")
			}
		}

		select {
		case <-ctx.Done():
			o.logger.Info().Msg("Orchestrator stopped")
			return nil
		case <-time.After(o.cfg.CycleDelay):
		}
	}
}

// ==================== INSPECTION ====================

func (o *Orchestrator) symbolCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.states)
}

// snapshotStates copies the symbol map so callers can do I/O without the lock
func (o *Orchestrator) snapshotStates() []*strategy.State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*strategy.State, 0, len(o.states))
	for _, st := range o.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol() < out[j].Symbol() })
	return out
}

// Strategies returns snapshots of every symbol, sorted by symbol
func (o *Orchestrator) Strategies() []strategy.Snapshot {
	states := o.snapshotStates()
	out := make([]strategy.Snapshot, 0, len(states))
	for _, st := range states {
		out = append(out, st.Snapshot())
	}
	return out
}

func (o *Orchestrator) Strategy(symbol string) (strategy.Snapshot, bool) {
	o.mu.RLock()
	st, ok := o.states[symbol]
	o.mu.RUnlock()
	if !ok {
		return strategy.Snapshot{}, false
	}
	return st.Snapshot(), true
}

// LastCycle returns when the last cycle completed successfully
func (o *Orchestrator) LastCycle() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status.LastCycle
}

// Healthy reports whether a cycle completed within the staleness threshold
func (o *Orchestrator) Healthy() bool {
	last := o.LastCycle()
	return !last.IsZero() && o.deps.Now().Sub(last) <= o.cfg.HealthStaleness
}

func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	s := o.status
	s.Symbols = len(o.states)
	s.Excluded = make(map[string]string, len(o.excluded))
	for k, v := range o.excluded {
		s.Excluded[k] = v
	}
	o.mu.RUnlock()

	s.Healthy = o.Healthy()
	return s
}

func (o *Orchestrator) publish(e events.Event) {
	if o.deps.Events != nil {
		o.deps.Events.Publish(e)
	}
}
