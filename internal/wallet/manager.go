// Package wallet keeps the shared wallet balance snapshot current from REST
// polling and the user-data stream.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cryptoblade/internal/binance"
	"cryptoblade/internal/events"
	"cryptoblade/internal/models"

	"github.com/rs/zerolog"
)

const defaultPollInterval = 30 * time.Second

// Source fetches the authoritative balance
type Source interface {
	GetBalances(ctx context.Context) (models.Balance, error)
}

// Stream pushes wallet changes as they happen
type Stream interface {
	SubscribeWallet(ctx context.Context, handler func(models.Balance)) (binance.Subscription, error)
}

// Manager owns the balance snapshot. Readers never block; writers replace the
// snapshot atomically.
type Manager struct {
	source       Source
	stream       Stream // optional
	events       events.Publisher
	logger       zerolog.Logger
	pollInterval time.Duration

	current atomic.Pointer[models.Balance]
	writeMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	sub    binance.Subscription
	wg     sync.WaitGroup
}

// NewManager creates a wallet manager. stream and publisher may be nil.
func NewManager(source Source, stream Stream, publisher events.Publisher, pollInterval time.Duration, logger zerolog.Logger) *Manager {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	m := &Manager{
		source:       source,
		stream:       stream,
		events:       publisher,
		logger:       logger.With().Str("component", "wallet").Logger(),
		pollInterval: pollInterval,
	}
	m.current.Store(&models.Balance{})
	return m
}

// Balance returns the latest snapshot
func (m *Manager) Balance() models.Balance {
	return *m.current.Load()
}

// Start fetches the initial balance, subscribes to the stream and starts polling.
// A failed initial fetch is returned; a failed subscription falls back to polling.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return errors.New("wallet manager already started")
	}

	balance, err := m.source.GetBalances(ctx)
	if err != nil {
		return fmt.Errorf("initial balance: %w", err)
	}
	m.apply(balance)

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if m.stream != nil {
		sub, err := m.stream.SubscribeWallet(runCtx, m.apply)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Wallet stream unavailable, polling only")
		} else {
			m.sub = sub
		}
	}

	m.wg.Add(1)
	go m.pollLoop(runCtx)

	m.logger.Info().Str("wallet", balance.WalletBalance.String()).Msg("Wallet manager started")
	return nil
}

// Stop ends polling and closes the stream subscription
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, sub := m.cancel, m.sub
	m.cancel, m.sub = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if sub != nil {
		if err := sub.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("Wallet subscription close failed")
		}
	}
	m.wg.Wait()
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			balance, err := m.source.GetBalances(ctx)
			if err != nil {
				if ctx.Err() == nil {
					m.logger.Warn().Err(err).Msg("Balance poll failed")
				}
				continue
			}
			m.apply(balance)
		}
	}
}

// apply merges an update into the snapshot. Stream updates carry the wallet
// only, so the last known unrealized PnL is kept for them. Updates older than
// the snapshot are dropped.
func (m *Manager) apply(update models.Balance) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	prev := m.current.Load()
	if !update.UpdateTimestamp.IsZero() && update.UpdateTimestamp.Before(prev.UpdateTimestamp) {
		return
	}
	if update.Equity.IsZero() && update.UnrealizedPnl.IsZero() {
		update.UnrealizedPnl = prev.UnrealizedPnl
		update.RealizedPnl = prev.RealizedPnl
		update.Equity = update.WalletBalance.Add(prev.UnrealizedPnl)
	}
	if update.UpdateTimestamp.IsZero() {
		update.UpdateTimestamp = time.Now().UTC()
	}
	m.current.Store(&update)

	if m.events != nil && !update.WalletBalance.Equal(prev.WalletBalance) {
		m.events.Publish(events.BalanceUpdate(update))
	}
}
