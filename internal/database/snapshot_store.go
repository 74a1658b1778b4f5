package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis keys for runtime snapshots
const (
	// LastCycleKey holds the unix-millisecond completion time of the last successful cycle
	LastCycleKey = "cryptoblade:last_cycle"
	// SymbolSnapshotPrefix + symbol holds that symbol's JSON inspection snapshot
	SymbolSnapshotPrefix = "cryptoblade:snapshot:"
	// SymbolSetKey lists symbols with a stored snapshot
	SymbolSetKey = "cryptoblade:symbols"

	SnapshotTTL = 24 * time.Hour
)

// SnapshotStore keeps the latest cycle time and per-symbol snapshots in Redis
// with an in-memory fallback cache used whenever Redis is unavailable.
type SnapshotStore struct {
	client    *redis.Client
	available atomic.Bool
	logger    zerolog.Logger

	mu        sync.RWMutex
	lastCycle time.Time
	snapshots map[string][]byte
}

// NewSnapshotStore creates a store. If client is nil the store is memory-only.
func NewSnapshotStore(ctx context.Context, client *redis.Client, logger zerolog.Logger) *SnapshotStore {
	s := &SnapshotStore{
		client:    client,
		logger:    logger.With().Str("component", "snapshot_store").Logger(),
		snapshots: make(map[string][]byte),
	}
	if client == nil {
		s.logger.Info().Msg("No Redis client provided, using in-memory snapshots only")
		return s
	}
	if err := s.CheckConnection(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Redis unavailable at startup, using in-memory snapshots")
	}
	return s
}

func (s *SnapshotStore) IsRedisAvailable() bool {
	return s.available.Load()
}

// CheckConnection pings Redis and updates availability
func (s *SnapshotStore) CheckConnection(ctx context.Context) error {
	if s.client == nil {
		return errors.New("no Redis client configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.available.Store(false)
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if !s.available.Swap(true) {
		s.logger.Info().Msg("Redis connection available")
	}
	return nil
}

func (s *SnapshotStore) redisUp() bool {
	return s.client != nil && s.available.Load()
}

// markDown records a failed Redis call; the caller falls back to memory
func (s *SnapshotStore) markDown(err error) {
	if s.available.Swap(false) {
		s.logger.Warn().Err(err).Msg("Redis write failed, falling back to in-memory snapshots")
	}
}

// SaveLastCycle stores the completion time of the last successful cycle
func (s *SnapshotStore) SaveLastCycle(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	s.lastCycle = t
	s.mu.Unlock()

	if !s.redisUp() {
		return nil
	}
	if err := s.client.Set(ctx, LastCycleKey, t.UnixMilli(), SnapshotTTL).Err(); err != nil {
		s.markDown(err)
		return err
	}
	return nil
}

// LastCycle returns the stored cycle time, preferring Redis so another
// process can check liveness.
func (s *SnapshotStore) LastCycle(ctx context.Context) (time.Time, bool) {
	if s.redisUp() {
		v, err := s.client.Get(ctx, LastCycleKey).Result()
		if err == nil {
			if ms, perr := strconv.ParseInt(v, 10, 64); perr == nil {
				return time.UnixMilli(ms).UTC(), true
			}
		} else if !errors.Is(err, redis.Nil) {
			s.markDown(err)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCycle, !s.lastCycle.IsZero()
}

// SaveSnapshot stores the JSON snapshot of one symbol
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, symbol string, data []byte) error {
	s.mu.Lock()
	s.snapshots[symbol] = append([]byte(nil), data...)
	s.mu.Unlock()

	if !s.redisUp() {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, SymbolSnapshotPrefix+symbol, data, SnapshotTTL)
	pipe.SAdd(ctx, SymbolSetKey, symbol)
	pipe.Expire(ctx, SymbolSetKey, SnapshotTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.markDown(err)
		return err
	}
	return nil
}

// Snapshot returns the stored JSON snapshot of symbol
func (s *SnapshotStore) Snapshot(ctx context.Context, symbol string) ([]byte, bool) {
	if s.redisUp() {
		data, err := s.client.Get(ctx, SymbolSnapshotPrefix+symbol).Bytes()
		if err == nil {
			return data, true
		}
		if !errors.Is(err, redis.Nil) {
			s.markDown(err)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.snapshots[symbol]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// DeleteSnapshot removes a symbol that left the tradable universe
func (s *SnapshotStore) DeleteSnapshot(ctx context.Context, symbol string) error {
	s.mu.Lock()
	delete(s.snapshots, symbol)
	s.mu.Unlock()

	if !s.redisUp() {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, SymbolSnapshotPrefix+symbol)
	pipe.SRem(ctx, SymbolSetKey, symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		s.markDown(err)
		return err
	}
	return nil
}

// Symbols lists symbols with a stored snapshot, sorted
func (s *SnapshotStore) Symbols(ctx context.Context) []string {
	if s.redisUp() {
		symbols, err := s.client.SMembers(ctx, SymbolSetKey).Result()
		if err == nil {
			sort.Strings(symbols)
			return symbols
		}
		s.markDown(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	symbols := make([]string, 0, len(s.snapshots))
	for symbol := range s.snapshots {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// SyncToRedis pushes the in-memory cache to Redis after it recovers
func (s *SnapshotStore) SyncToRedis(ctx context.Context) error {
	if err := s.CheckConnection(ctx); err != nil {
		return err
	}

	s.mu.RLock()
	lastCycle := s.lastCycle
	snapshots := make(map[string][]byte, len(s.snapshots))
	for k, v := range s.snapshots {
		snapshots[k] = v
	}
	s.mu.RUnlock()

	pipe := s.client.TxPipeline()
	if !lastCycle.IsZero() {
		pipe.Set(ctx, LastCycleKey, lastCycle.UnixMilli(), SnapshotTTL)
	}
	for symbol, data := range snapshots {
		pipe.Set(ctx, SymbolSnapshotPrefix+symbol, data, SnapshotTTL)
		pipe.SAdd(ctx, SymbolSetKey, symbol)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.markDown(err)
		return fmt.Errorf("sync snapshots: %w", err)
	}
	s.logger.Info().Int("symbols", len(snapshots)).Msg("Synced in-memory snapshots to Redis")
	return nil
}
