package database

import (
	"context"
	"fmt"
	"time"

	"cryptoblade/internal/events"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

const journalWriteTimeout = 5 * time.Second

// querier is satisfied by *pgxpool.Pool
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Journal records orders, unstuck actions and completed cycles
type Journal struct {
	q      querier
	logger zerolog.Logger
}

// NewJournal creates a journal writing through db
func NewJournal(db *DB, logger zerolog.Logger) *Journal {
	return newJournal(db.Pool, logger)
}

func newJournal(q querier, logger zerolog.Logger) *Journal {
	return &Journal{q: q, logger: logger.With().Str("component", "journal").Logger()}
}

// CycleRecord is one row of cycle_history
type CycleRecord struct {
	Cycle         int64     `db:"cycle" json:"cycle"`
	CompletedAt   time.Time `db:"completed_at" json:"completed_at"`
	DurationMs    int64     `db:"duration_ms" json:"duration_ms"`
	LongExposure  string    `db:"long_exposure" json:"long_exposure"`
	ShortExposure string    `db:"short_exposure" json:"short_exposure"`
	PnlPct        string    `db:"pnl_pct" json:"pnl_pct"`
	OpenLong      int32     `db:"open_long" json:"open_long"`
	OpenShort     int32     `db:"open_short" json:"open_short"`
}

// Attach subscribes the journal to the events it records
func (j *Journal) Attach(bus *events.EventBus) {
	for _, t := range []events.EventType{
		events.EventOrderPlaced,
		events.EventOrderUpdate,
		events.EventUnstuckTriggered,
		events.EventCycleCompleted,
	} {
		bus.Subscribe(t, j.Handle)
	}
}

// Handle writes one event. Failures are logged; trading never waits on the journal.
func (j *Journal) Handle(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()

	var err error
	switch ev.Type {
	case events.EventOrderPlaced, events.EventOrderUpdate:
		err = j.RecordOrder(ctx, ev)
	case events.EventUnstuckTriggered:
		err = j.RecordUnstuck(ctx, ev)
	case events.EventCycleCompleted:
		err = j.RecordCycle(ctx, ev)
	default:
		return
	}
	if err != nil {
		j.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("Journal write failed")
	}
}

// RecordOrder inserts an order placed or order update event
func (j *Journal) RecordOrder(ctx context.Context, ev events.Event) error {
	query := `
		INSERT INTO orders_journal (order_id, client_order_id, symbol, side, position_side, order_type, status,
			price, quantity, filled_quantity, reduce_only, reason, event, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::numeric, $9::text::numeric, $10::text::numeric, $11, $12, $13, $14)
	`
	reduceOnly, _ := ev.Data["reduce_only"].(bool)
	_, err := j.q.Exec(
		ctx, query,
		ev.String("order_id"), ev.String("client_order_id"), ev.String("symbol"), ev.String("side"),
		ev.String("position_side"), ev.String("order_type"), ev.String("status"),
		numeric(ev.String("price")), numeric(ev.String("quantity")), numeric(ev.String("filled_quantity")),
		reduceOnly, ev.String("reason"), string(ev.Type), ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", ev.String("order_id"), err)
	}
	return nil
}

// RecordUnstuck inserts an unstuck action
func (j *Journal) RecordUnstuck(ctx context.Context, ev events.Event) error {
	query := `
		INSERT INTO unstuck_actions (symbol, position_side, force, kill, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	force, _ := ev.Data["force"].(bool)
	kill, _ := ev.Data["kill"].(bool)
	_, err := j.q.Exec(ctx, query, ev.String("symbol"), ev.String("side"), force, kill, ev.Timestamp)
	return err
}

// RecordCycle inserts a completed cycle
func (j *Journal) RecordCycle(ctx context.Context, ev events.Event) error {
	query := `
		INSERT INTO cycle_history (cycle, completed_at, duration_ms, long_exposure, short_exposure, pnl_pct, open_long, open_short)
		VALUES ($1, $2, $3, $4::text::numeric, $5::text::numeric, $6::text::numeric, $7, $8)
		ON CONFLICT DO NOTHING
	`
	_, err := j.q.Exec(
		ctx, query,
		intField(ev.Data, "cycle"), ev.Timestamp, intField(ev.Data, "duration_ms"),
		numeric(ev.String("long_exposure")), numeric(ev.String("short_exposure")), numeric(ev.String("pnl_pct")),
		intField(ev.Data, "open_long"), intField(ev.Data, "open_short"),
	)
	return err
}

// RecentCycles returns the latest cycles, newest first
func (j *Journal) RecentCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	query := `
		SELECT cycle, completed_at, duration_ms,
		       COALESCE(long_exposure::text, '') AS long_exposure,
		       COALESCE(short_exposure::text, '') AS short_exposure,
		       COALESCE(pnl_pct::text, '') AS pnl_pct,
		       open_long, open_short
		FROM cycle_history
		ORDER BY completed_at DESC
		LIMIT $1
	`
	rows, err := j.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[CycleRecord])
}

// numeric maps an empty decimal string to NULL
func numeric(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func intField(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}
