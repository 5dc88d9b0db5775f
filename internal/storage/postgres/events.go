package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventLedger records externally delivered webhook event ids. INSERT with
// ON CONFLICT DO NOTHING makes the first-delivery check a single atomic
// statement.
type EventLedger struct {
	pool *pgxpool.Pool
}

// NewEventLedger returns an EventLedger that uses the given pool.
func NewEventLedger(pool *pgxpool.Pool) *EventLedger {
	return &EventLedger{pool: pool}
}

// MarkSeen records the (source, id) pair and reports whether this delivery
// was its first occurrence.
func (l *EventLedger) MarkSeen(ctx context.Context, source, id string) (bool, error) {
	tag, err := l.pool.Exec(ctx,
		`INSERT INTO processed_events (id, source) VALUES ($1, $2)
		 ON CONFLICT (id) DO NOTHING`,
		source+":"+id, source,
	)
	if err != nil {
		return false, fmt.Errorf("recording event %q: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}
