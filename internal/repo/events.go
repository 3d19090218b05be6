package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-market/internal/events"
)

// EventStore appends domain events to the audit table.
type EventStore struct {
	Pool *pgxpool.Pool
}

// InsertEvent persists the event and returns it with id and timestamp set.
func (s *EventStore) InsertEvent(ctx context.Context, e events.Event) (events.Event, error) {
	err := s.Pool.QueryRow(ctx, `
INSERT INTO domain_events (topic, aggregate_id, payload)
VALUES ($1,$2,$3) RETURNING id, occurred_at`,
		e.Topic, e.AggregateID, e.Payload).Scan(&e.ID, &e.OccurredAt)
	if err != nil {
		return events.Event{}, fmt.Errorf("repo: insert event: %w", err)
	}
	return e, nil
}
