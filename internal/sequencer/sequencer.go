package sequencer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/driftwoodlabs/pds/internal/common/clock"
	"github.com/driftwoodlabs/pds/internal/common/logger"
	"github.com/driftwoodlabs/pds/internal/observability/metrics"
)

// Sequencer appends ordered lifecycle events. Calls are awaited so the
// caller controls per-DID ordering; the global order comes from the
// durable log's sequence.
type Sequencer interface {
	SequenceIdentityEvent(ctx context.Context, evt IdentityEvent) error
	SequenceAccountEvent(ctx context.Context, evt AccountEvent) error
	SequenceCommitEvent(ctx context.Context, evt CommitEvent) error
	SequenceSyncEvent(ctx context.Context, evt SyncEvent) error
}

// PgSequencer writes events to postgres and then broadcasts them to
// connected firehose subscribers. The broadcast happens only after the
// row is durable so subscribers can resync from the log.
type PgSequencer struct {
	pool *pgxpool.Pool
	hub  *Hub
	clk  clock.Clock
	log  *logger.Logger
}

func NewPgSequencer(pool *pgxpool.Pool, hub *Hub, clk clock.Clock, log *logger.Logger) *PgSequencer {
	return &PgSequencer{pool: pool, hub: hub, clk: clk, log: log}
}

func (s *PgSequencer) SequenceIdentityEvent(ctx context.Context, evt IdentityEvent) error {
	return s.append(ctx, EventIdentity, evt.DID, evt)
}

func (s *PgSequencer) SequenceAccountEvent(ctx context.Context, evt AccountEvent) error {
	return s.append(ctx, EventAccount, evt.DID, evt)
}

func (s *PgSequencer) SequenceCommitEvent(ctx context.Context, evt CommitEvent) error {
	return s.append(ctx, EventCommit, evt.DID, evt)
}

func (s *PgSequencer) SequenceSyncEvent(ctx context.Context, evt SyncEvent) error {
	return s.append(ctx, EventSync, evt.DID, evt)
}

func (s *PgSequencer) append(ctx context.Context, eventType, did string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	row := s.pool.QueryRow(
		ctx,
		`INSERT INTO sequenced_events (did, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING seq`,
		did,
		eventType,
		body,
		s.clk.Now().UTC(),
	)

	var seq int64
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("failed to append %s event: %w", eventType, err)
	}

	metrics.SequencedEventsTotal.WithLabelValues(eventType).Inc()

	if s.hub != nil {
		s.hub.Broadcast(Frame{
			Seq:     seq,
			Type:    eventType,
			DID:     did,
			Payload: json.RawMessage(body),
			Time:    s.clk.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		})
	}

	return nil
}
