package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"titledeed/internal/deed/models"
	"titledeed/pkg/requestcontext"
)

// Drain claims up to limit unpublished outbox rows, hands them to publish and
// marks them processed in the same transaction. Rows locked by another relay
// are skipped. If publish fails nothing is marked.
func (s *PostgresStore) Drain(ctx context.Context, limit int, publish func(context.Context, []models.OutboxEntry) error) (int, error) {
	var n int
	err := s.runInTx(ctx, func(ctx context.Context) error {
		rows, err := s.execer(ctx).QueryContext(ctx, `
			SELECT id, event_type, aggregate_id, payload, created_at
			FROM outbox
			WHERE processed_at IS NULL
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return fmt.Errorf("claim outbox: %w", err)
		}
		var batch []models.OutboxEntry
		for rows.Next() {
			var e models.OutboxEntry
			if err := rows.Scan(&e.ID, &e.EventType, &e.AggregateID, &e.Payload, &e.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan outbox: %w", err)
			}
			batch = append(batch, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("claim outbox: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		if err := publish(ctx, batch); err != nil {
			return err
		}

		ids := make([]string, len(batch))
		for i, e := range batch {
			ids[i] = e.ID.String()
		}
		_, err = s.execer(ctx).ExecContext(ctx,
			`UPDATE outbox SET processed_at = $1 WHERE id = ANY($2::uuid[])`,
			requestcontext.Now(ctx), pq.Array(ids))
		if err != nil {
			return fmt.Errorf("mark outbox processed: %w", err)
		}
		n = len(batch)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
