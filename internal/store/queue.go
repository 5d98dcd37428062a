package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/viralscope/viralscope/internal/model"
)

const queueCols = `request_id, username, source, priority, status, attempts,
	error_message, request_payload, submitted_at, last_attempt_at, completed_at`

// Enqueue inserts a queue item unless the username already has a PENDING or
// PROCESSING entry. Returns false when the item was suppressed as a
// duplicate; the item's RequestID is filled in on insert.
func (s *Postgres) Enqueue(ctx context.Context, item *model.QueueItem) (bool, error) {
	item.Username = NormalizeUsername(item.Username)
	if item.Username == "" {
		return false, eris.New("postgres: enqueue: empty username")
	}
	if item.Priority == "" {
		item.Priority = model.PriorityLow
	}
	if item.Source == "" {
		item.Source = "manual"
	}

	var payload []byte
	if item.Payload != nil {
		var err error
		payload, err = json.Marshal(item.Payload)
		if err != nil {
			return false, eris.Wrap(err, "postgres: marshal queue payload")
		}
	}

	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO queue (username, source, priority, status, request_payload)
		 SELECT $1, $2, $3, 'PENDING', $4
		 WHERE NOT EXISTS (
		   SELECT 1 FROM queue
		   WHERE username = $1 AND status IN ('PENDING', 'PROCESSING')
		 )
		 RETURNING request_id`,
		item.Username, item.Source, string(item.Priority), payload,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, eris.Wrapf(err, "postgres: enqueue %s", item.Username)
	}
	item.RequestID = id
	item.Status = model.StatusPending
	return true, nil
}

// ClaimNext atomically claims the oldest PENDING item, HIGH before LOW.
// Passing a priority restricts the claim to that band. A single UPDATE with
// FOR UPDATE SKIP LOCKED keeps concurrent workers from double-claiming.
// Returns nil when the queue is empty.
func (s *Postgres) ClaimNext(ctx context.Context, priority model.QueuePriority) (*model.QueueItem, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE queue SET status = 'PROCESSING', attempts = attempts + 1,
		   last_attempt_at = now()
		 WHERE request_id = (
		   SELECT request_id FROM queue
		   WHERE status = 'PENDING' AND ($1 = '' OR priority = $1)
		   ORDER BY CASE priority WHEN 'HIGH' THEN 0 ELSE 1 END, submitted_at
		   FOR UPDATE SKIP LOCKED
		   LIMIT 1
		 )
		 RETURNING `+queueCols,
		string(priority))

	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: claim next")
	}
	return item, nil
}

func scanQueueItem(row pgx.Row) (*model.QueueItem, error) {
	var item model.QueueItem
	var priority, status string
	var errMsg *string
	var payload []byte
	err := row.Scan(&item.RequestID, &item.Username, &item.Source, &priority,
		&status, &item.Attempts, &errMsg, &payload,
		&item.SubmittedAt, &item.LastAttemptAt, &item.CompletedAt)
	if err != nil {
		return nil, err
	}
	item.Priority = model.QueuePriority(priority)
	item.Status = model.QueueStatus(status)
	if errMsg != nil {
		item.ErrorMessage = *errMsg
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &item.Payload); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal queue payload")
		}
	}
	return &item, nil
}

// UpdateQueueStatus moves an item to a new status, setting completed_at when
// the status is terminal.
func (s *Postgres) UpdateQueueStatus(ctx context.Context, requestID string, status model.QueueStatus, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue SET status = $1, error_message = NULLIF($2, ''),
		 completed_at = CASE WHEN $1 IN ('COMPLETED', 'FAILED') THEN now() ELSE completed_at END
		 WHERE request_id = $3`,
		string(status), errorMessage, requestID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update queue status %s", requestID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("queue item not found: %s", requestID)
	}
	return nil
}

// QueueStats aggregates queue counts by status, priority, and source.
func (s *Postgres) QueueStats(ctx context.Context) (*model.QueueStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, priority, source, count(*) FROM queue
		 GROUP BY status, priority, source`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: queue stats")
	}
	defer rows.Close()

	stats := &model.QueueStats{
		ByPriority: make(map[string]int),
		BySource:   make(map[string]int),
	}
	for rows.Next() {
		var status, priority, source string
		var n int
		if err := rows.Scan(&status, &priority, &source, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan queue stats")
		}
		switch model.QueueStatus(status) {
		case model.StatusPending:
			stats.Pending += n
		case model.StatusProcessing:
			stats.Processing += n
		case model.StatusCompleted:
			stats.Completed += n
		case model.StatusFailed:
			stats.Failed += n
		case model.StatusPaused:
			stats.Paused += n
		}
		stats.ByPriority[priority] += n
		stats.BySource[source] += n
	}
	return stats, eris.Wrap(rows.Err(), "postgres: queue stats iterate")
}

// HasHighPending reports whether any HIGH priority item is waiting. The
// worker pool polls this to decide when to preempt LOW work.
func (s *Postgres) HasHighPending(ctx context.Context) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM queue WHERE status = 'PENDING' AND priority = 'HIGH')`,
	).Scan(&exists)
	return exists, eris.Wrap(err, "postgres: has high pending")
}

// QueueItemFor returns the most recent queue entry for a username; nil when
// the username was never queued.
func (s *Postgres) QueueItemFor(ctx context.Context, username string) (*model.QueueItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+queueCols+` FROM queue WHERE username = $1
		 ORDER BY submitted_at DESC LIMIT 1`,
		NormalizeUsername(username))
	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: queue item for %s", username)
	}
	return item, nil
}

// RecoverStuck returns PROCESSING items older than the threshold to PENDING.
// Run at worker startup so rows orphaned by a crash get picked up again.
func (s *Postgres) RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue SET status = 'PENDING'
		 WHERE status = 'PROCESSING' AND last_attempt_at < now() - $1::interval`,
		olderThan.String())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: recover stuck")
	}
	return int(tag.RowsAffected()), nil
}

// RequeuePaused returns every PAUSED item to PENDING, used once the HIGH
// burst that caused the preemption has drained.
func (s *Postgres) RequeuePaused(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue SET status = 'PENDING' WHERE status = 'PAUSED'`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: requeue paused")
	}
	return int(tag.RowsAffected()), nil
}
