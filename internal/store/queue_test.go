package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralscope/viralscope/internal/model"
)

func queueRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"request_id", "username", "source", "priority", "status", "attempts",
		"error_message", "request_payload", "submitted_at", "last_attempt_at",
		"completed_at",
	})
}

func TestEnqueue_Inserts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO queue`).
		WithArgs("someuser", "manual", "HIGH", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"request_id"}).AddRow("req-1"))

	item := &model.QueueItem{Username: "SomeUser", Priority: model.PriorityHigh}
	inserted, err := s.Enqueue(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "req-1", item.RequestID)
	assert.Equal(t, model.StatusPending, item.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueue_DuplicateSuppressed(t *testing.T) {
	s, mock := newMockStore(t)

	// The guarded INSERT ... SELECT returns no row when an active entry
	// already exists for the username.
	mock.ExpectQuery(`INSERT INTO queue`).
		WithArgs("someuser", "manual", "LOW", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	inserted, err := s.Enqueue(context.Background(), &model.QueueItem{Username: "someuser"})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNext_ReturnsItem(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs("").
		WillReturnRows(queueRows().AddRow(
			"req-1", "someuser", "api", "HIGH", "PROCESSING", 1,
			nil, nil, now, &now, nil))

	item, err := s.ClaimNext(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "req-1", item.RequestID)
	assert.Equal(t, model.PriorityHigh, item.Priority)
	assert.Equal(t, model.StatusProcessing, item.Status)
	assert.Equal(t, 1, item.Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNext_EmptyQueue(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs("LOW").
		WillReturnError(pgx.ErrNoRows)

	item, err := s.ClaimNext(context.Background(), model.PriorityLow)
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateQueueStatus_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE queue SET status`).
		WithArgs("COMPLETED", "", "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateQueueStatus(context.Background(), "ghost", model.StatusCompleted, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestQueueStats_Aggregates(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`GROUP BY status, priority, source`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "priority", "source", "count"}).
			AddRow("PENDING", "HIGH", "api", 2).
			AddRow("PENDING", "LOW", "discovery", 5).
			AddRow("PROCESSING", "HIGH", "api", 1).
			AddRow("COMPLETED", "LOW", "discovery", 7).
			AddRow("PAUSED", "LOW", "discovery", 1))

	stats, err := s.QueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Pending)
	assert.Equal(t, 1, stats.Processing)
	assert.Equal(t, 7, stats.Completed)
	assert.Equal(t, 1, stats.Paused)
	assert.Equal(t, 16, stats.Total())
	assert.Equal(t, 3, stats.ByPriority["HIGH"])
	assert.Equal(t, 13, stats.ByPriority["LOW"])
	assert.Equal(t, 13, stats.BySource["discovery"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasHighPending(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	got, err := s.HasHighPending(context.Background())
	require.NoError(t, err)
	assert.True(t, got)
}

func TestRecoverStuck(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE queue SET status = 'PENDING'`).
		WithArgs("1m0s").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.RecoverStuck(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeuePaused(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`WHERE status = 'PAUSED'`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := s.RequeuePaused(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
