package store

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyIntegrity_Clean(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("pp-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT count\(\*\) FROM content`).
		WithArgs("someuser").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(50))
	mock.ExpectQuery(`SELECT count\(\*\) FROM secondary_profiles`).
		WithArgs("pp-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(20))

	report, err := s.VerifyIntegrity(context.Background(), "pp-1", 50, 20, "SomeUser")
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.True(t, report.PrimaryPresent)
	assert.Empty(t, report.Warnings)
	assert.Empty(t, report.Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyIntegrity_ShortfallIsWarning(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT count\(\*\) FROM content`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(40))
	mock.ExpectQuery(`SELECT count\(\*\) FROM secondary_profiles`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(20))

	report, err := s.VerifyIntegrity(context.Background(), "pp-1", 50, 20, "someuser")
	require.NoError(t, err)
	assert.True(t, report.Success, "count shortfall degrades, it does not fail")
	assert.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "40 of 50")
}

func TestVerifyIntegrity_TotalContentLossIsError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT count\(\*\) FROM content`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM secondary_profiles`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(5))

	report, err := s.VerifyIntegrity(context.Background(), "pp-1", 12, 5, "someuser")
	require.NoError(t, err)
	assert.False(t, report.Success, "zero rows where some were expected is a failed write, not a shortfall")
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "expected 12")
	assert.Empty(t, report.Warnings)
}

func TestVerifyIntegrity_MissingPrimaryIsError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`SELECT count\(\*\) FROM content`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM secondary_profiles`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))

	report, err := s.VerifyIntegrity(context.Background(), "pp-1", 0, 0, "someuser")
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.False(t, report.PrimaryPresent)
	require.Len(t, report.Errors, 1)
}

func TestRollback_DeletesChildrenFirst(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM secondary_profiles WHERE discovered_by`).
		WithArgs("pp-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 20))
	mock.ExpectExec(`DELETE FROM content WHERE username`).
		WithArgs("someuser").
		WillReturnResult(pgxmock.NewResult("DELETE", 50))
	mock.ExpectExec(`DELETE FROM primary_profiles WHERE id`).
		WithArgs("pp-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err := s.Rollback(context.Background(), "pp-1", "SomeUser")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollback_IdempotentOnMissingRows(t *testing.T) {
	s, mock := newMockStore(t)

	for _, q := range []string{
		`DELETE FROM secondary_profiles`,
		`DELETE FROM content`,
		`DELETE FROM primary_profiles`,
	} {
		mock.ExpectExec(q).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	}

	err := s.Rollback(context.Background(), "pp-1", "someuser")
	require.NoError(t, err)
}
