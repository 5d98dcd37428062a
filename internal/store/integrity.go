package store

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// VerifyIntegrity checks a just-finished dual write: the primary row must
// exist, and content/secondary counts must reach what the pipeline attempted
// to write. Partial shortfalls are warnings; a missing primary row, or zero
// content rows where some were expected, is an error and the caller should
// roll back.
func (s *Postgres) VerifyIntegrity(ctx context.Context, ownerID string, expectedContent, expectedSecondary int, username string) (*IntegrityReport, error) {
	report := &IntegrityReport{}
	username = NormalizeUsername(username)

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM primary_profiles WHERE id = $1)`,
		ownerID,
	).Scan(&exists)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: verify primary")
	}
	report.PrimaryPresent = exists
	if !exists {
		report.Errors = append(report.Errors,
			fmt.Sprintf("primary profile missing: %s", username))
	}

	err = s.pool.QueryRow(ctx,
		`SELECT count(*) FROM content WHERE username = $1`,
		username,
	).Scan(&report.ContentCount)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: verify content count")
	}
	if report.ContentCount == 0 && expectedContent > 0 {
		report.Errors = append(report.Errors,
			fmt.Sprintf("no content rows found, expected %d", expectedContent))
	} else if report.ContentCount < expectedContent {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("content shortfall: %d of %d", report.ContentCount, expectedContent))
	}

	err = s.pool.QueryRow(ctx,
		`SELECT count(*) FROM secondary_profiles WHERE discovered_by = $1`,
		ownerID,
	).Scan(&report.SecondaryCount)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: verify secondary count")
	}
	if report.SecondaryCount < expectedSecondary {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("secondary shortfall: %d of %d", report.SecondaryCount, expectedSecondary))
	}

	report.Success = len(report.Errors) == 0
	return report, nil
}

// Rollback removes everything written for one profile, children first so
// foreign keys never dangle. Safe to call twice; missing rows are not an
// error.
func (s *Postgres) Rollback(ctx context.Context, ownerID, username string) error {
	username = NormalizeUsername(username)

	steps := []struct {
		name string
		sql  string
		arg  string
	}{
		{"secondary_profiles", `DELETE FROM secondary_profiles WHERE discovered_by = $1`, ownerID},
		{"content", `DELETE FROM content WHERE username = $1`, username},
		{"primary_profiles", `DELETE FROM primary_profiles WHERE id = $1`, ownerID},
	}
	for _, step := range steps {
		tag, err := s.pool.Exec(ctx, step.sql, step.arg)
		if err != nil {
			return eris.Wrapf(err, "postgres: rollback %s", step.name)
		}
		zap.L().Info("rollback step",
			zap.String("table", step.name),
			zap.String("username", username),
			zap.Int64("rows", tag.RowsAffected()))
	}
	return nil
}
