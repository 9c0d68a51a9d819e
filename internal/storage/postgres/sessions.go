package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/serialwatch/internal/crawler"
)

// RecordSession writes one row per finished session. A non-empty errMsg marks it failed.
func (s *Store) RecordSession(ctx context.Context, summary crawler.SessionSummary, errMsg string) error {
	status := "succeeded"
	var errText *string
	if errMsg != "" {
		status = "failed"
		errText = &errMsg
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, mode, status, latest_serial, scan_start, scan_end, found, skipped, deferred,
	final_confirmed_serial, error_message, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	error_message = EXCLUDED.error_message,
	finished_at = EXCLUDED.finished_at`, s.tables.Sessions)

	_, err := s.pool.Exec(ctx, query,
		summary.ID,
		string(summary.Mode),
		status,
		int64(summary.LatestSerial),
		int64(summary.ScanStart),
		int64(summary.ScanEnd),
		summary.Found,
		summary.Skipped,
		summary.Deferred,
		int64(summary.FinalConfirmedSerial),
		errText,
		summary.StartedAt,
		summary.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record session: %w", err)
	}
	return nil
}
