// Package sqlite keeps crawl state and records in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"go.uber.org/zap"

	"github.com/JakeFAU/serialwatch/internal/crawler"
)

// timestamps are stored as fixed-width UTC text so they sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS crawl_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	last_confirmed_serial INTEGER NOT NULL,
	highest_known_valid_serial INTEGER NOT NULL,
	last_scan_timestamp TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS records (
	serial_number INTEGER PRIMARY KEY,
	mark_name TEXT NOT NULL,
	filing_date TEXT,
	filing_date_raw TEXT,
	status TEXT,
	status_date TEXT,
	mark_type TEXT,
	owner TEXT,
	goods_services TEXT,
	international_class TEXT,
	drawing_type TEXT,
	image_url TEXT,
	source_url TEXT,
	scraped_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_scraped_at ON records(scraped_at);
`

// Config captures the database location and the cold-start seed.
type Config struct {
	Path string
	Seed crawler.Serial
}

// Store implements crawler.StateStore and crawler.RecordSink.
type Store struct {
	db     *sql.DB
	seed   crawler.Serial
	logger *zap.Logger
}

// Open opens or creates the database and applies the schema.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := cfg.Path
	if cfg.Path != ":memory:" {
		dsn = cfg.Path + "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a :memory: database exists only on the connection that created it
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, seed: cfg.Seed, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Load returns the stored state or the seeded default.
func (s *Store) Load(ctx context.Context) (crawler.CrawlState, error) {
	var (
		state crawler.CrawlState
		ts    string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT last_confirmed_serial, highest_known_valid_serial, last_scan_timestamp
FROM crawl_state WHERE id = 1`).Scan(&state.LastConfirmedSerial, &state.HighestKnownValidSerial, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.DefaultState(s.seed), nil
	}
	if err != nil {
		return crawler.CrawlState{}, fmt.Errorf("load state: %w", err)
	}
	if state.LastScanTimestamp, err = parseTime(ts); err != nil {
		return crawler.CrawlState{}, fmt.Errorf("load state: %w", err)
	}
	return state, nil
}

// Save upserts the state row. The highest known serial is clamped in SQL.
func (s *Store) Save(ctx context.Context, state crawler.CrawlState) error {
	var stored crawler.Serial
	err := s.db.QueryRowContext(ctx, `
INSERT INTO crawl_state (id, last_confirmed_serial, highest_known_valid_serial, last_scan_timestamp)
VALUES (1, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	last_confirmed_serial = excluded.last_confirmed_serial,
	highest_known_valid_serial = MAX(crawl_state.highest_known_valid_serial, excluded.highest_known_valid_serial),
	last_scan_timestamp = excluded.last_scan_timestamp
RETURNING highest_known_valid_serial`,
		int64(state.LastConfirmedSerial),
		int64(state.HighestKnownValidSerial),
		formatTime(state.LastScanTimestamp),
	).Scan(&stored)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if stored > state.HighestKnownValidSerial {
		s.logger.Warn("refusing to lower highest known serial",
			zap.Int64("stored", int64(stored)),
			zap.Int64("proposed", int64(state.HighestKnownValidSerial)),
			zap.Error(crawler.ErrStateRegression),
		)
	}
	return nil
}

// Append inserts records, ignoring serials that already exist.
func (s *Store) Append(ctx context.Context, records []crawler.Record) (added int, err error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO records (
	serial_number, mark_name, filing_date, filing_date_raw, status, status_date, mark_type,
	owner, goods_services, international_class, drawing_type, image_url, source_url, scraped_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		res, execErr := stmt.ExecContext(ctx,
			int64(rec.Serial), rec.Title, rec.FilingDate, rec.FilingDateRaw, rec.Status, rec.StatusDate,
			rec.MarkType, rec.Owner, rec.Description, rec.ClassCode, rec.DrawingType, rec.ImageURL,
			rec.SourceURL, formatTime(rec.ScrapedAt),
		)
		if execErr != nil {
			return 0, fmt.Errorf("insert record %d: %w", rec.Serial, execErr)
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return 0, fmt.Errorf("rows affected: %w", raErr)
		}
		added += int(n)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit records: %w", err)
	}
	return added, nil
}

// Recent returns records scraped at or after since, ordered by serial.
func (s *Store) Recent(ctx context.Context, since time.Time) ([]crawler.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT serial_number, mark_name, filing_date, filing_date_raw, status, status_date, mark_type,
	owner, goods_services, international_class, drawing_type, image_url, source_url, scraped_at
FROM records WHERE scraped_at >= ? ORDER BY serial_number`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]crawler.Record, 0)
	for rows.Next() {
		var (
			rec     crawler.Record
			scraped string
		)
		if err := rows.Scan(&rec.Serial, &rec.Title, &rec.FilingDate, &rec.FilingDateRaw, &rec.Status,
			&rec.StatusDate, &rec.MarkType, &rec.Owner, &rec.Description, &rec.ClassCode, &rec.DrawingType,
			&rec.ImageURL, &rec.SourceURL, &scraped); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if rec.ScrapedAt, err = parseTime(scraped); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
