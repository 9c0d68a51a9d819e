package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/serialwatch/internal/crawler"
)

// Store implements crawler.StateStore and crawler.RecordSink on Postgres.
type Store struct {
	pool   pool
	tables Tables
	seed   crawler.Serial
	logger *zap.Logger
}

// NewStore connects a pool and wraps it.
func NewStore(ctx context.Context, cfg PoolConfig, tables Tables, seed crawler.Serial, logger *zap.Logger) (*Store, error) {
	p, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := NewStoreWithPool(p, tables, seed, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, tables Tables, seed crawler.Serial, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	tables = tables.withDefaults()
	if err := tables.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: p, tables: tables, seed: seed, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id SMALLINT PRIMARY KEY CHECK (id = 1),
	last_confirmed_serial BIGINT NOT NULL,
	highest_known_valid_serial BIGINT NOT NULL,
	last_scan_timestamp TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS %[2]s (
	serial_number BIGINT PRIMARY KEY,
	mark_name TEXT NOT NULL,
	filing_date TEXT NOT NULL DEFAULT '',
	filing_date_raw TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	status_date TEXT NOT NULL DEFAULT '',
	mark_type TEXT NOT NULL DEFAULT '',
	owner TEXT NOT NULL DEFAULT '',
	goods_services TEXT NOT NULL DEFAULT '',
	international_class TEXT NOT NULL DEFAULT '',
	drawing_type TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	scraped_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS %[3]s (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	status TEXT NOT NULL,
	latest_serial BIGINT NOT NULL,
	scan_start BIGINT NOT NULL,
	scan_end BIGINT NOT NULL,
	found INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	deferred BIGINT NOT NULL,
	final_confirmed_serial BIGINT NOT NULL,
	error_message TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);`, s.tables.State, s.tables.Records, s.tables.Sessions)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Load returns the stored state or the seeded default.
func (s *Store) Load(ctx context.Context) (crawler.CrawlState, error) {
	var (
		last, highest int64
		ts            time.Time
	)
	query := fmt.Sprintf(`
SELECT last_confirmed_serial, highest_known_valid_serial, last_scan_timestamp
FROM %s WHERE id = 1`, s.tables.State)
	err := s.pool.QueryRow(ctx, query).Scan(&last, &highest, &ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.DefaultState(s.seed), nil
	}
	if err != nil {
		return crawler.CrawlState{}, fmt.Errorf("load state: %w", err)
	}
	return crawler.CrawlState{
		LastConfirmedSerial:     crawler.Serial(last),
		HighestKnownValidSerial: crawler.Serial(highest),
		LastScanTimestamp:       ts.UTC(),
	}, nil
}

// Save upserts the single state row, clamping the highest serial with GREATEST.
func (s *Store) Save(ctx context.Context, state crawler.CrawlState) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (id, last_confirmed_serial, highest_known_valid_serial, last_scan_timestamp)
VALUES (1, $1, $2, $3)
ON CONFLICT (id) DO UPDATE SET
	last_confirmed_serial = EXCLUDED.last_confirmed_serial,
	highest_known_valid_serial = GREATEST(%[1]s.highest_known_valid_serial, EXCLUDED.highest_known_valid_serial),
	last_scan_timestamp = EXCLUDED.last_scan_timestamp
RETURNING highest_known_valid_serial`, s.tables.State)

	var stored int64
	err := s.pool.QueryRow(ctx, query,
		int64(state.LastConfirmedSerial),
		int64(state.HighestKnownValidSerial),
		state.LastScanTimestamp,
	).Scan(&stored)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if crawler.Serial(stored) > state.HighestKnownValidSerial {
		s.logger.Warn("refusing to lower highest known serial",
			zap.Int64("stored", stored),
			zap.Int64("proposed", int64(state.HighestKnownValidSerial)),
			zap.Error(crawler.ErrStateRegression),
		)
	}
	return nil
}

// Append inserts records in one transaction; existing serials are left untouched.
func (s *Store) Append(ctx context.Context, records []crawler.Record) (added int, err error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (
	serial_number,
	mark_name,
	filing_date,
	filing_date_raw,
	status,
	status_date,
	mark_type,
	owner,
	goods_services,
	international_class,
	drawing_type,
	image_url,
	source_url,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
) ON CONFLICT (serial_number) DO NOTHING`, s.tables.Records)

	for _, rec := range records {
		tag, execErr := tx.Exec(ctx, query, recordArgs(rec)...)
		if execErr != nil {
			return 0, fmt.Errorf("insert record %d: %w", rec.Serial, execErr)
		}
		added += int(tag.RowsAffected())
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit records: %w", err)
	}
	return added, nil
}

func recordArgs(rec crawler.Record) []any {
	return []any{
		int64(rec.Serial),
		rec.Title,
		rec.FilingDate,
		rec.FilingDateRaw,
		rec.Status,
		rec.StatusDate,
		rec.MarkType,
		rec.Owner,
		rec.Description,
		rec.ClassCode,
		rec.DrawingType,
		rec.ImageURL,
		rec.SourceURL,
		rec.ScrapedAt,
	}
}
