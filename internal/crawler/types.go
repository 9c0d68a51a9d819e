// Package crawler defines the core types shared by the serial crawl subsystems.
package crawler

import (
	"strconv"
	"time"
)

// Serial is a monotonically issued record identifier assigned by the source.
type Serial int64

// String renders the serial in its decimal form.
func (s Serial) String() string {
	return strconv.FormatInt(int64(s), 10)
}

// Record is the parsed result for one serial.
type Record struct {
	Serial        Serial    `json:"serial_number"`
	Title         string    `json:"mark_name"`
	FilingDate    string    `json:"filing_date,omitempty"`
	FilingDateRaw string    `json:"filing_date_raw,omitempty"`
	Status        string    `json:"status,omitempty"`
	StatusDate    string    `json:"status_date,omitempty"`
	MarkType      string    `json:"mark_type,omitempty"`
	Owner         string    `json:"owner,omitempty"`
	Description   string    `json:"goods_services,omitempty"`
	ClassCode     string    `json:"international_class,omitempty"`
	DrawingType   string    `json:"drawing_type,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	SourceURL     string    `json:"source_url,omitempty"`
	ScrapedAt     time.Time `json:"scraped_at"`
}

// Outcome classifies a successful query against the source.
type Outcome int

// Fetch outcomes. Failures are reported through errors, never as an Outcome.
const (
	OutcomeAbsent Outcome = iota
	OutcomeFound
)

// String returns the metric/log label for the outcome.
func (o Outcome) String() string {
	if o == OutcomeFound {
		return "found"
	}
	return "absent"
}

// Result is the value returned by a Fetcher for one serial.
type Result struct {
	Serial  Serial
	Outcome Outcome
	Record  Record
}

// Found reports whether the serial carried a record.
func (r Result) Found() bool {
	return r.Outcome == OutcomeFound
}

// CrawlState is the durable watermark pair persisted between sessions.
type CrawlState struct {
	// LastConfirmedSerial is the exclusive low watermark; zero means no session has scanned yet.
	LastConfirmedSerial Serial `json:"last_confirmed_serial"`
	// HighestKnownValidSerial never decreases across saves.
	HighestKnownValidSerial Serial    `json:"highest_known_valid_serial"`
	LastScanTimestamp       time.Time `json:"last_scan_timestamp"`
}

// DefaultState is the conservative state used when nothing has been persisted yet.
func DefaultState(seed Serial) CrawlState {
	return CrawlState{HighestKnownValidSerial: seed}
}

// Bootstrapped reports whether a previous session recorded a watermark.
func (s CrawlState) Bootstrapped() bool {
	return s.LastConfirmedSerial > 0
}

// ClampState merges next over prev so the highest known serial never regresses.
// The boolean reports whether a regression was clamped.
func ClampState(prev, next CrawlState) (CrawlState, bool) {
	if next.HighestKnownValidSerial < prev.HighestKnownValidSerial {
		next.HighestKnownValidSerial = prev.HighestKnownValidSerial
		return next, true
	}
	return next, false
}

// SessionMode records which branch of the session state machine ran.
type SessionMode string

// Session modes.
const (
	ModeBootstrap SessionMode = "bootstrap"
	ModeCatchUp   SessionMode = "catch_up"
	ModeNoop      SessionMode = "noop"
)

// SessionResult is produced once per incremental session.
type SessionResult struct {
	ID                   string      `json:"id"`
	Mode                 SessionMode `json:"mode"`
	LatestSerial         Serial      `json:"latest_serial"`
	ScanStart            Serial      `json:"scan_start,omitempty"`
	ScanEnd              Serial      `json:"scan_end,omitempty"`
	NewlyFound           []Record    `json:"newly_found"`
	Skipped              []Serial    `json:"skipped,omitempty"`
	Deferred             int64       `json:"deferred"`
	FinalConfirmedSerial Serial      `json:"final_confirmed_serial"`
	Interrupted          bool        `json:"interrupted,omitempty"`
	StartedAt            time.Time   `json:"started_at"`
	FinishedAt           time.Time   `json:"finished_at"`
}

// Summary strips the records for logging and event payloads.
func (r SessionResult) Summary() SessionSummary {
	return SessionSummary{
		ID:                   r.ID,
		Mode:                 r.Mode,
		LatestSerial:         r.LatestSerial,
		ScanStart:            r.ScanStart,
		ScanEnd:              r.ScanEnd,
		Found:                len(r.NewlyFound),
		Skipped:              len(r.Skipped),
		Deferred:             r.Deferred,
		FinalConfirmedSerial: r.FinalConfirmedSerial,
		Interrupted:          r.Interrupted,
		StartedAt:            r.StartedAt,
		FinishedAt:           r.FinishedAt,
	}
}

// SessionSummary is the record-free view of a SessionResult.
type SessionSummary struct {
	ID                   string      `json:"id"`
	Mode                 SessionMode `json:"mode"`
	LatestSerial         Serial      `json:"latest_serial"`
	ScanStart            Serial      `json:"scan_start,omitempty"`
	ScanEnd              Serial      `json:"scan_end,omitempty"`
	Found                int         `json:"found"`
	Skipped              int         `json:"skipped"`
	Deferred             int64       `json:"deferred"`
	FinalConfirmedSerial Serial      `json:"final_confirmed_serial"`
	Interrupted          bool        `json:"interrupted,omitempty"`
	StartedAt            time.Time   `json:"started_at"`
	FinishedAt           time.Time   `json:"finished_at"`
}

// ScanResult is what the range scanner hands back to its caller.
type ScanResult struct {
	Start         Serial
	End           Serial
	Records       []Record
	Skipped       []Serial
	LastAttempted Serial
	Attempted     int
	Elapsed       time.Duration
}
