// Package api hosts the status server that runs alongside scheduled sessions.
// Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/state for the persisted watermarks.
//   - GET /v1/status for the controller phase.
//   - GET /v1/sessions/last for the latest session summary.
//   - POST /v1/sessions to start a session outside the schedule.
//   - GET /v1/records/recent?days=N when the record sink can list history.
package api
