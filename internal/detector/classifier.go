// Package detector classifies source responses before they reach the parser.
package detector

import (
	"bytes"
	"net/http"
)

// Class is the coarse verdict for one HTTP response.
type Class string

// Response classes.
const (
	ClassOK          Class = "ok"
	ClassAbsent      Class = "absent"
	ClassBlocked     Class = "blocked"
	ClassRateLimited Class = "rate_limited"
	ClassServerError Class = "server_error"
)

// DefaultBlockMarkers are body fragments served by the source's firewall instead of a record page.
var DefaultBlockMarkers = []string{
	"Request Rejected",
	"Access Denied",
	"The requested URL was rejected",
}

// Classifier implements a handful of rule-based verdicts.
type Classifier struct {
	markers [][]byte
}

// NewClassifier creates a classifier matching the given block markers case-insensitively.
// A nil slice selects DefaultBlockMarkers.
func NewClassifier(markers []string) *Classifier {
	if markers == nil {
		markers = DefaultBlockMarkers
	}
	c := &Classifier{}
	for _, m := range markers {
		if m == "" {
			continue
		}
		c.markers = append(c.markers, bytes.ToLower([]byte(m)))
	}
	return c
}

// Classify decides how the fetcher should treat a response. A 2xx response
// carrying a block marker is reported as ClassBlocked; callers that can parse
// the body should still prefer a record found in it.
func (c *Classifier) Classify(status int, body []byte) Class {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status == http.StatusForbidden:
		return ClassBlocked
	case status >= 500:
		return ClassServerError
	case status < 200 || status >= 300:
		return ClassAbsent
	}
	if c.looksBlocked(body) {
		return ClassBlocked
	}
	return ClassOK
}

func (c *Classifier) looksBlocked(body []byte) bool {
	if len(body) == 0 || len(c.markers) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range c.markers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
