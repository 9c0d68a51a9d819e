package tsdr

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serialwatch/internal/crawler"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

const statusPage = `<html><body>
<div class="row"><div class="key">Mark:</div><div class="value"><span class="markText">ROBO PILOT</span></div></div>
<div class="row"><div class="key">US Serial Number:</div><div class="value">99530001</div></div>
<div class="row"><div class="key">Application Filing Date:</div><div class="value">Dec. 05, 2025</div></div>
<div class="row"><div class="key">Mark Type:</div><div class="value">Trademark</div></div>
<div class="row"><div class="key">Status:</div><div class="value">New application awaiting examination.</div></div>
<div class="row"><div class="key">Status Date:</div><div class="value">Dec. 09, 2025</div></div>
<div class="row"><div class="key">Mark Drawing Type:</div><div class="value">4 - STANDARD CHARACTER MARK</div></div>
<div id="ownerSection"><div class="key">Owner Name:</div><div class="value">Acme Robotics LLC</div></div>
<div class="row"><div class="key">For:</div><div class="value">Autonomous drones; software for flight control</div></div>
<div class="row"><div class="key">International Class(es):</div><div class="value">009</div></div>
<div class="row"><div class="key">International Class:</div><div class="value">009</div></div>
<img id="markImage" src="https://tsdr.example/img/99530001/large">
</body></html>`

func TestParseFullRecord(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 12, 10, 8, 0, 0, 0, time.UTC)
	p := New(fixedClock{now: now})

	rec, ok, err := p.Parse([]byte(statusPage), 99530001)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, crawler.Serial(99530001), rec.Serial)
	assert.Equal(t, "ROBO PILOT", rec.Title)
	assert.Equal(t, "2025-12-05", rec.FilingDate)
	assert.Equal(t, "Dec. 05, 2025", rec.FilingDateRaw)
	assert.Equal(t, "New application awaiting examination.", rec.Status)
	assert.Equal(t, "Dec. 09, 2025", rec.StatusDate)
	assert.Equal(t, "Trademark", rec.MarkType)
	assert.Equal(t, "Acme Robotics LLC", rec.Owner)
	assert.Equal(t, "Autonomous drones; software for flight control", rec.Description)
	assert.Equal(t, "009", rec.ClassCode)
	assert.Equal(t, "4 - STANDARD CHARACTER MARK", rec.DrawingType)
	assert.Equal(t, "https://tsdr.example/img/99530001/large", rec.ImageURL)
	assert.Equal(t, now, rec.ScrapedAt)
}

func TestParseAbsentWithoutMark(t *testing.T) {
	t.Parallel()

	p := New(nil)
	for _, body := range []string{
		"",
		"<html><body><h1>No record</h1></body></html>",
		`<div class="key">Mark:</div><div class="value">  </div>`,
		`<div class="key">Mark:</div><div class="value">None</div>`,
	} {
		_, ok, err := p.Parse([]byte(body), 1)
		require.NoError(t, err)
		assert.False(t, ok, "body %q", body)
	}
}

func TestParsePrefersLiteralElements(t *testing.T) {
	t.Parallel()

	body := `<div class="key">Mark Literal Elements:</div><div class="value">SKY HOOK</div>
<div class="key">Mark:</div><div class="value">SKY HOOK (stylized)</div>`
	rec, ok, err := New(nil).Parse([]byte(body), 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "SKY HOOK", rec.Title)
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2025-11-17", parseDate("Nov. 17, 2025"))
	assert.Equal(t, "2025-12-05", parseDate("December 05, 2025"))
	assert.Equal(t, "", parseDate("sometime"))
	assert.Equal(t, "", parseDate(""))
}

func TestDescriptionTruncated(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 900)
	body := `<div class="key">Mark:</div><div class="value">LONG</div>
<div class="key">Goods/Services:</div><div class="value">` + long + `</div>`
	rec, ok, err := New(nil).Parse([]byte(body), 4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, rec.Description, maxDescriptionChars)
}
