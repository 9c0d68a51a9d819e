// Package tsdr parses trademark status pages into crawl records.
package tsdr

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/serialwatch/internal/crawler"
)

const maxDescriptionChars = 500

var dateLayouts = []string{"Jan. 02, 2006", "January 02, 2006", "Jan. 2, 2006", "January 2, 2006"}

// Parser implements crawler.Parser for status pages laid out as div.key/div.value pairs.
type Parser struct {
	clock crawler.Clock
}

// New builds a Parser. The clock stamps ScrapedAt.
func New(clock crawler.Clock) *Parser {
	return &Parser{clock: clock}
}

// Parse extracts a record. A page without a mark name is reported as absent.
func (p *Parser) Parse(raw []byte, serial crawler.Serial) (crawler.Record, bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return crawler.Record{}, false, fmt.Errorf("parse html: %w", err)
	}

	title := firstNonEmpty(valueFor(doc, "Mark Literal Elements:"), valueFor(doc, "Mark:"))
	if title == "" || strings.EqualFold(title, "none") || strings.EqualFold(title, "n/a") {
		return crawler.Record{}, false, nil
	}

	filingRaw := valueFor(doc, "Application Filing Date:")
	rec := crawler.Record{
		Serial:        serial,
		Title:         title,
		FilingDate:    parseDate(filingRaw),
		FilingDateRaw: filingRaw,
		Status:        valueFor(doc, "Status:"),
		StatusDate:    valueFor(doc, "Status Date:"),
		MarkType:      valueFor(doc, "Mark Type:"),
		Owner:         owner(doc),
		Description:   goodsServices(doc),
		ClassCode:     valueFor(doc, "International Class:"),
		DrawingType:   valueFor(doc, "Mark Drawing Type:"),
		ImageURL:      imageURL(doc),
	}
	if p.clock != nil {
		rec.ScrapedAt = p.clock.Now()
	}
	return rec, true, nil
}

// valueFor finds the div.value sibling of the first div.key containing label.
func valueFor(doc *goquery.Document, label string) string {
	var out string
	doc.Find("div.key").EachWithBreak(func(_ int, key *goquery.Selection) bool {
		if !strings.Contains(key.Text(), label) {
			return true
		}
		value := key.NextAllFiltered("div.value").First()
		if value.Length() == 0 {
			return true
		}
		if mark := value.Find(".markText").First(); mark.Length() > 0 {
			out = strings.TrimSpace(mark.Text())
		} else {
			out = strings.TrimSpace(value.Text())
		}
		return false
	})
	return out
}

func owner(doc *goquery.Document) string {
	if v := strings.TrimSpace(doc.Find("#ownerSection div.value").First().Text()); v != "" {
		return v
	}
	return valueFor(doc, "Owner Name:")
}

func goodsServices(doc *goquery.Document) string {
	for _, label := range []string{"Goods/Services:", "For:"} {
		if v := valueFor(doc, label); v != "" {
			return truncate(v, maxDescriptionChars)
		}
	}
	v := strings.TrimSpace(doc.Find("#goodsServicesSection div.value").First().Text())
	return truncate(v, maxDescriptionChars)
}

func imageURL(doc *goquery.Document) string {
	src, _ := doc.Find("img#markImage").First().Attr("src")
	return strings.TrimSpace(src)
}

// parseDate converts the source's display dates into ISO form, or "" when unknown.
func parseDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
