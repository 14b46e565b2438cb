package feed

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ErrMalformedRecord is returned for records that cannot be decoded at all.
var ErrMalformedRecord = errors.New("malformed record")

const CreatedAtLayout = "2006-01-02 15:04:05"

// Layouts tried in order. Fractional seconds are accepted by time.Parse
// after the seconds field even when the layout omits them.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer reads zone-less upstream timestamps in location.
type Normalizer struct {
	location *time.Location
}

func NewNormalizer(location *time.Location) *Normalizer {
	if location == nil {
		location = time.UTC
	}
	return &Normalizer{location: location}
}

func (n *Normalizer) Run(record RawRecord) (Announcement, error) {
	trimmed := bytes.TrimSpace(record)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Announcement{}, ErrMalformedRecord
	}

	var raw rawRecord
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return Announcement{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	var p rawPengumuman
	if raw.Pengumuman != nil {
		p = *raw.Pengumuman
	}

	createdAt := cmp.Or(string(p.CreatedDate), string(p.TglPengumuman))

	announcement := Announcement{
		IssuerCode: strings.ToUpper(strings.TrimSpace(string(p.KodeEmiten))),
		Title:      norm.NFC.String(strings.TrimSpace(string(p.JudulPengumuman))),
		CreatedAt:  NormalizeDate(createdAt),
		Raw:        record,
	}
	if t, ok := ParseDate(createdAt, n.location); ok {
		announcement.PublishedAt = t
	}

	for _, att := range raw.Attachments {
		announcement.Attachments = append(announcement.Attachments, Attachment{
			Filename: cmp.Or(string(att.OriginalFilename), string(att.PDFFilename), "Unknown"),
			URL:      strings.TrimSpace(string(att.FullSavePath)),
		})
	}

	return announcement, nil
}

// RunBatch normalizes every record, skipping malformed ones. It never fails
// the batch; the number of skipped records is returned for reporting.
func (n *Normalizer) RunBatch(records []RawRecord) ([]Announcement, int) {
	announcements := make([]Announcement, 0, len(records))
	malformed := 0

	for i, record := range records {
		announcement, err := n.Run(record)
		if err != nil {
			slog.Warn("Skipping malformed record", "index", i, "error", err)
			malformed++
			continue
		}
		announcements = append(announcements, announcement)
	}

	return announcements, malformed
}

// NormalizeDate renders an ISO-8601 timestamp as "2006-01-02 15:04:05" in the
// timestamp's own zone. Anything unparseable is returned unchanged.
func NormalizeDate(value string) string {
	if t, ok := ParseDate(value, time.UTC); ok {
		return t.Format(CreatedAtLayout)
	}
	return strings.TrimSpace(value)
}

// ParseDate parses an ISO-8601 timestamp. Values without an offset are read
// in location; values with one keep it.
func ParseDate(value string, location *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, value, location); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}
