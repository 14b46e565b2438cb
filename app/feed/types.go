package feed

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Upstream payload types

// RawRecord is one element of the upstream "Replies" array, kept undecoded
// until the Normalizer consumes it.
type RawRecord = json.RawMessage

type rawRecord struct {
	Pengumuman  *rawPengumuman  `json:"pengumuman"`
	Attachments []rawAttachment `json:"attachments"`
}

// Every field is optional upstream; absent and null both decode to "".
type rawPengumuman struct {
	ID                looseString `json:"Id"`
	NoPengumuman      looseString `json:"NoPengumuman"`
	KodeEmiten        looseString `json:"Kode_Emiten"`
	JudulPengumuman   looseString `json:"JudulPengumuman"`
	PerihalPengumuman looseString `json:"PerihalPengumuman"`
	JenisPengumuman   looseString `json:"JenisPengumuman"`
	CreatedDate       looseString `json:"CreatedDate"`
	TglPengumuman     looseString `json:"TglPengumuman"`
}

type rawAttachment struct {
	OriginalFilename looseString `json:"OriginalFilename"`
	PDFFilename      looseString `json:"PDFFilename"`
	FullSavePath     looseString `json:"FullSavePath"`
}

// looseString accepts a JSON string, number, boolean or null.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = ""
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
	case bytes.Equal(data, []byte("true")) || bytes.Equal(data, []byte("false")):
		*s = looseString(data)
	default:
		if _, err := strconv.ParseFloat(string(data), 64); err != nil {
			// objects and arrays carry no usable text
			*s = ""
			return nil
		}
		*s = looseString(data)
	}
	return nil
}

// Canonical types

type Attachment struct {
	Filename string
	URL      string
}

type Announcement struct {
	IssuerCode  string // trimmed, upper-cased
	Title       string // trimmed
	CreatedAt   string    // "2006-01-02 15:04:05" when parseable, raw otherwise
	PublishedAt time.Time // instant of CreatedAt; zero when unparseable
	Attachments []Attachment
	Raw         RawRecord
}

// Topic configuration types

type TopicRule struct {
	Name    string   `yaml:"name"`
	Channel string   `yaml:"channel"`
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

type Topics struct {
	ErrorChannel string      `yaml:"error_channel"`
	Rules        []TopicRule `yaml:"topics"`
}

// Names returns topic names in configured order.
func (t *Topics) Names() []string {
	names := make([]string, 0, len(t.Rules))
	for _, rule := range t.Rules {
		names = append(names, rule.Name)
	}
	return names
}
