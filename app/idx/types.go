package idx

import (
	"github.com/lysyi3m/idx-relay/app/feed"
)

type Status string

const (
	StatusOK        Status = "ok"
	StatusBlocked   Status = "blocked"
	StatusTransient Status = "transient"
	StatusUnknown   Status = "unknown"
)

type Mode string

const (
	ModeDirect       Mode = "direct"
	ModeProxied      Mode = "proxied"
	ModeIntermediary Mode = "intermediary"
)

// Request describes one announcement query. Dates are inclusive, YYYYMMDD.
type Request struct {
	DateFrom string
	DateTo   string
	PageSize int
}

// IntermediaryConfig describes a relay that forwards the upstream request,
// e.g. a RapidAPI CORS proxy. The target URL travels in the "url" parameter.
type IntermediaryConfig struct {
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers"`
	ExtraQuery map[string]string `json:"extra_query"`
}

type announcementResponse struct {
	ResultCount int              `json:"ResultCount"`
	Replies     []feed.RawRecord `json:"Replies"`
}
