package idx

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var challengeTitles = []string{
	"just a moment",
	"attention required",
	"access denied",
	"please wait",
}

const challengeSelector = "#challenge-form, #challenge-running, #cf-challenge-running, #cf-wrapper, " +
	"script[src*='challenge-platform'], div.cf-browser-verification"

func classify(resp *http.Response, body []byte) Status {
	if resp.StatusCode == http.StatusForbidden {
		return StatusBlocked
	}

	if resp.Header.Get("Cf-Mitigated") == "challenge" || isChallengePage(body) {
		return StatusBlocked
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return StatusOK
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooEarly,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return StatusTransient
	default:
		return StatusUnknown
	}
}

// isChallengePage detects anti-bot interstitials served in place of JSON.
func isChallengePage(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed))
	if err != nil {
		return false
	}

	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	for _, marker := range challengeTitles {
		if strings.Contains(title, marker) {
			return true
		}
	}

	return doc.Find(challengeSelector).Length() > 0
}
