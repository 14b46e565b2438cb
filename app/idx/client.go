package idx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lysyi3m/idx-relay/app/feed"
)

const (
	announcementPath = "/primary/ListedCompany/GetAnnouncement"
	refererPath      = "/id/perusahaan-tercatat/keterbukaan-informasi/"
	maxBodySize      = 32 << 20
)

type Options struct {
	BaseURL      string
	Mode         Mode
	ProxyURL     string
	Intermediary *IntermediaryConfig
	Timeout      time.Duration
	UserAgent    string
}

type Client struct {
	httpClient *http.Client
	strategy   strategy
	baseURL    string
	userAgent  string
}

func NewClient(opts Options) (*Client, error) {
	if _, err := url.Parse(opts.BaseURL); err != nil || opts.BaseURL == "" {
		return nil, fmt.Errorf("invalid IDX base URL: %q", opts.BaseURL)
	}

	strategy, transport, err := newStrategy(opts)
	if err != nil {
		return nil, err
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		strategy:  strategy,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
	}, nil
}

// Fetch performs one announcement query. The returned status classifies the
// outcome; records are only meaningful with StatusOK. Fetch never retries.
func (c *Client) Fetch(ctx context.Context, req Request) ([]feed.RawRecord, Status, error) {
	target := c.announcementURL(req)

	httpReq, err := c.strategy.NewRequest(ctx, target)
	if err != nil {
		return nil, StatusUnknown, fmt.Errorf("failed to create request: %w", err)
	}
	c.setBrowserHeaders(httpReq)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, StatusTransient, fmt.Errorf("failed to fetch announcements: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, StatusTransient, fmt.Errorf("failed to read response body: %w", err)
	}

	status := classify(resp, body)
	slog.Debug("Upstream responded",
		"mode", c.strategy.Name(),
		"http_status", resp.StatusCode,
		"status", status,
		"bytes", len(body),
		"duration", time.Since(start))

	if status != StatusOK {
		return nil, status, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var payload announcementResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, StatusUnknown, fmt.Errorf("failed to decode response: %w", err)
	}

	records := payload.Replies
	if records == nil {
		records = []feed.RawRecord{}
	}

	return records, StatusOK, nil
}

func (c *Client) announcementURL(req Request) string {
	query := url.Values{}
	query.Set("kodeEmiten", "")
	query.Set("emitenType", "*")
	query.Set("indexFrom", "0")
	query.Set("pageSize", strconv.Itoa(req.PageSize))
	query.Set("dateFrom", req.DateFrom)
	query.Set("dateTo", req.DateTo)
	query.Set("lang", "id")

	return c.baseURL + announcementPath + "?" + query.Encode()
}

// setBrowserHeaders fills in browser-like defaults. Headers already set by
// the strategy, such as those from the intermediary config, take precedence.
func (c *Client) setBrowserHeaders(req *http.Request) {
	defaults := map[string]string{
		"User-Agent":      c.userAgent,
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "id-ID,id;q=0.9,en-US;q=0.8,en;q=0.7",
		"Referer":         c.baseURL + refererPath,
	}

	for key, value := range defaults {
		if value == "" || req.Header.Get(key) != "" {
			continue
		}
		req.Header.Set(key, value)
	}
}
