package idx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	client, err := NewClient(Options{
		BaseURL:   baseURL,
		Mode:      ModeDirect,
		Timeout:   5 * time.Second,
		UserAgent: "test-agent",
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestClient_Fetch_OK(t *testing.T) {
	var gotQuery url.Values
	var gotHeader http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != announcementPath {
			t.Errorf("Expected path %s, got %s", announcementPath, r.URL.Path)
		}
		gotQuery = r.URL.Query()
		gotHeader = r.Header.Clone()

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ResultCount": 2, "Replies": [{"pengumuman": {"Kode_Emiten": "AAAA"}}, {"pengumuman": {"Kode_Emiten": "BBBB"}}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	records, status, err := client.Fetch(context.Background(), Request{DateFrom: "20250806", DateTo: "20250808", PageSize: 100})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if status != StatusOK {
		t.Errorf("Expected status %s, got %s", StatusOK, status)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if !strings.Contains(string(records[1]), "BBBB") {
		t.Errorf("Expected records in response order, got %s", records[1])
	}

	expected := map[string]string{
		"kodeEmiten": "",
		"emitenType": "*",
		"indexFrom":  "0",
		"pageSize":   "100",
		"dateFrom":   "20250806",
		"dateTo":     "20250808",
		"lang":       "id",
	}
	for key, value := range expected {
		if !gotQuery.Has(key) {
			t.Errorf("Expected query parameter %s to be present", key)
		}
		if gotQuery.Get(key) != value {
			t.Errorf("Expected %s=%q, got %q", key, value, gotQuery.Get(key))
		}
	}

	if gotHeader.Get("User-Agent") != "test-agent" {
		t.Errorf("Expected User-Agent 'test-agent', got %q", gotHeader.Get("User-Agent"))
	}
	if gotHeader.Get("Referer") != server.URL+refererPath {
		t.Errorf("Expected Referer %s, got %q", server.URL+refererPath, gotHeader.Get("Referer"))
	}
}

func TestClient_Fetch_MissingRepliesIsEmptyBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ResultCount": 0}`))
	}))
	defer server.Close()

	records, status, err := newTestClient(t, server.URL).Fetch(context.Background(), Request{PageSize: 10})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if status != StatusOK {
		t.Errorf("Expected status %s, got %s", StatusOK, status)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("Expected empty non-nil batch, got %v", records)
	}
}

func TestClient_Fetch_Classification(t *testing.T) {
	challenge := `<!DOCTYPE html><html><head><title>Just a moment...</title></head>` +
		`<body><div id="challenge-running"></div></body></html>`
	challengeNoTitle := `<html><head><title>idx</title></head><body><form id="challenge-form"></form></body></html>`

	tests := []struct {
		name     string
		code     int
		body     string
		header   map[string]string
		expected Status
	}{
		{"forbidden", http.StatusForbidden, "Forbidden", nil, StatusBlocked},
		{"challenge page with 200", http.StatusOK, challenge, nil, StatusBlocked},
		{"challenge page with 503", http.StatusServiceUnavailable, challenge, nil, StatusBlocked},
		{"challenge form marker", http.StatusOK, challengeNoTitle, nil, StatusBlocked},
		{"mitigated header", http.StatusOK, "{}", map[string]string{"Cf-Mitigated": "challenge"}, StatusBlocked},
		{"too many requests", http.StatusTooManyRequests, "slow down", nil, StatusTransient},
		{"request timeout", http.StatusRequestTimeout, "", nil, StatusTransient},
		{"server error", http.StatusBadGateway, "<html><title>Bad gateway</title></html>", nil, StatusTransient},
		{"not found", http.StatusNotFound, "", nil, StatusUnknown},
		{"undecodable body", http.StatusOK, "not json", nil, StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for key, value := range tt.header {
					w.Header().Set(key, value)
				}
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			records, status, err := newTestClient(t, server.URL).Fetch(context.Background(), Request{PageSize: 10})
			if status != tt.expected {
				t.Errorf("Expected status %s, got %s", tt.expected, status)
			}
			if err == nil {
				t.Error("Expected error for non-OK outcome, got nil")
			}
			if records != nil {
				t.Errorf("Expected no records, got %d", len(records))
			}
		})
	}
}

func TestClient_Fetch_NetworkErrorIsTransient(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	_, status, err := newTestClient(t, "http://"+addr).Fetch(context.Background(), Request{PageSize: 10})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if status != StatusTransient {
		t.Errorf("Expected status %s, got %s", StatusTransient, status)
	}
}

func TestClient_Fetch_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, status, err := newTestClient(t, server.URL).Fetch(ctx, Request{PageSize: 10})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if status != StatusTransient {
		t.Errorf("Expected status %s, got %s", StatusTransient, status)
	}
}

func TestClient_Fetch_Intermediary(t *testing.T) {
	var gotTarget, gotKey, gotExtra string

	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTarget = r.URL.Query().Get("url")
		gotExtra = r.URL.Query().Get("format")
		gotKey = r.Header.Get("x-rapidapi-key")
		w.Write([]byte(`{"Replies": [{"pengumuman": {}}]}`))
	}))
	defer relay.Close()

	config, err := ParseIntermediaryConfig(`{"url": "` + relay.URL + `/", "headers": {"x-rapidapi-key": "secret"}, "extra_query": {"format": "json"}}`)
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}

	client, err := NewClient(Options{
		BaseURL:      "https://www.idx.co.id",
		Mode:         ModeIntermediary,
		Intermediary: config,
		Timeout:      5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	records, status, err := client.Fetch(context.Background(), Request{DateFrom: "20250101", DateTo: "20250102", PageSize: 5})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if status != StatusOK || len(records) != 1 {
		t.Errorf("Expected OK with 1 record, got %s with %d", status, len(records))
	}

	target, err := url.Parse(gotTarget)
	if err != nil {
		t.Fatalf("Expected target URL in query, got %q", gotTarget)
	}
	if target.Host != "www.idx.co.id" || target.Path != announcementPath {
		t.Errorf("Expected upstream target, got %s", gotTarget)
	}
	if target.Query().Get("dateFrom") != "20250101" {
		t.Errorf("Expected dateFrom in target, got %q", target.Query().Get("dateFrom"))
	}
	if gotKey != "secret" {
		t.Errorf("Expected relay header to be forwarded, got %q", gotKey)
	}
	if gotExtra != "json" {
		t.Errorf("Expected extra query value, got %q", gotExtra)
	}
}

func TestClient_Fetch_Proxied(t *testing.T) {
	var proxied bool

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = r.URL.Host == "idx.example" && r.URL.Path == announcementPath
		w.Write([]byte(`{"Replies": []}`))
	}))
	defer proxy.Close()

	client, err := NewClient(Options{
		BaseURL:  "http://idx.example",
		Mode:     ModeProxied,
		ProxyURL: proxy.URL,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	_, status, err := client.Fetch(context.Background(), Request{PageSize: 5})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if status != StatusOK {
		t.Errorf("Expected status %s, got %s", StatusOK, status)
	}
	if !proxied {
		t.Error("Expected request to be routed through the proxy")
	}
}

func TestNewClient_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"empty base URL", Options{Mode: ModeDirect}},
		{"proxied without proxy", Options{BaseURL: "https://www.idx.co.id", Mode: ModeProxied}},
		{"intermediary without config", Options{BaseURL: "https://www.idx.co.id", Mode: ModeIntermediary}},
		{"unknown mode", Options{BaseURL: "https://www.idx.co.id", Mode: "carrier-pigeon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.opts); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestParseIntermediaryConfig_Invalid(t *testing.T) {
	for _, raw := range []string{"", "not json", `{"headers": {}}`} {
		if _, err := ParseIntermediaryConfig(raw); err == nil {
			t.Errorf("Expected error for %q, got nil", raw)
		}
	}
}

func TestClient_Fetch_IntermediaryHeadersOverrideDefaults(t *testing.T) {
	var gotUserAgent, gotAccept, gotLanguage string

	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		gotLanguage = r.Header.Get("Accept-Language")
		w.Write([]byte(`{"Replies": []}`))
	}))
	defer relay.Close()

	config, err := ParseIntermediaryConfig(`{"url": "` + relay.URL + `/", "headers": {"User-Agent": "relay-agent/1.0", "Accept": "application/json"}}`)
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}

	client, err := NewClient(Options{
		BaseURL:      "https://www.idx.co.id",
		Mode:         ModeIntermediary,
		Intermediary: config,
		Timeout:      5 * time.Second,
		UserAgent:    "Mozilla/5.0 test",
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if _, _, err := client.Fetch(context.Background(), Request{DateFrom: "20250101", DateTo: "20250102", PageSize: 5}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if gotUserAgent != "relay-agent/1.0" {
		t.Errorf("Expected configured User-Agent, got %q", gotUserAgent)
	}
	if gotAccept != "application/json" {
		t.Errorf("Expected configured Accept, got %q", gotAccept)
	}
	if gotLanguage == "" {
		t.Error("Expected default Accept-Language to be filled in")
	}
}
