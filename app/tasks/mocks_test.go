package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/idx-relay/app/database"
	"github.com/lysyi3m/idx-relay/app/feed"
	"github.com/lysyi3m/idx-relay/app/idx"
)

type MockFetcher struct {
	Records  []feed.RawRecord
	Statuses []idx.Status
	Requests []idx.Request
}

func (m *MockFetcher) Fetch(ctx context.Context, req idx.Request) ([]feed.RawRecord, idx.Status, error) {
	m.Requests = append(m.Requests, req)

	status := idx.StatusOK
	if n := len(m.Statuses); n > 0 {
		status = m.Statuses[min(len(m.Requests), n)-1]
	}
	if status != idx.StatusOK {
		return nil, status, fmt.Errorf("HTTP error: %s", status)
	}
	return m.Records, idx.StatusOK, nil
}

type SentMessage struct {
	ChannelID string
	Text      string
}

type MockTransport struct {
	Channels   map[string]string
	ConnectErr error
	FailWhen   func(channelID, text string) bool
	PanicOn    string

	Sent         []SentMessage
	ConnectCalls int
	CloseCalls   int
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		Channels: map[string]string{
			"negosiasi-alerts":       "ch-negosiasi",
			"pengambilalihan-alerts": "ch-pengambilalihan",
			"error-logs":             "ch-error",
		},
	}
}

func (m *MockTransport) Connect(ctx context.Context) error {
	m.ConnectCalls++
	return m.ConnectErr
}

func (m *MockTransport) ChannelID(name string) (string, bool) {
	id, ok := m.Channels[name]
	return id, ok
}

func (m *MockTransport) Send(ctx context.Context, channelID, text string) error {
	if m.PanicOn != "" && channelID == m.PanicOn {
		panic("transport exploded")
	}
	if m.FailWhen != nil && m.FailWhen(channelID, text) {
		return errors.New("send rejected")
	}
	m.Sent = append(m.Sent, SentMessage{ChannelID: channelID, Text: text})
	return nil
}

func (m *MockTransport) Close() error {
	m.CloseCalls++
	return nil
}

func (m *MockTransport) SentTo(channelID string) []string {
	var texts []string
	for _, msg := range m.Sent {
		if msg.ChannelID == channelID {
			texts = append(texts, msg.Text)
		}
	}
	return texts
}

type MockLedger struct {
	mu        sync.Mutex
	Records   map[string]database.DeliveryRecord
	ExistsErr error
	InsertErr error
	Cutoffs   []time.Time
}

func NewMockLedger() *MockLedger {
	return &MockLedger{Records: make(map[string]database.DeliveryRecord)}
}

func (m *MockLedger) Exists(ctx context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ExistsErr != nil {
		return false, m.ExistsErr
	}
	_, ok := m.Records[hash]
	return ok, nil
}

func (m *MockLedger) Insert(ctx context.Context, record database.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InsertErr != nil {
		return m.InsertErr
	}
	if _, ok := m.Records[record.Hash]; !ok {
		m.Records[record.Hash] = record
	}
	return nil
}

func (m *MockLedger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Cutoffs = append(m.Cutoffs, cutoff)

	var deleted int64
	for hash, record := range m.Records {
		if record.SentAt.Before(cutoff) {
			delete(m.Records, hash)
			deleted++
		}
	}
	return deleted, nil
}

type MockSleeper struct {
	Delays []time.Duration
}

func (m *MockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	m.Delays = append(m.Delays, d)
	return ctx.Err()
}

func (m *MockSleeper) Count(d time.Duration) int {
	n := 0
	for _, delay := range m.Delays {
		if delay == d {
			n++
		}
	}
	return n
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func rawRecord(t *testing.T, code, title, createdDate string) feed.RawRecord {
	t.Helper()

	data, err := json.Marshal(map[string]any{
		"pengumuman": map[string]any{
			"Kode_Emiten":     code,
			"JudulPengumuman": title,
			"CreatedDate":     createdDate,
		},
		"attachments": []map[string]any{
			{"OriginalFilename": strings.ToLower(code) + ".pdf", "FullSavePath": "https://www.idx.co.id/files/" + strings.ToLower(code) + ".pdf"},
		},
	})
	if err != nil {
		t.Fatalf("Failed to marshal record: %v", err)
	}
	return data
}

func testTopics() *feed.Topics {
	return &feed.Topics{
		ErrorChannel: "error-logs",
		Rules: []feed.TopicRule{
			{Name: "Pengambilalihan", Channel: "pengambilalihan-alerts", Include: []string{"Pengambilalihan"}},
			{Name: "Negosiasi", Channel: "negosiasi-alerts", Include: []string{"Negosiasi"}, Exclude: []string{"Pasar Negosiasi"}},
		},
	}
}
