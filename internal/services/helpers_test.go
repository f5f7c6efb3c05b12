package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Ananth-NQI/smsbook-backend/internal/events"
	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/Ananth-NQI/smsbook-backend/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockClassifier delegates to DetectIntentFunc, or to the heuristics when unset
type mockClassifier struct {
	mu               sync.Mutex
	calls            int
	DetectIntentFunc func(ctx context.Context, req ClassifyRequest) (IntentResult, error)
}

func (m *mockClassifier) DetectIntent(ctx context.Context, req ClassifyRequest) (IntentResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.DetectIntentFunc != nil {
		return m.DetectIntentFunc(ctx, req)
	}
	return NewHeuristicClassifier().Classify(req.Message), nil
}

func (m *mockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockSelector struct {
	ParseFunc func(ctx context.Context, message string, presented []models.PresentedSlot) (uuid.UUID, bool, error)
}

func (m *mockSelector) ParseSlotSelection(ctx context.Context, message string, presented []models.PresentedSlot) (uuid.UUID, bool, error) {
	return m.ParseFunc(ctx, message, presented)
}

type sentMessage struct {
	To   string
	Body string
	Opts SendOptions
}

// mockOutbound records sends and fails with Err when set
type mockOutbound struct {
	mu   sync.Mutex
	sent []sentMessage
	Err  error
}

func (m *mockOutbound) SendMessage(ctx context.Context, to, body string, opts SendOptions) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{To: to, Body: body, Opts: opts})
	if m.Err != nil {
		return nil, m.Err
	}
	return &models.Message{ID: uuid.New(), Body: body, Kind: opts.Kind, Status: models.MessageStatusSent}, nil
}

func (m *mockOutbound) Sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockOutbound) Last(t *testing.T) sentMessage {
	t.Helper()
	sent := m.Sent()
	require.NotEmpty(t, sent, "expected an outbound message")
	return sent[len(sent)-1]
}

// mockProvider returns results from SendFunc, or a fresh sid when unset
type mockProvider struct {
	mu       sync.Mutex
	calls    int
	SendFunc func(ctx context.Context, to, body string) (string, error)
}

func (m *mockProvider) Send(ctx context.Context, to, body string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, to, body)
	}
	return "SM" + uuid.NewString(), nil
}

func (m *mockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockPublisher struct {
	mu   sync.Mutex
	keys []string
	Err  error
}

func (m *mockPublisher) Publish(ctx context.Context, key string, msg events.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return m.Err
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}

// seedSlots creates n hourly available slots starting an hour from now
func seedSlots(t *testing.T, store storage.Store, n int) []*models.Slot {
	t.Helper()
	start := time.Now().UTC().Add(time.Hour).Truncate(time.Hour)
	slots := make([]*models.Slot, 0, n)
	for i := 0; i < n; i++ {
		s := &models.Slot{
			StartTime:   start.Add(time.Duration(i) * time.Hour),
			EndTime:     start.Add(time.Duration(i)*time.Hour + 30*time.Minute),
			IsAvailable: true,
		}
		require.NoError(t, store.CreateSlot(context.Background(), s))
		slots = append(slots, s)
	}
	return slots
}

func createContact(t *testing.T, store storage.Store, phone, status string) *models.Contact {
	t.Helper()
	c := &models.Contact{PhoneNumber: phone, OptInStatus: status, Timezone: "UTC"}
	require.NoError(t, store.CreateContact(context.Background(), c))
	return c
}

func testTemplates() *TemplateService {
	return NewTemplateService("Acme Dental", "+15550000000", "+15559999999")
}
