package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ananth-NQI/smsbook-backend/internal/events"
	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/Ananth-NQI/smsbook-backend/internal/services"
	"github.com/Ananth-NQI/smsbook-backend/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type processedMessage struct {
	Phone, Body, SID string
}

type fakeProcessor struct {
	mu   sync.Mutex
	seen []processedMessage
}

func (f *fakeProcessor) ProcessInboundMessage(ctx context.Context, phone, body, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, processedMessage{phone, body, messageID})
	return nil
}

func (f *fakeProcessor) Seen() []processedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]processedMessage(nil), f.seen...)
}

type fakeMessageLog struct {
	recordErr error
	statusErr error
	statuses  []string
}

func (f *fakeMessageLog) RecordInbound(ctx context.Context, from, body, providerID string) (*models.Contact, error) {
	return &models.Contact{ID: uuid.New(), PhoneNumber: from}, f.recordErr
}

func (f *fakeMessageLog) UpdateStatus(ctx context.Context, providerID, status, errorCode, errorMessage string) error {
	f.statuses = append(f.statuses, providerID+":"+status)
	return f.statusErr
}

type brokenDeduper struct{}

func (brokenDeduper) FirstSeen(ctx context.Context, messageID string) (bool, error) {
	return false, errors.New("redis unavailable")
}

func newSMSApp(h *SMSHandler) *fiber.App {
	app := fiber.New()
	app.Post("/webhooks/sms/inbound", h.HandleInbound)
	app.Post("/webhooks/sms/status", h.HandleStatus)
	return app
}

func postForm(t *testing.T, app *fiber.App, path string, form url.Values) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func inboundForm(from, body, sid string) url.Values {
	return url.Values{"From": {from}, "Body": {body}, "MessageSid": {sid}, "To": {"+15559999999"}}
}

func TestHandleInboundAcknowledgesAndProcesses(t *testing.T) {
	processor := &fakeProcessor{}
	h := NewSMSHandler(processor, &fakeMessageLog{}, services.NewMemoryInboundDeduper(), discardLogger())
	app := newSMSApp(h)

	resp := postForm(t, app, "/webhooks/sms/inbound", inboundForm("+15551234567", "book", "SM1"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/xml")
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, emptyTwiML, string(body))

	h.Drain()
	assert.Equal(t, []processedMessage{{"+15551234567", "book", "SM1"}}, processor.Seen())
}

// gatedProcessor holds every message until release is closed
type gatedProcessor struct {
	fakeProcessor
	release chan struct{}
}

func (g *gatedProcessor) ProcessInboundMessage(ctx context.Context, phone, body, messageID string) error {
	<-g.release
	return g.fakeProcessor.ProcessInboundMessage(ctx, phone, body, messageID)
}

func TestHandleInboundKeepsFieldsAfterRequestReuse(t *testing.T) {
	processor := &gatedProcessor{release: make(chan struct{})}
	h := NewSMSHandler(processor, &fakeMessageLog{}, services.NewMemoryInboundDeduper(), discardLogger())
	app := newSMSApp(h)

	postForm(t, app, "/webhooks/sms/inbound", inboundForm("+15551234567", "book", "SMAAAA"))
	postForm(t, app, "/webhooks/sms/inbound", inboundForm("+15557654321", "XXXX", "SMBBBB"))
	close(processor.release)
	h.Drain()

	assert.ElementsMatch(t, []processedMessage{
		{"+15551234567", "book", "SMAAAA"},
		{"+15557654321", "XXXX", "SMBBBB"},
	}, processor.Seen())

	// dedup keys must survive buffer reuse too
	postForm(t, app, "/webhooks/sms/inbound", inboundForm("+15551234567", "book", "SMAAAA"))
	h.Drain()
	assert.Len(t, processor.Seen(), 2)
}

func TestHandleInboundDropsRedelivery(t *testing.T) {
	processor := &fakeProcessor{}
	h := NewSMSHandler(processor, &fakeMessageLog{}, services.NewMemoryInboundDeduper(), discardLogger())
	app := newSMSApp(h)

	postForm(t, app, "/webhooks/sms/inbound", inboundForm("+15551234567", "book", "SM1"))
	resp := postForm(t, app, "/webhooks/sms/inbound", inboundForm("+15551234567", "book", "SM1"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	h.Drain()
	assert.Len(t, processor.Seen(), 1)
}

func TestHandleInboundFallsBackToMessageLogDedup(t *testing.T) {
	processor := &fakeProcessor{}
	messages := &fakeMessageLog{recordErr: services.ErrDuplicateMessage}
	h := NewSMSHandler(processor, messages, brokenDeduper{}, discardLogger())
	app := newSMSApp(h)

	resp := postForm(t, app, "/webhooks/sms/inbound", inboundForm("+15551234567", "book", "SM1"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	h.Drain()
	assert.Empty(t, processor.Seen())
}

func TestHandleInboundIgnoresInvalidSender(t *testing.T) {
	processor := &fakeProcessor{}
	h := NewSMSHandler(processor, &fakeMessageLog{}, services.NewMemoryInboundDeduper(), discardLogger())
	app := newSMSApp(h)

	resp := postForm(t, app, "/webhooks/sms/inbound", inboundForm("not-a-number", "book", "SM1"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	h.Drain()
	assert.Empty(t, processor.Seen())
}

func TestHandleStatus(t *testing.T) {
	messages := &fakeMessageLog{}
	h := NewSMSHandler(&fakeProcessor{}, messages, services.NewMemoryInboundDeduper(), discardLogger())
	app := newSMSApp(h)

	resp := postForm(t, app, "/webhooks/sms/status", url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"SM1:delivered"}, messages.statuses)

	resp = postForm(t, app, "/webhooks/sms/status", url.Values{"MessageStatus": {"delivered"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	messages.statusErr = errors.New("db down")
	resp = postForm(t, app, "/webhooks/sms/status", url.Values{"MessageSid": {"SM2"}, "MessageStatus": {"failed"}})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestErrorHandlerHidesInternalDetail(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(discardLogger())})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New(`pq: relation "appointments" does not exist`)
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Appointment not found")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.NotContains(t, string(body), "appointments")
	assert.Contains(t, string(body), "Internal server error")

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body, _ = io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Appointment not found")
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestHealthCheck(t *testing.T) {
	app := fiber.New()
	app.Get("/health", NewHealthHandler("1.0.0", fakePinger{}).Check)
	app.Get("/degraded", NewHealthHandler("1.0.0", fakePinger{err: errors.New("down")}).Check)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, "1.0.0", body["version"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/degraded", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "DEGRADED", decode(t, resp)["status"])
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type adminFixture struct {
	app   *fiber.App
	store *storage.MemoryStore
}

func newAdminFixture(t *testing.T) adminFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := discardLogger()
	booking := services.NewBookingService(store, events.NewFallback(logger), logger)
	campaigns, err := services.NewCampaignService(store, &nopOutbound{}, services.NewTemplateService("Acme", "+15550000000", "+15559999999"), nil, "21:00", "09:00", logger)
	require.NoError(t, err)

	h := NewAdminHandler(booking, campaigns, logger)
	app := fiber.New()
	app.Get("/admin/slots", h.ListSlots)
	app.Post("/admin/slots/seed", h.SeedSlots)
	app.Post("/admin/appointments", h.CreateAppointment)
	app.Post("/admin/appointments/:id/cancel", h.CancelAppointment)
	app.Post("/admin/campaigns", h.CreateCampaign)
	app.Post("/admin/campaigns/:id/activate", h.ActivateCampaign)
	app.Get("/admin/campaigns/:id/stats", h.CampaignStats)
	return adminFixture{app: app, store: store}
}

type nopOutbound struct{}

func (nopOutbound) SendMessage(ctx context.Context, to, body string, opts services.SendOptions) (*models.Message, error) {
	return &models.Message{ID: uuid.New()}, nil
}

func (f adminFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestAdminAppointmentLifecycle(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	contact := &models.Contact{PhoneNumber: "+15551234567", OptInStatus: models.OptInStatusOptedIn}
	require.NoError(t, f.store.CreateContact(ctx, contact))
	other := &models.Contact{PhoneNumber: "+15551234568", OptInStatus: models.OptInStatusOptedIn}
	require.NoError(t, f.store.CreateContact(ctx, other))

	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)
	slot := &models.Slot{StartTime: start, EndTime: start.Add(30 * time.Minute), IsAvailable: true}
	require.NoError(t, f.store.CreateSlot(ctx, slot))
	slotID := slot.ID

	resp := f.do(t, http.MethodPost, "/admin/appointments", map[string]any{"contact_id": contact.ID, "slot_id": slotID})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	appt := decode(t, resp)["appointment"].(map[string]any)

	resp = f.do(t, http.MethodPost, "/admin/appointments", map[string]any{"contact_id": other.ID, "slot_id": slotID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/admin/appointments", map[string]any{"contact_id": other.ID, "slot_id": uuid.New()})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/admin/appointments/"+uuid.NewString()+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/admin/appointments", map[string]any{"contact_id": other.ID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/admin/appointments/"+appt["id"].(string)+"/cancel", map[string]any{"reason": "moved away"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/admin/appointments/"+appt["id"].(string)+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/admin/appointments/not-a-uuid/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminSeedAndListSlots(t *testing.T) {
	f := newAdminFixture(t)

	resp := f.do(t, http.MethodPost, "/admin/slots/seed?days=7", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode(t, resp)["created"].(float64)
	assert.Positive(t, created)

	resp = f.do(t, http.MethodGet, "/admin/slots?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(5), decode(t, resp)["count"])

	resp = f.do(t, http.MethodPost, "/admin/slots/seed?days=zero", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/admin/slots?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminCampaigns(t *testing.T) {
	f := newAdminFixture(t)

	resp := f.do(t, http.MethodPost, "/admin/campaigns", map[string]any{"name": "promo", "message_template": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/admin/campaigns", map[string]any{"name": "promo", "message_template": "Hi {first_name}"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	campaign := decode(t, resp)["campaign"].(map[string]any)
	id := campaign["id"].(string)

	resp = f.do(t, http.MethodPost, "/admin/campaigns/"+id+"/activate", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, http.MethodPost, "/admin/campaigns/"+id+"/activate", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/admin/campaigns/"+id+"/stats", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/admin/campaigns/"+uuid.NewString()+"/stats", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
