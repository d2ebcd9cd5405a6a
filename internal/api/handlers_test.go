package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engage-analytics/internal/analytics"
	"github.com/ignite/engage-analytics/internal/cache"
	"github.com/ignite/engage-analytics/internal/domain"
	"github.com/ignite/engage-analytics/internal/mailer"
	"github.com/ignite/engage-analytics/internal/ratelimit"
	"github.com/ignite/engage-analytics/internal/recorder"
	"github.com/ignite/engage-analytics/internal/store"
	"github.com/ignite/engage-analytics/internal/tracking"
)

type fakeEmailAPI struct {
	calls int
}

func (f *fakeEmailAPI) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.calls++
	return &sesv2.SendEmailOutput{}, nil
}

type fixture struct {
	store    *store.Memory
	injector *tracking.Injector
	handler  http.Handler
}

func newFixture(t *testing.T, withSender bool) *fixture {
	t.Helper()
	st := store.NewMemory()
	c := cache.New(nil)
	engine := analytics.NewEngine(st, c)
	rec := recorder.New(st)
	inj := tracking.NewInjector(st, "https://track.example.com", "secret")

	var sender *mailer.Sender
	if withSender {
		sender = mailer.NewSender(&fakeEmailAPI{}, st, inj, rec, "no-reply@example.com", "Engage")
	}

	h := NewHandlers(engine, rec, inj, st, sender)
	return &fixture{store: st, injector: inj, handler: SetupRoutes(h, nil)}
}

func (f *fixture) seedMessage(t *testing.T, campaignID string) *domain.Message {
	t.Helper()
	m := &domain.Message{
		ID:         uuid.New(),
		Recipient:  "alice@example.com",
		CampaignID: campaignID,
		ContactID:  "contact1",
		Status:     domain.EventSent,
		SentAt:     time.Now().Add(-time.Hour),
	}
	require.NoError(t, f.store.InsertMessage(context.Background(), m))
	return m
}

func (f *fixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTrackOpenServesPixelAndRecords(t *testing.T) {
	f := newFixture(t, false)
	m := f.seedMessage(t, "camp1")

	w := f.do(http.MethodGet, fmt.Sprintf("/track/open/%s.png", m.ID), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
	assert.Equal(t, transparentGIF, w.Body.Bytes())

	got, err := f.store.FindMessage(context.Background(), m.ID)
	require.NoError(t, err)
	require.Len(t, got.Events, 1)
	assert.Equal(t, domain.EventOpened, got.Events[0].EventType)
	assert.NotEmpty(t, got.Events[0].DeviceType)
}

func TestTrackOpenBadIDStillServesPixel(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(http.MethodGet, "/track/open/notauuid.png", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
}

func TestTrackClickRedirectsAndRecords(t *testing.T) {
	f := newFixture(t, false)
	m := f.seedMessage(t, "camp1")
	original := "https://shop.example.com/item?x=1"

	clickURL := f.injector.ClickURL(m.ID, original)
	// Strip the scheme+host; the router only sees the path and query.
	path := clickURL[len("https://track.example.com"):]

	w := f.do(http.MethodGet, path, nil)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, original, w.Header().Get("Location"))

	got, err := f.store.FindMessage(context.Background(), m.ID)
	require.NoError(t, err)
	require.Len(t, got.Events, 1)
	assert.Equal(t, domain.EventClicked, got.Events[0].EventType)
	assert.Equal(t, original, got.Events[0].LinkURL)
}

func TestTrackClickRejectsMissingURL(t *testing.T) {
	f := newFixture(t, false)
	m := f.seedMessage(t, "camp1")
	w := f.do(http.MethodGet, fmt.Sprintf("/track/click/%s", m.ID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrackClickRejectsBadSignature(t *testing.T) {
	f := newFixture(t, false)
	m := f.seedMessage(t, "camp1")
	w := f.do(http.MethodGet, fmt.Sprintf("/track/click/%s?url=https%%3A%%2F%%2Fevil.example.com&sig=deadbeef", m.ID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	got, err := f.store.FindMessage(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Events, "forged links record nothing")
}

func TestWebhookIngestsBatch(t *testing.T) {
	f := newFixture(t, false)
	m := f.seedMessage(t, "camp1")

	payload, _ := json.Marshal([]map[string]string{
		{"message_id": m.ID.String(), "event_type": "delivered"},
		{"message_id": m.ID.String(), "event_type": "bounced", "reason": "mailbox full"},
		{"message_id": "garbage", "event_type": "delivered"},
		{"message_id": m.ID.String(), "event_type": "forwarded"},
	})

	w := f.do(http.MethodPost, "/webhooks/events", payload)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["processed"])
	assert.Equal(t, float64(4), resp["received"])

	got, err := f.store.FindMessage(context.Background(), m.ID)
	require.NoError(t, err)
	require.Len(t, got.Events, 2)
	assert.Equal(t, "mailbox full", got.Events[1].Reason)
}

func TestWebhookSingleObjectAndGarbage(t *testing.T) {
	f := newFixture(t, false)
	m := f.seedMessage(t, "camp1")

	single, _ := json.Marshal(map[string]string{"message_id": m.ID.String(), "event_type": "delivered"})
	w := f.do(http.MethodPost, "/webhooks/events", single)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPost, "/webhooks/events", []byte("not json"))
	assert.Equal(t, http.StatusOK, w.Code, "bad payloads must not make the provider retry")
}

func TestCampaignAnalyticsEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.seedMessage(t, "camp1")

	w := f.do(http.MethodGet, "/api/analytics/campaigns/camp1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var a domain.CampaignAnalytics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Equal(t, "camp1", a.CampaignID)
	assert.Equal(t, 1, a.SentCount)
}

func TestCampaignAnalyticsUnknownIs404(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(http.MethodGet, "/api/analytics/campaigns/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"analytics unavailable"}`, w.Body.String())
}

func TestContactEngagementUnknownIs404(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(http.MethodGet, "/api/analytics/contacts/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"analytics unavailable"}`, w.Body.String())
}

func TestRealtimeAlwaysAnswers(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(http.MethodGet, "/api/analytics/realtime", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var m domain.RealTimeMetrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.NotZero(t, m.Timestamp)
}

func TestIntelligenceAlwaysAnswers(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(http.MethodGet, "/api/analytics/intelligence", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestABTestCreateAndResults(t *testing.T) {
	f := newFixture(t, false)

	body, _ := json.Marshal(map[string]interface{}{
		"test_name":       "Subject test",
		"variant_a":       map[string]string{"name": "A", "subject": "Short"},
		"variant_b":       map[string]string{"name": "B", "subject": "Long"},
		"test_percentage": 30,
	})
	w := f.do(http.MethodPost, "/api/abtests", body)
	require.Equal(t, http.StatusCreated, w.Code)

	var created domain.ABTest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 30, created.TestPercentage)
	assert.Equal(t, "running", created.Status)

	w = f.do(http.MethodGet, "/api/abtests/"+created.ID+"/results", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res domain.ABTestResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, created.ID, res.TestID)
	assert.Equal(t, "inconclusive", res.Winner)
}

func TestABTestCreateValidation(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(http.MethodPost, "/api/abtests", []byte(`{"variant_a":{"name":"A"}}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestABTestResultsUnknownIs404(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(http.MethodGet, "/api/abtests/missing/results", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendEndpoint(t *testing.T) {
	f := newFixture(t, true)

	body, _ := json.Marshal(map[string]string{
		"recipient": "alice@example.com",
		"subject":   "Hello",
		"html_body": "<p>Hello</p>",
	})
	w := f.do(http.MethodPost, "/api/messages/send", body)
	require.Equal(t, http.StatusAccepted, w.Code)

	var res mailer.SendResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

	msg, err := f.store.FindMessage(context.Background(), res.MessageID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", msg.Recipient)
}

func TestSendEndpointValidation(t *testing.T) {
	f := newFixture(t, true)
	w := f.do(http.MethodPost, "/api/messages/send", []byte(`{"subject":"no recipient"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendEndpointDisabledMailer(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(http.MethodPost, "/api/messages/send", []byte(`{"recipient":"a@example.com"}`))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTrackEndpointsRateLimited(t *testing.T) {
	st := store.NewMemory()
	c := cache.New(nil)
	h := NewHandlers(analytics.NewEngine(st, c), recorder.New(st), tracking.NewInjector(st, "https://track.example.com", "secret"), st, nil)
	handler := SetupRoutes(h, ratelimit.NewLimiter(1, 2))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/track/open/notauuid.png", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
