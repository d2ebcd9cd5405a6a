package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/engage-analytics/internal/analytics"
	"github.com/ignite/engage-analytics/internal/domain"
	"github.com/ignite/engage-analytics/internal/mailer"
	"github.com/ignite/engage-analytics/internal/recorder"
	"github.com/ignite/engage-analytics/internal/store"
	"github.com/ignite/engage-analytics/internal/tracking"
)

// Handlers bundles the API's collaborators. The sender may be nil when the
// mailer is disabled; the send endpoint then answers 503.
type Handlers struct {
	engine   *analytics.Engine
	recorder *recorder.Recorder
	injector *tracking.Injector
	store    store.Store
	sender   *mailer.Sender
}

// NewHandlers creates the handler set.
func NewHandlers(engine *analytics.Engine, rec *recorder.Recorder, inj *tracking.Injector, st store.Store, sender *mailer.Sender) *Handlers {
	return &Handlers{
		engine:   engine,
		recorder: rec,
		injector: inj,
		store:    st,
		sender:   sender,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// getIP extracts the client IP, preferring proxy headers.
func getIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx != -1 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetCampaignAnalytics serves the cached campaign report. An unknown or empty
// campaign degrades to 404 rather than an empty report, matching the store
// failure path, so dashboards have a single "no data" branch.
func (h *Handlers) GetCampaignAnalytics(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	a, err := h.engine.CampaignAnalytics(r.Context(), campaignID)
	if err != nil {
		log.Printf("[API] campaign analytics %s: %v", campaignID, err)
		writeError(w, http.StatusNotFound, "analytics unavailable")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "analytics unavailable")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetContactEngagement serves the cached per-contact profile, same degrade
// contract as the campaign report.
func (h *Handlers) GetContactEngagement(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactID")
	p, err := h.engine.ContactEngagement(r.Context(), contactID)
	if err != nil {
		log.Printf("[API] contact engagement %s: %v", contactID, err)
		writeError(w, http.StatusNotFound, "analytics unavailable")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "analytics unavailable")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetRealTimeMetrics always answers 200; the engine degrades internally.
func (h *Handlers) GetRealTimeMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.RealTimeMetrics(r.Context()))
}

// GetIntelligence always answers 200 with the recommendation aggregate.
func (h *Handlers) GetIntelligence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Intelligence(r.Context()))
}

type createABTestRequest struct {
	Name           string           `json:"test_name"`
	VariantA       domain.ABVariant `json:"variant_a"`
	VariantB       domain.ABVariant `json:"variant_b"`
	TestPercentage int              `json:"test_percentage"`
}

// CreateABTest registers a new test. The split defaults to 50 and is clamped
// to [1,99]; a 0/100 split is not a test.
func (h *Handlers) CreateABTest(w http.ResponseWriter, r *http.Request) {
	var req createABTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "test_name is required")
		return
	}
	if req.TestPercentage == 0 {
		req.TestPercentage = 50
	}
	if req.TestPercentage < 1 {
		req.TestPercentage = 1
	}
	if req.TestPercentage > 99 {
		req.TestPercentage = 99
	}
	if req.VariantA.Name == "" {
		req.VariantA.Name = "A"
	}
	if req.VariantB.Name == "" {
		req.VariantB.Name = "B"
	}

	test := &domain.ABTest{
		ID:             uuid.New().String(),
		Name:           req.Name,
		VariantA:       req.VariantA,
		VariantB:       req.VariantB,
		TestPercentage: req.TestPercentage,
		Status:         "running",
		CreatedAt:      time.Now(),
	}
	if err := h.store.CreateABTest(r.Context(), test); err != nil {
		log.Printf("[API] create ab test: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create test")
		return
	}
	writeJSON(w, http.StatusCreated, test)
}

// GetABTestResults evaluates a test on demand; 404 when the id is unknown.
func (h *Handlers) GetABTestResults(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")
	res, err := h.engine.ABResults(r.Context(), testID)
	if err != nil {
		log.Printf("[API] ab results %s: %v", testID, err)
		writeError(w, http.StatusInternalServerError, "failed to evaluate test")
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, "test not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SendMessage runs the outbound pipeline for one recipient.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	if h.sender == nil {
		writeError(w, http.StatusServiceUnavailable, "mailer is disabled")
		return
	}

	var req mailer.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Recipient == "" {
		writeError(w, http.StatusBadRequest, "recipient is required")
		return
	}

	res, err := h.sender.Send(r.Context(), req)
	if err != nil {
		log.Printf("[API] send to %s failed: %v", req.Recipient, err)
		writeError(w, http.StatusInternalServerError, "send failed")
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}
