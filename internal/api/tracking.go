package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/engage-analytics/internal/domain"
	"github.com/ignite/engage-analytics/internal/tracking"
)

// transparentGIF is a 1x1 transparent image. The beacon endpoint always serves
// it, whatever happened to the event, so broken tracking never shows up as a
// broken image in someone's inbox.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0x21, 0xF9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2C, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3B,
}

func servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(transparentGIF)
}

func (h *Handlers) requestMeta(r *http.Request) *domain.EventMeta {
	ua := r.UserAgent()
	return &domain.EventMeta{
		IPAddress:  getIP(r),
		UserAgent:  ua,
		DeviceType: tracking.DetectDevice(ua),
	}
}

// TrackOpen records an opened event and serves the beacon. Bad message ids
// still get the pixel back.
func (h *Handlers) TrackOpen(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		servePixel(w)
		return
	}

	h.recorder.Record(r.Context(), id, domain.EventOpened, h.requestMeta(r))
	servePixel(w)
}

// TrackClick records a clicked event and redirects to the original URL carried
// in the `url` query parameter. A missing or unsigned URL is a bad link, not a
// redirect.
func (h *Handlers) TrackClick(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		http.Error(w, "invalid tracking link", http.StatusBadRequest)
		return
	}

	target := r.URL.Query().Get("url")
	if target == "" {
		http.Error(w, "invalid tracking link", http.StatusBadRequest)
		return
	}
	sig := r.URL.Query().Get("sig")
	if !h.injector.Verify(id.String()+"|"+target, sig) {
		http.Error(w, "invalid tracking link", http.StatusBadRequest)
		return
	}

	meta := h.requestMeta(r)
	meta.LinkURL = target
	h.recorder.Record(r.Context(), id, domain.EventClicked, meta)

	http.Redirect(w, r, target, http.StatusFound)
}

// webhookEvent is one provider callback row. Timestamp is informational; the
// recorder stamps its own clock on the stored event.
type webhookEvent struct {
	MessageID string `json:"message_id"`
	EventType string `json:"event_type"`
	Timestamp string `json:"timestamp,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Country   string `json:"country,omitempty"`
	City      string `json:"city,omitempty"`
	Reason    string `json:"reason,omitempty"`
	LinkURL   string `json:"link_url,omitempty"`
}

// HandleWebhook ingests a batch of provider events. It always answers 200:
// rejecting a batch makes ESPs redeliver the whole thing forever, and the
// recorder already drops rows it cannot attribute.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Printf("[API] webhook read failed: %v", err)
		writeJSON(w, http.StatusOK, map[string]int{"processed": 0})
		return
	}

	var events []webhookEvent
	if err := json.Unmarshal(body, &events); err != nil {
		// Some providers post a single object instead of an array.
		var single webhookEvent
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			log.Printf("[API] webhook decode failed: %v", err)
			writeJSON(w, http.StatusOK, map[string]int{"processed": 0})
			return
		}
		events = []webhookEvent{single}
	}

	processed := 0
	for _, ev := range events {
		id, err := uuid.Parse(ev.MessageID)
		if err != nil {
			log.Printf("[API] webhook event with bad message id %q", ev.MessageID)
			continue
		}
		eventType := domain.EventType(ev.EventType)
		if !domain.ValidEventType(eventType) {
			log.Printf("[API] webhook event with unknown type %q", ev.EventType)
			continue
		}

		meta := &domain.EventMeta{
			IPAddress: ev.IPAddress,
			UserAgent: ev.UserAgent,
			Country:   ev.Country,
			City:      ev.City,
			Reason:    ev.Reason,
			LinkURL:   ev.LinkURL,
		}
		if ev.UserAgent != "" {
			meta.DeviceType = tracking.DetectDevice(ev.UserAgent)
		}
		h.recorder.Record(r.Context(), id, eventType, meta)
		processed++
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processed": processed,
		"received":  len(events),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
