package recorder

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/engage-analytics/internal/domain"
	"github.com/ignite/engage-analytics/internal/store"
)

// eventBuffer sizes the publish channel. Publishing is fire-and-forget: when
// the buffer is full the event is dropped rather than blocking the caller.
const eventBuffer = 256

// RecordedEvent is what the recorder publishes after a successful write. The
// campaign id rides along so consumers can invalidate the right cache key
// without a second lookup.
type RecordedEvent struct {
	Event      domain.EmailEvent `json:"event"`
	CampaignID string            `json:"campaign_id,omitempty"`
	ContactID  string            `json:"contact_id,omitempty"`
}

// Recorder is the single write path for engagement events. It validates the
// message reference, appends the immutable event, refreshes the message
// status, and publishes the event for downstream invalidation.
type Recorder struct {
	store  store.Store
	events chan RecordedEvent
	now    func() time.Time
}

// New creates a recorder over the given store.
func New(st store.Store) *Recorder {
	return &Recorder{
		store:  st,
		events: make(chan RecordedEvent, eventBuffer),
		now:    time.Now,
	}
}

// SetClock overrides the recorder's clock. Tests only.
func (r *Recorder) SetClock(now func() time.Time) { r.now = now }

// Events exposes the append-only event stream. Every successful Record call
// publishes exactly one event here.
func (r *Recorder) Events() <-chan RecordedEvent { return r.events }

// Record appends an event for messageID. It never surfaces an error: tracking
// beacons and webhook callbacks can arrive after a message record was purged,
// and a crashed pipeline would be worse than a lost data point. Unknown
// message ids and store failures are logged and dropped.
func (r *Recorder) Record(ctx context.Context, messageID uuid.UUID, eventType domain.EventType, meta *domain.EventMeta) {
	if !domain.ValidEventType(eventType) {
		log.Printf("[Recorder] ignoring unknown event type %q for %s", eventType, messageID)
		return
	}

	msg, err := r.store.FindMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("[Recorder] message not found for %s event: %s", eventType, messageID)
		} else {
			log.Printf("[Recorder] lookup failed for %s: %v", messageID, err)
		}
		return
	}

	event := domain.EmailEvent{
		ID:        uuid.New(),
		MessageID: msg.ID,
		EventType: eventType,
		EventAt:   r.now(),
	}
	if meta != nil {
		event.IPAddress = meta.IPAddress
		event.UserAgent = meta.UserAgent
		event.DeviceType = meta.DeviceType
		event.Country = meta.Country
		event.City = meta.City
		event.LinkURL = meta.LinkURL
		event.Reason = meta.Reason
	}

	if err := r.store.AppendEvent(ctx, &event); err != nil {
		log.Printf("[Recorder] append %s event for %s failed: %v", eventType, messageID, err)
		return
	}

	if err := r.store.UpdateMessageStatus(ctx, msg.ID, eventType, event.EventAt); err != nil {
		// The event itself is durable; the status column lags until the
		// next event lands. Log and move on.
		log.Printf("[Recorder] status update for %s failed: %v", messageID, err)
	}

	select {
	case r.events <- RecordedEvent{Event: event, CampaignID: msg.CampaignID, ContactID: msg.ContactID}:
	default:
		log.Printf("[Recorder] event stream full, dropping %s notification for %s", eventType, messageID)
	}
}
