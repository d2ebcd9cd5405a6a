package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/engage-analytics/internal/domain"
)

// ErrNotFound is returned when a message or test id does not resolve.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence surface the engine consumes. Messages returned by
// the query methods carry their associated events.
type Store interface {
	InsertMessage(ctx context.Context, m *domain.Message) error
	FindMessage(ctx context.Context, id uuid.UUID) (*domain.Message, error)

	// AppendEvent writes one immutable event row. Events are never updated
	// or deleted.
	AppendEvent(ctx context.Context, e *domain.EmailEvent) error

	// UpdateMessageStatus recomputes the message status from the
	// latest-timestamped event (ties broken by insertion order) and stamps
	// the {type}_at field for eventType.
	UpdateMessageStatus(ctx context.Context, messageID uuid.UUID, eventType domain.EventType, at time.Time) error

	MessagesByCampaign(ctx context.Context, campaignID string) ([]domain.Message, error)
	MessagesByContact(ctx context.Context, contactID string) ([]domain.Message, error)
	RecentMessages(ctx context.Context, since time.Time) ([]domain.Message, error)

	InsertTracking(ctx context.Context, tr *domain.TrackingRecord) error

	CreateABTest(ctx context.Context, t *domain.ABTest) error
	FindABTest(ctx context.Context, id string) (*domain.ABTest, error)
}
