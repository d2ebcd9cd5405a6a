package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/engage-analytics/internal/domain"
)

// Postgres is the production Store backed by database/sql + lib/pq.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) InsertMessage(ctx context.Context, m *domain.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_messages (id, recipient, subject, campaign_id, contact_id, ab_test_id, ab_test_variant, status, sent_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9)
	`, m.ID, m.Recipient, m.Subject, m.CampaignID, m.ContactID, m.ABTestID, m.ABVariant, m.Status, m.SentAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Postgres) FindMessage(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, recipient, COALESCE(subject, ''), COALESCE(campaign_id, ''), COALESCE(contact_id, ''),
		       COALESCE(ab_test_id, ''), COALESCE(ab_test_variant, ''), status, sent_at
		FROM email_messages WHERE id = $1
	`, id)

	var m domain.Message
	err := row.Scan(&m.ID, &m.Recipient, &m.Subject, &m.CampaignID, &m.ContactID,
		&m.ABTestID, &m.ABVariant, &m.Status, &m.SentAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}

	events, err := s.eventsFor(ctx, []uuid.UUID{m.ID})
	if err != nil {
		return nil, err
	}
	m.Events = events[m.ID]
	return &m, nil
}

func (s *Postgres) AppendEvent(ctx context.Context, e *domain.EmailEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_events (id, message_id, event_type, event_at, ip_address, user_agent, device_type, country, city, link_url, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.MessageID, e.EventType, e.EventAt, e.IPAddress, e.UserAgent,
		e.DeviceType, e.Country, e.City, e.LinkURL, e.Reason)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// stampColumns whitelists the {type}_at columns so the column name can be
// interpolated safely.
var stampColumns = map[domain.EventType]string{
	domain.EventDelivered:    "delivered_at",
	domain.EventOpened:       "opened_at",
	domain.EventClicked:      "clicked_at",
	domain.EventBounced:      "bounced_at",
	domain.EventComplained:   "complained_at",
	domain.EventUnsubscribed: "unsubscribed_at",
}

func (s *Postgres) UpdateMessageStatus(ctx context.Context, messageID uuid.UUID, eventType domain.EventType, at time.Time) error {
	// The status subquery picks the latest-timestamped event; the serial seq
	// column breaks ties in favor of the first recorded event.
	query := `
		UPDATE email_messages SET status = (
			SELECT event_type FROM email_events
			WHERE message_id = $1
			ORDER BY event_at DESC, seq ASC
			LIMIT 1
		)
		WHERE id = $1`
	if col, ok := stampColumns[eventType]; ok {
		query = fmt.Sprintf(`
		UPDATE email_messages SET status = (
			SELECT event_type FROM email_events
			WHERE message_id = $1
			ORDER BY event_at DESC, seq ASC
			LIMIT 1
		), %s = $2
		WHERE id = $1`, col)
		_, err := s.db.ExecContext(ctx, query, messageID, at)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, query, messageID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

func (s *Postgres) MessagesByCampaign(ctx context.Context, campaignID string) ([]domain.Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, recipient, COALESCE(subject, ''), COALESCE(campaign_id, ''), COALESCE(contact_id, ''),
		       COALESCE(ab_test_id, ''), COALESCE(ab_test_variant, ''), status, sent_at
		FROM email_messages WHERE campaign_id = $1
		ORDER BY sent_at DESC
	`, campaignID)
}

func (s *Postgres) MessagesByContact(ctx context.Context, contactID string) ([]domain.Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, recipient, COALESCE(subject, ''), COALESCE(campaign_id, ''), COALESCE(contact_id, ''),
		       COALESCE(ab_test_id, ''), COALESCE(ab_test_variant, ''), status, sent_at
		FROM email_messages WHERE contact_id = $1
		ORDER BY sent_at DESC
	`, contactID)
}

func (s *Postgres) RecentMessages(ctx context.Context, since time.Time) ([]domain.Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, recipient, COALESCE(subject, ''), COALESCE(campaign_id, ''), COALESCE(contact_id, ''),
		       COALESCE(ab_test_id, ''), COALESCE(ab_test_variant, ''), status, sent_at
		FROM email_messages WHERE sent_at >= $1
		ORDER BY sent_at DESC
	`, since)
}

func (s *Postgres) queryMessages(ctx context.Context, query string, arg interface{}) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	var ids []uuid.UUID
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.Recipient, &m.Subject, &m.CampaignID, &m.ContactID,
			&m.ABTestID, &m.ABVariant, &m.Status, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	events, err := s.eventsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Events = events[msgs[i].ID]
	}
	return msgs, nil
}

func (s *Postgres) eventsFor(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]domain.EmailEvent, error) {
	idStrs := make([]string, len(messageIDs))
	for i, id := range messageIDs {
		idStrs[i] = id.String()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, event_type, event_at, COALESCE(ip_address, ''), COALESCE(user_agent, ''),
		       COALESCE(device_type, ''), COALESCE(country, ''), COALESCE(city, ''),
		       COALESCE(link_url, ''), COALESCE(reason, '')
		FROM email_events
		WHERE message_id = ANY($1)
		ORDER BY seq ASC
	`, pq.Array(idStrs))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]domain.EmailEvent)
	for rows.Next() {
		var e domain.EmailEvent
		if err := rows.Scan(&e.ID, &e.MessageID, &e.EventType, &e.EventAt, &e.IPAddress, &e.UserAgent,
			&e.DeviceType, &e.Country, &e.City, &e.LinkURL, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out[e.MessageID] = append(out[e.MessageID], e)
	}
	return out, rows.Err()
}

func (s *Postgres) InsertTracking(ctx context.Context, tr *domain.TrackingRecord) error {
	links, err := json.Marshal(tr.ShortLinks)
	if err != nil {
		return fmt.Errorf("marshal short links: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO email_tracking (message_id, tracking_pixel_url, open_tracking_enabled, click_tracking_enabled, tracking_domain, short_links, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tr.MessageID, tr.TrackingPixelURL, tr.OpenTrackingEnabled, tr.ClickTrackingEnabled,
		tr.TrackingDomain, links, tr.CreatedAt, tr.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert tracking: %w", err)
	}
	return nil
}

func (s *Postgres) CreateABTest(ctx context.Context, t *domain.ABTest) error {
	va, err := json.Marshal(t.VariantA)
	if err != nil {
		return err
	}
	vb, err := json.Marshal(t.VariantB)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ab_tests (id, test_name, variant_a, variant_b, test_percentage, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.Name, va, vb, t.TestPercentage, t.Status, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create ab test: %w", err)
	}
	return nil
}

func (s *Postgres) FindABTest(ctx context.Context, id string) (*domain.ABTest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, test_name, variant_a, variant_b, test_percentage, status, created_at
		FROM ab_tests WHERE id = $1
	`, id)

	var t domain.ABTest
	var va, vb []byte
	err := row.Scan(&t.ID, &t.Name, &va, &vb, &t.TestPercentage, &t.Status, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find ab test: %w", err)
	}
	if err := json.Unmarshal(va, &t.VariantA); err != nil {
		return nil, fmt.Errorf("variant a: %w", err)
	}
	if err := json.Unmarshal(vb, &t.VariantB); err != nil {
		return nil, fmt.Errorf("variant b: %w", err)
	}

	msgs, err := s.queryMessages(ctx, `
		SELECT id, recipient, COALESCE(subject, ''), COALESCE(campaign_id, ''), COALESCE(contact_id, ''),
		       COALESCE(ab_test_id, ''), COALESCE(ab_test_variant, ''), status, sent_at
		FROM email_messages WHERE ab_test_id = $1
		ORDER BY sent_at DESC
	`, id)
	if err != nil {
		return nil, err
	}
	t.Messages = msgs
	return &t, nil
}
