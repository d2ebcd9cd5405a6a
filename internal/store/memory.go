package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/engage-analytics/internal/domain"
)

// Memory is a map-backed Store used for tests and demo mode. Per-message
// updates are serialized under one lock, so the latest-event status rule holds
// under concurrent recording.
type Memory struct {
	mu       sync.RWMutex
	messages map[uuid.UUID]*domain.Message
	tracking map[uuid.UUID]*domain.TrackingRecord
	tests    map[string]*domain.ABTest
	eventSeq int64
	seqByID  map[uuid.UUID]int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		messages: make(map[uuid.UUID]*domain.Message),
		tracking: make(map[uuid.UUID]*domain.TrackingRecord),
		tests:    make(map[string]*domain.ABTest),
		seqByID:  make(map[uuid.UUID]int64),
	}
}

func (s *Memory) InsertMessage(ctx context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	cp.Events = append([]domain.EmailEvent(nil), m.Events...)
	s.messages[m.ID] = &cp
	return nil
}

func (s *Memory) FindMessage(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	cp.Events = append([]domain.EmailEvent(nil), m.Events...)
	return &cp, nil
}

func (s *Memory) AppendEvent(ctx context.Context, e *domain.EmailEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[e.MessageID]
	if !ok {
		return ErrNotFound
	}
	s.eventSeq++
	s.seqByID[e.ID] = s.eventSeq
	m.Events = append(m.Events, *e)
	return nil
}

func (s *Memory) UpdateMessageStatus(ctx context.Context, messageID uuid.UUID, eventType domain.EventType, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}

	// Status follows the event with the maximum timestamp; among equal
	// timestamps the first recorded wins.
	latest := -1
	for i, e := range m.Events {
		if latest == -1 {
			latest = i
			continue
		}
		le := m.Events[latest]
		if e.EventAt.After(le.EventAt) {
			latest = i
		} else if e.EventAt.Equal(le.EventAt) && s.seqByID[e.ID] < s.seqByID[le.ID] {
			latest = i
		}
	}
	if latest >= 0 {
		m.Status = m.Events[latest].EventType
	}

	t := at
	switch eventType {
	case domain.EventDelivered:
		m.DeliveredAt = &t
	case domain.EventOpened:
		m.OpenedAt = &t
	case domain.EventClicked:
		m.ClickedAt = &t
	case domain.EventBounced:
		m.BouncedAt = &t
	case domain.EventComplained:
		m.ComplainedAt = &t
	case domain.EventUnsubscribed:
		m.UnsubscribedAt = &t
	}
	return nil
}

func (s *Memory) MessagesByCampaign(ctx context.Context, campaignID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.CampaignID == campaignID && campaignID != "" {
			cp := *m
			cp.Events = append([]domain.EmailEvent(nil), m.Events...)
			out = append(out, cp)
		}
	}
	sortBySentAtDesc(out)
	return out, nil
}

func (s *Memory) MessagesByContact(ctx context.Context, contactID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.ContactID == contactID && contactID != "" {
			cp := *m
			cp.Events = append([]domain.EmailEvent(nil), m.Events...)
			out = append(out, cp)
		}
	}
	sortBySentAtDesc(out)
	return out, nil
}

func (s *Memory) RecentMessages(ctx context.Context, since time.Time) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Message
	for _, m := range s.messages {
		if !m.SentAt.Before(since) {
			cp := *m
			cp.Events = append([]domain.EmailEvent(nil), m.Events...)
			out = append(out, cp)
		}
	}
	sortBySentAtDesc(out)
	return out, nil
}

func (s *Memory) InsertTracking(ctx context.Context, tr *domain.TrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tr
	cp.ShortLinks = append([]domain.ShortLink(nil), tr.ShortLinks...)
	s.tracking[tr.MessageID] = &cp
	return nil
}

// TrackingFor returns the stored tracking record for a message, or nil.
func (s *Memory) TrackingFor(messageID uuid.UUID) *domain.TrackingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracking[messageID]
}

func (s *Memory) CreateABTest(ctx context.Context, t *domain.ABTest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tests[t.ID] = &cp
	return nil
}

func (s *Memory) FindABTest(ctx context.Context, id string) (*domain.ABTest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	for _, m := range s.messages {
		if m.ABTestID == id {
			mc := *m
			mc.Events = append([]domain.EmailEvent(nil), m.Events...)
			cp.Messages = append(cp.Messages, mc)
		}
	}
	return &cp, nil
}

func sortBySentAtDesc(msgs []domain.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SentAt.After(msgs[j].SentAt)
	})
}
