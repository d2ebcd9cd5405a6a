package analytics

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/ignite/engage-analytics/internal/cache"
	"github.com/ignite/engage-analytics/internal/domain"
	"github.com/ignite/engage-analytics/internal/store"
)

// Engagement score weights. These are product decisions carried over intact,
// tunable heuristics rather than anything statistically derived.
const (
	campaignOpenWeight      = 0.30
	campaignClickWeight     = 0.50
	campaignBounceWeight    = 0.10
	campaignComplaintWeight = 0.10
)

// Real-time health thresholds.
const (
	bounceRateDegraded   = 5.0   // percent, last hour
	deliveryRateCritical = 95.0  // percent, last hour
	sendRateWarning      = 100.0 // messages per minute
)

// Engine computes derived statistics over the message/event store. All three
// query operations are pure reads; the cache is an optimization and never a
// second source of truth.
type Engine struct {
	store store.Store
	cache *cache.Cache
	now   func() time.Time
}

// NewEngine creates an engine over the given store and cache.
func NewEngine(st store.Store, c *cache.Cache) *Engine {
	return &Engine{store: st, cache: c, now: time.Now}
}

// SetClock overrides the engine's clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// CampaignAnalytics computes the cached campaign report. It returns nil when
// the campaign has no messages, and an error only when the store itself is
// unavailable ("analytics unavailable" to the caller).
func (e *Engine) CampaignAnalytics(ctx context.Context, campaignID string) (*domain.CampaignAnalytics, error) {
	key := cache.CampaignKey(campaignID)
	if v, ok := e.cache.Get(key); ok {
		return v.(*domain.CampaignAnalytics), nil
	}

	msgs, err := e.store.MessagesByCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign analytics: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	a := &domain.CampaignAnalytics{
		CampaignID:   campaignID,
		CampaignName: campaignID,
		SentCount:    len(msgs),
	}

	// A message counts toward a numerator when any of its events has that
	// type; repeats never double count at this level.
	for i := range msgs {
		m := &msgs[i]
		if m.HasEvent(domain.EventDelivered) {
			a.DeliveredCount++
		}
		if m.HasEvent(domain.EventOpened) {
			a.OpenedCount++
		}
		if m.HasEvent(domain.EventClicked) {
			a.ClickedCount++
		}
		if m.HasEvent(domain.EventBounced) {
			a.BouncedCount++
		}
		if m.HasEvent(domain.EventComplained) {
			a.ComplainedCount++
		}
		if m.HasEvent(domain.EventUnsubscribed) {
			a.UnsubscribedCount++
		}
	}

	a.DeliveryRate = round2(pct(a.DeliveredCount, a.SentCount))
	a.OpenRate = round2(pct(a.OpenedCount, a.DeliveredCount))
	a.ClickRate = round2(pct(a.ClickedCount, a.OpenedCount))
	a.BounceRate = round2(pct(a.BouncedCount, a.SentCount))
	a.ComplaintRate = round2(pct(a.ComplainedCount, a.DeliveredCount))
	a.UnsubscribeRate = round2(pct(a.UnsubscribedCount, a.DeliveredCount))

	a.EngagementScore = int(math.Round(
		a.OpenRate*campaignOpenWeight +
			a.ClickRate*campaignClickWeight +
			(100-a.BounceRate)*campaignBounceWeight +
			(100-a.ComplaintRate)*campaignComplaintWeight))

	a.TopDevices = topDevices(msgs, a.SentCount)
	a.GeographicalData = topCountries(msgs)
	a.TimeAnalytics = timeHistograms(msgs)

	e.cache.Put(key, a)
	return a, nil
}

// topDevices counts events (not messages) per device type and returns the five
// largest buckets. Percentages are relative to the campaign's sent count.
func topDevices(msgs []domain.Message, sentCount int) []domain.DeviceBreakdown {
	counts := map[string]int{}
	var order []string
	for i := range msgs {
		for _, ev := range msgs[i].Events {
			if ev.DeviceType == "" {
				continue
			}
			if _, seen := counts[ev.DeviceType]; !seen {
				order = append(order, ev.DeviceType)
			}
			counts[ev.DeviceType]++
		}
	}

	out := make([]domain.DeviceBreakdown, 0, len(order))
	for _, d := range order {
		out = append(out, domain.DeviceBreakdown{
			Device:     d,
			Count:      counts[d],
			Percentage: int(math.Round(pct(counts[d], sentCount))),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// topCountries buckets open and click events by country and returns the ten
// most active, ordered by combined opens+clicks.
func topCountries(msgs []domain.Message) []domain.GeoBreakdown {
	type geo struct{ opens, clicks int }
	counts := map[string]*geo{}
	var order []string
	for i := range msgs {
		for _, ev := range msgs[i].Events {
			if ev.Country == "" {
				continue
			}
			g, seen := counts[ev.Country]
			if !seen {
				g = &geo{}
				counts[ev.Country] = g
				order = append(order, ev.Country)
			}
			switch ev.EventType {
			case domain.EventOpened:
				g.opens++
			case domain.EventClicked:
				g.clicks++
			}
		}
	}

	out := make([]domain.GeoBreakdown, 0, len(order))
	for _, c := range order {
		out = append(out, domain.GeoBreakdown{Country: c, Opens: counts[c].opens, Clicks: counts[c].clicks})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Opens+out[i].Clicks > out[j].Opens+out[j].Clicks
	})
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

// timeHistograms buckets every open and click occurrence (no per-message
// dedup) by local hour-of-day and day-of-week.
func timeHistograms(msgs []domain.Message) domain.TimeAnalytics {
	var t domain.TimeAnalytics
	for i := range msgs {
		for _, ev := range msgs[i].Events {
			hour := ev.EventAt.Hour()
			day := int(ev.EventAt.Weekday())
			switch ev.EventType {
			case domain.EventOpened:
				t.HourlyOpens[hour]++
				t.DailyOpens[day]++
			case domain.EventClicked:
				t.HourlyClicks[hour]++
				t.DailyClicks[day]++
			}
		}
	}
	return t
}

// ContactEngagement computes the cached per-contact profile, nil when the
// contact has no messages.
func (e *Engine) ContactEngagement(ctx context.Context, contactID string) (*domain.ContactEngagement, error) {
	key := cache.ContactKey(contactID)
	if v, ok := e.cache.Get(key); ok {
		return v.(*domain.ContactEngagement), nil
	}

	// Most recent first; the trend comparison depends on this ordering.
	msgs, err := e.store.MessagesByContact(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("contact engagement: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	p := &domain.ContactEngagement{
		ContactID: contactID,
		Email:     msgs[0].Recipient,
		TotalSent: len(msgs),
	}

	var openEvents []domain.EmailEvent
	for i := range msgs {
		m := &msgs[i]
		if m.HasEvent(domain.EventOpened) {
			p.TotalOpened++
		}
		if m.HasEvent(domain.EventClicked) {
			p.TotalClicked++
		}
		for _, ev := range m.Events {
			switch ev.EventType {
			case domain.EventOpened:
				openEvents = append(openEvents, ev)
				if p.LastOpened == nil || ev.EventAt.After(*p.LastOpened) {
					t := ev.EventAt
					p.LastOpened = &t
				}
			case domain.EventClicked:
				if p.LastClicked == nil || ev.EventAt.After(*p.LastClicked) {
					t := ev.EventAt
					p.LastClicked = &t
				}
			case domain.EventComplained:
				p.ComplaintCount++
			case domain.EventUnsubscribed:
				p.Unsubscribed = true
			}
		}
	}

	// Contact scoring runs on [0,1] rates, unlike the campaign view. The
	// denominators are inconsistent with the campaign report on purpose;
	// both match the shipped behavior.
	openRate := frac(p.TotalOpened, p.TotalSent)
	clickRate := frac(p.TotalClicked, p.TotalOpened)
	p.EngagementScore = int(math.Round(openRate*50 + clickRate*50))

	p.EngagementTrend = engagementTrend(msgs)
	p.DevicePreference, p.PreferredSendHour = openPreferences(openEvents)

	e.cache.Put(key, p)
	return p, nil
}

// engagementTrend compares the open fraction of the 10 most recent messages
// against the 10 before them. An empty slice contributes a fraction of 0.
func engagementTrend(msgs []domain.Message) domain.EngagementTrend {
	recent := msgs
	if len(recent) > 10 {
		recent = recent[:10]
	}
	var previous []domain.Message
	if len(msgs) > 10 {
		previous = msgs[10:]
		if len(previous) > 10 {
			previous = previous[:10]
		}
	}

	openFrac := func(ms []domain.Message) float64 {
		if len(ms) == 0 {
			return 0
		}
		opened := 0
		for i := range ms {
			if ms[i].HasEvent(domain.EventOpened) {
				opened++
			}
		}
		return float64(opened) / float64(len(ms))
	}

	r, p := openFrac(recent), openFrac(previous)
	switch {
	case r > p*1.1:
		return domain.TrendIncreasing
	case r < p*0.9:
		return domain.TrendDecreasing
	default:
		return domain.TrendStable
	}
}

// openPreferences finds the most frequent device type and local hour among the
// contact's open events. Ties go to the first seen.
func openPreferences(opens []domain.EmailEvent) (string, *int) {
	if len(opens) == 0 {
		return "", nil
	}

	devCounts := map[string]int{}
	var devOrder []string
	var hours [24]int
	for _, ev := range opens {
		if ev.DeviceType != "" {
			if _, seen := devCounts[ev.DeviceType]; !seen {
				devOrder = append(devOrder, ev.DeviceType)
			}
			devCounts[ev.DeviceType]++
		}
		hours[ev.EventAt.Hour()]++
	}

	device := ""
	best := 0
	for _, d := range devOrder {
		if devCounts[d] > best {
			device = d
			best = devCounts[d]
		}
	}

	bestHour := 0
	for h := 1; h < 24; h++ {
		if hours[h] > hours[bestHour] {
			bestHour = h
		}
	}
	return device, &bestHour
}

// RealTimeMetrics returns a point-in-time snapshot. It never fails: a store
// error degrades to an all-zero snapshot with critical health and a single
// error alert, so the caller always has something to render.
func (e *Engine) RealTimeMetrics(ctx context.Context) *domain.RealTimeMetrics {
	if v, ok := e.cache.Get(cache.KeyRealtimeMetrics, cache.RealtimeTTL); ok {
		return v.(*domain.RealTimeMetrics)
	}

	now := e.now()
	msgs, err := e.store.RecentMessages(ctx, now.Add(-24*time.Hour))
	if err != nil {
		log.Printf("[Analytics] real-time metrics query failed: %v", err)
		return &domain.RealTimeMetrics{
			Timestamp:    now,
			SystemHealth: domain.HealthCritical,
			Alerts: []domain.Alert{{
				Type:      "error",
				Message:   "Failed to fetch real-time metrics",
				Timestamp: now,
			}},
		}
	}

	m := &domain.RealTimeMetrics{
		Timestamp:         now,
		EmailsSentLast24h: len(msgs),
		SystemHealth:      domain.HealthHealthy,
		Alerts:            []domain.Alert{},
	}

	hourAgo := now.Add(-time.Hour)
	tenMinAgo := now.Add(-10 * time.Minute)

	var sentLastHour, deliveredLastHour, openedLastHour, clickedLastHour, bouncedLastHour int
	var sentLast10m int
	campaigns := map[string]struct{}{}
	for i := range msgs {
		msg := &msgs[i]
		if msg.CampaignID != "" {
			campaigns[msg.CampaignID] = struct{}{}
		}
		if !msg.SentAt.Before(tenMinAgo) {
			sentLast10m++
		}
		if msg.SentAt.Before(hourAgo) {
			continue
		}
		sentLastHour++
		if msg.HasEvent(domain.EventDelivered) {
			deliveredLastHour++
		}
		if msg.HasEvent(domain.EventOpened) {
			openedLastHour++
		}
		if msg.HasEvent(domain.EventClicked) {
			clickedLastHour++
		}
		if msg.HasEvent(domain.EventBounced) {
			bouncedLastHour++
		}
	}

	m.EmailsSentLastHour = sentLastHour
	m.ActiveCampaigns = len(campaigns)
	m.CurrentSendRate = round2(float64(sentLast10m) / 10)
	m.DeliveryRateLastHour = round2(pct(deliveredLastHour, sentLastHour))
	m.OpenRateLastHour = round2(pct(openedLastHour, deliveredLastHour))
	m.ClickRateLastHour = round2(pct(clickedLastHour, openedLastHour))
	m.BounceRateLastHour = round2(pct(bouncedLastHour, sentLastHour))

	// Health reflects the worst triggered condition; alerts accumulate.
	if m.BounceRateLastHour > bounceRateDegraded {
		m.SystemHealth = domain.HealthDegraded
		m.Alerts = append(m.Alerts, domain.Alert{
			Type:      "warning",
			Message:   fmt.Sprintf("High bounce rate detected: %.1f%%", m.BounceRateLastHour),
			Timestamp: now,
		})
	}
	if m.DeliveryRateLastHour < deliveryRateCritical {
		m.SystemHealth = domain.HealthCritical
		m.Alerts = append(m.Alerts, domain.Alert{
			Type:      "error",
			Message:   fmt.Sprintf("Low delivery rate: %.1f%%", m.DeliveryRateLastHour),
			Timestamp: now,
		})
	}
	if m.CurrentSendRate > sendRateWarning {
		m.Alerts = append(m.Alerts, domain.Alert{
			Type:      "warning",
			Message:   "High send rate may trigger rate limiting",
			Timestamp: now,
		})
	}

	e.cache.Put(cache.KeyRealtimeMetrics, m, cache.RealtimeTTL)
	return m
}

// pct returns numerator/denominator as a percentage, 0 when the denominator
// is 0.
func pct(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den) * 100
}

// frac is pct on a [0,1] scale.
func frac(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
