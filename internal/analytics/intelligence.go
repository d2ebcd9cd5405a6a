package analytics

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/ignite/engage-analytics/internal/cache"
	"github.com/ignite/engage-analytics/internal/domain"
)

// intelligenceWindow is how far back the intelligence aggregate looks.
const intelligenceWindow = 30 * 24 * time.Hour

var weekdayNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Intelligence builds the system-wide recommendation aggregate: subject line
// performance, when recipients actually open, and deliverability advice. It
// never returns nil; with no data the slices are empty. Any new event can
// shift these recommendations, so the invalidator drops this key on every
// recorded event.
func (e *Engine) Intelligence(ctx context.Context) *domain.EmailIntelligence {
	if v, ok := e.cache.Get(cache.KeyIntelligence); ok {
		return v.(*domain.EmailIntelligence)
	}

	intel := &domain.EmailIntelligence{
		SubjectLinePerformance: []domain.SubjectPerformance{},
		Recommendations:        []string{},
	}

	msgs, err := e.store.RecentMessages(ctx, e.now().Add(-intelligenceWindow))
	if err != nil {
		log.Printf("[Analytics] intelligence query failed: %v", err)
		intel.Recommendations = append(intel.Recommendations, "Analytics store unavailable; recommendations suspended")
		return intel
	}
	if len(msgs) == 0 {
		e.cache.Put(cache.KeyIntelligence, intel)
		return intel
	}

	intel.SubjectLinePerformance = subjectPerformance(msgs)
	intel.SendTimeOptimization = sendTimeOptimization(msgs)
	intel.Recommendations = deliverabilityAdvice(msgs)

	e.cache.Put(cache.KeyIntelligence, intel)
	return intel
}

func subjectPerformance(msgs []domain.Message) []domain.SubjectPerformance {
	type tally struct{ sent, opened, clicked int }
	counts := map[string]*tally{}
	var order []string
	for i := range msgs {
		m := &msgs[i]
		if m.Subject == "" {
			continue
		}
		t, seen := counts[m.Subject]
		if !seen {
			t = &tally{}
			counts[m.Subject] = t
			order = append(order, m.Subject)
		}
		t.sent++
		if m.HasEvent(domain.EventOpened) {
			t.opened++
		}
		if m.HasEvent(domain.EventClicked) {
			t.clicked++
		}
	}

	out := make([]domain.SubjectPerformance, 0, len(order))
	for _, s := range order {
		t := counts[s]
		out = append(out, domain.SubjectPerformance{
			Subject:   s,
			SentCount: t.sent,
			OpenRate:  round2(pct(t.opened, t.sent)),
			ClickRate: round2(pct(t.clicked, t.opened)),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentCount > out[j].SentCount })
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

func sendTimeOptimization(msgs []domain.Message) domain.SendTimeOptimization {
	var hours [24]int
	var days [7]int
	for i := range msgs {
		for _, ev := range msgs[i].Events {
			if ev.EventType != domain.EventOpened {
				continue
			}
			hours[ev.EventAt.Hour()]++
			days[int(ev.EventAt.Weekday())]++
		}
	}

	best := domain.SendTimeOptimization{BestDay: weekdayNames[0]}
	for h := 1; h < 24; h++ {
		if hours[h] > hours[best.BestHour] {
			best.BestHour = h
		}
	}
	bestDay := 0
	for d := 1; d < 7; d++ {
		if days[d] > days[bestDay] {
			bestDay = d
		}
	}
	best.BestDay = weekdayNames[bestDay]
	return best
}

func deliverabilityAdvice(msgs []domain.Message) []string {
	var sent, opened, bounced, complained int
	for i := range msgs {
		sent++
		if msgs[i].HasEvent(domain.EventOpened) {
			opened++
		}
		if msgs[i].HasEvent(domain.EventBounced) {
			bounced++
		}
		if msgs[i].HasEvent(domain.EventComplained) {
			complained++
		}
	}

	var recs []string
	if bounceRate := pct(bounced, sent); bounceRate > 5 {
		recs = append(recs, fmt.Sprintf("Bounce rate is %.1f%%; clean the recipient list before the next campaign", bounceRate))
	}
	if complaintRate := pct(complained, sent); complaintRate > 0.1 {
		recs = append(recs, fmt.Sprintf("Complaint rate is %.2f%%; review opt-in sources and sending frequency", complaintRate))
	}
	if openRate := pct(opened, sent); openRate < 15 && sent >= 20 {
		recs = append(recs, "Open rates are low; test shorter subject lines and adjust send times")
	}
	if len(recs) == 0 {
		recs = append(recs, "Engagement metrics are within normal ranges; maintain current sending practices")
	}
	return recs
}
