package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engage-analytics/internal/domain"
	"github.com/ignite/engage-analytics/internal/store"
)

func seedSubject(t *testing.T, st *store.Memory, subject string, total, opened, clicked, bounced int) {
	t.Helper()
	var cases []msgCase
	for i := 0; i < total; i++ {
		s := msgCase{subject: subject, sentAt: testNow.Add(-time.Duration(i+1) * time.Hour)}
		if i < opened {
			s.events = append(s.events, ev(domain.EventOpened, s.sentAt.Add(time.Minute)))
		}
		if i < clicked {
			s.events = append(s.events, ev(domain.EventClicked, s.sentAt.Add(2*time.Minute)))
		}
		if i < bounced {
			s.events = append(s.events, ev(domain.EventBounced, s.sentAt.Add(time.Minute)))
		}
		cases = append(cases, s)
	}
	seed(t, st, cases)
}

func TestIntelligenceSubjectPerformance(t *testing.T) {
	st := store.NewMemory()
	seedSubject(t, st, "Big sale", 10, 5, 2, 0)
	seedSubject(t, st, "Newsletter", 20, 4, 1, 0)

	e := newTestEngine(st)
	intel := e.Intelligence(context.Background())
	require.NotNil(t, intel)

	require.Len(t, intel.SubjectLinePerformance, 2)
	// Ordered by sent count descending.
	assert.Equal(t, "Newsletter", intel.SubjectLinePerformance[0].Subject)
	assert.Equal(t, 20, intel.SubjectLinePerformance[0].SentCount)
	assert.Equal(t, 20.0, intel.SubjectLinePerformance[0].OpenRate)
	assert.Equal(t, "Big sale", intel.SubjectLinePerformance[1].Subject)
	assert.Equal(t, 50.0, intel.SubjectLinePerformance[1].OpenRate)
	assert.Equal(t, 40.0, intel.SubjectLinePerformance[1].ClickRate)
}

func TestIntelligenceRecommendationsOnProblems(t *testing.T) {
	st := store.NewMemory()
	// 20% bounce rate, nothing opened across 20 sends.
	seedSubject(t, st, "Spammy blast", 20, 0, 0, 4)

	e := newTestEngine(st)
	intel := e.Intelligence(context.Background())

	require.Len(t, intel.Recommendations, 2)
	assert.Contains(t, intel.Recommendations[0], "Bounce rate")
	assert.Contains(t, intel.Recommendations[1], "Open rates are low")
}

func TestIntelligenceHealthyBaseline(t *testing.T) {
	st := store.NewMemory()
	seedSubject(t, st, "Weekly digest", 20, 10, 4, 0)

	e := newTestEngine(st)
	intel := e.Intelligence(context.Background())

	require.Len(t, intel.Recommendations, 1)
	assert.Contains(t, intel.Recommendations[0], "within normal ranges")
}

func TestIntelligenceEmptySystem(t *testing.T) {
	e := newTestEngine(store.NewMemory())
	intel := e.Intelligence(context.Background())

	require.NotNil(t, intel)
	assert.Empty(t, intel.SubjectLinePerformance)
	assert.Empty(t, intel.Recommendations)
}

func TestIntelligenceStoreFailure(t *testing.T) {
	e := newTestEngine(&failingStore{Memory: store.NewMemory()})
	intel := e.Intelligence(context.Background())

	require.NotNil(t, intel)
	require.Len(t, intel.Recommendations, 1)
	assert.Contains(t, intel.Recommendations[0], "recommendations suspended")
}
