package analytics

import (
	"context"
	"fmt"
	"math"

	"github.com/ignite/engage-analytics/internal/domain"
	"github.com/ignite/engage-analytics/internal/store"
)

// Significance thresholds by combined sample size. This is a coarse heuristic
// standing in for a real significance test; the constants are shipped product
// behavior, not statistics.
const (
	significanceHighSample = 100 // combined sends for 95
	significanceMidSample  = 50  // combined sends for 90
)

// ABResults evaluates a test on demand. Returns nil when the test id does not
// resolve; results are never persisted as a frozen snapshot.
func (e *Engine) ABResults(ctx context.Context, testID string) (*domain.ABTestResult, error) {
	test, err := e.store.FindABTest(ctx, testID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("ab results: %w", err)
	}

	var variantA, variantB []domain.Message
	for _, m := range test.Messages {
		switch m.ABVariant {
		case "a":
			variantA = append(variantA, m)
		case "b":
			variantB = append(variantB, m)
		}
	}

	res := &domain.ABTestResult{
		TestID:   test.ID,
		TestName: test.Name,
		VariantA: variantMetrics(test.VariantA.Name, variantA),
		VariantB: variantMetrics(test.VariantB.Name, variantB),
	}

	totalSent := res.VariantA.Sent + res.VariantB.Sent
	switch {
	case totalSent > significanceHighSample:
		res.StatisticalSignificance = 95
	case totalSent > significanceMidSample:
		res.StatisticalSignificance = 90
	default:
		res.StatisticalSignificance = 80
	}
	res.ConfidenceLevel = res.StatisticalSignificance

	// A winner needs 95 significance and a strictly higher open rate; equal
	// rates stay inconclusive no matter the sample.
	res.Winner = "inconclusive"
	if res.StatisticalSignificance >= 95 {
		if res.VariantA.OpenRate > res.VariantB.OpenRate {
			res.Winner = "a"
		} else if res.VariantB.OpenRate > res.VariantA.OpenRate {
			res.Winner = "b"
		}
	}

	res.TestDurationHours = int(math.Round(e.now().Sub(test.CreatedAt).Hours()))

	switch res.Winner {
	case "a":
		res.Recommendation = fmt.Sprintf("Variant A (%s) performs better. Consider using it for the full campaign.", test.VariantA.Name)
	case "b":
		res.Recommendation = fmt.Sprintf("Variant B (%s) performs better. Consider using it for the full campaign.", test.VariantB.Name)
	default:
		res.Recommendation = "Continue testing for more statistical significance."
	}

	return res, nil
}

func variantMetrics(name string, msgs []domain.Message) domain.ABVariantMetrics {
	m := domain.ABVariantMetrics{Name: name, Sent: len(msgs)}
	for i := range msgs {
		if msgs[i].HasEvent(domain.EventOpened) {
			m.Opened++
		}
		if msgs[i].HasEvent(domain.EventClicked) {
			m.Clicked++
		}
	}
	m.OpenRate = round2(pct(m.Opened, m.Sent))
	m.ClickRate = round2(pct(m.Clicked, m.Opened))
	return m
}
