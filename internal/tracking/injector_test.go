package tracking

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engage-analytics/internal/domain"
	"github.com/ignite/engage-analytics/internal/store"
)

type failingTrackingStore struct {
	*store.Memory
}

func (s *failingTrackingStore) InsertTracking(ctx context.Context, tr *domain.TrackingRecord) error {
	return fmt.Errorf("disk full")
}

func TestPrepareRewritesEligibleLinks(t *testing.T) {
	st := store.NewMemory()
	inj := NewInjector(st, "https://track.example.com/", "secret")
	id := uuid.New()

	html := `<p><a href="https://shop.example.com/sale">Sale</a>` +
		`<a href="http://news.example.com">News</a>` +
		`<a href="mailto:help@example.com">Help</a>` +
		`<a href="tel:+15551234">Call</a>` +
		`<a href="#section">Jump</a>` +
		`<a href="">Empty</a></p>`

	processed, record := inj.Prepare(context.Background(), id, html, true, true)

	require.NotNil(t, record)
	assert.Len(t, record.ShortLinks, 2, "only absolute http(s) links rewrite")
	assert.Equal(t, "https://shop.example.com/sale", record.ShortLinks[0].OriginalURL)
	assert.Equal(t, "http://news.example.com", record.ShortLinks[1].OriginalURL)

	assert.NotContains(t, processed, `href="https://shop.example.com/sale"`)
	assert.Contains(t, processed, "mailto:help@example.com")
	assert.Contains(t, processed, "tel:+15551234")
	assert.Contains(t, processed, `href="#section"`)

	// Beacon goes at the end of the body.
	assert.Contains(t, processed, inj.PixelURL(id))
	assert.True(t, strings.Contains(processed, `width="1" height="1"`))

	assert.True(t, record.OpenTrackingEnabled)
	assert.True(t, record.ClickTrackingEnabled)
	assert.Equal(t, "https://track.example.com", record.TrackingDomain)
	assert.Equal(t, record.CreatedAt.Add(trackingExpiry), record.ExpiresAt)
}

func TestClickURLRoundTrip(t *testing.T) {
	inj := NewInjector(store.NewMemory(), "https://track.example.com", "secret")
	id := uuid.New()
	original := "https://shop.example.com/item?ref=email&x=1"

	click := inj.ClickURL(id, original)

	parsed, err := url.Parse(click)
	require.NoError(t, err)
	assert.Equal(t, "/track/click/"+id.String(), parsed.Path)
	assert.Equal(t, original, parsed.Query().Get("url"))
	assert.True(t, inj.Verify(id.String()+"|"+original, parsed.Query().Get("sig")))
	assert.False(t, inj.Verify(id.String()+"|https://evil.example.com", parsed.Query().Get("sig")))
}

func TestPixelURLFormat(t *testing.T) {
	inj := NewInjector(store.NewMemory(), "https://track.example.com", "secret")
	id := uuid.New()
	assert.Equal(t, fmt.Sprintf("https://track.example.com/track/open/%s.png", id), inj.PixelURL(id))
}

func TestPrepareWithTrackingDisabled(t *testing.T) {
	st := store.NewMemory()
	inj := NewInjector(st, "https://track.example.com", "secret")
	id := uuid.New()
	html := `<a href="https://shop.example.com">Shop</a>`

	processed, record := inj.Prepare(context.Background(), id, html, false, false)

	assert.Equal(t, html, processed)
	assert.Empty(t, record.ShortLinks)
	assert.Empty(t, record.TrackingPixelURL)
	assert.False(t, record.OpenTrackingEnabled)
	assert.False(t, record.ClickTrackingEnabled)
}

func TestPrepareStoreFailureSendsUntracked(t *testing.T) {
	st := &failingTrackingStore{Memory: store.NewMemory()}
	inj := NewInjector(st, "https://track.example.com", "secret")
	id := uuid.New()
	html := `<a href="https://shop.example.com">Shop</a>`

	processed, record := inj.Prepare(context.Background(), id, html, true, true)

	assert.Equal(t, html, processed, "original HTML comes back untouched")
	require.NotNil(t, record)
	assert.False(t, record.OpenTrackingEnabled)
	assert.False(t, record.ClickTrackingEnabled)
	assert.Empty(t, record.ShortLinks)
}

func TestDetectDevice(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)", "mobile"},
		{"android phone", "Mozilla/5.0 (Linux; Android 14; Pixel 8) Mobile", "mobile"},
		{"ipad", "Mozilla/5.0 (iPad; CPU OS 17_0)", "tablet"},
		{"android tablet", "Mozilla/5.0 (Linux; Android 14; Tablet)", "tablet"},
		{"desktop chrome", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)", "desktop"},
		{"empty", "", "desktop"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectDevice(tt.ua))
		})
	}
}
