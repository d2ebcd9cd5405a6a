package tracking

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/engage-analytics/internal/domain"
	"github.com/ignite/engage-analytics/internal/store"
)

// trackingExpiry is how long a tracking record stays valid after creation.
const trackingExpiry = 30 * 24 * time.Hour

// Injector rewrites outgoing HTML bodies to carry an open-tracking beacon and
// click-tracking redirector links, and persists one TrackingRecord per message.
type Injector struct {
	store      store.Store
	baseURL    string
	signingKey []byte
	now        func() time.Time
}

// NewInjector creates an injector that emits URLs under baseURL and signs
// redirector links with signingKey.
func NewInjector(st store.Store, baseURL, signingKey string) *Injector {
	return &Injector{
		store:      st,
		baseURL:    strings.TrimRight(baseURL, "/"),
		signingKey: []byte(signingKey),
		now:        time.Now,
	}
}

// SetClock overrides the injector's clock. Tests only.
func (in *Injector) SetClock(now func() time.Time) { in.now = now }

// PixelURL returns the open-tracking beacon URL for a message.
func (in *Injector) PixelURL(messageID uuid.UUID) string {
	return fmt.Sprintf("%s/track/open/%s.png", in.baseURL, messageID)
}

// ClickURL returns the signed click redirector for a message and target URL.
// The original URL rides in the `url` query parameter.
func (in *Injector) ClickURL(messageID uuid.UUID, originalURL string) string {
	sig := in.Sign(messageID.String() + "|" + originalURL)
	return fmt.Sprintf("%s/track/click/%s?url=%s&sig=%s",
		in.baseURL, messageID, url.QueryEscape(originalURL), sig)
}

// Sign creates a truncated HMAC over data.
func (in *Injector) Sign(data string) string {
	h := hmac.New(sha256.New, in.signingKey)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Verify checks a signature produced by Sign.
func (in *Injector) Verify(data, signature string) bool {
	return hmac.Equal([]byte(in.Sign(data)), []byte(signature))
}

// Prepare instruments htmlBody for the given message and persists a tracking
// record with a 30-day expiry. It never fails: on any error the original HTML
// comes back untouched with a disabled, empty record, so tracking problems can
// never block a send.
func (in *Injector) Prepare(ctx context.Context, messageID uuid.UUID, htmlBody string, openTracking, clickTracking bool) (string, *domain.TrackingRecord) {
	now := in.now()
	processed := htmlBody
	var shortLinks []domain.ShortLink

	if clickTracking {
		processed, shortLinks = in.rewriteLinks(processed, messageID)
	}

	pixelURL := ""
	if openTracking {
		pixelURL = in.PixelURL(messageID)
		processed += fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none;" alt="">`, pixelURL)
	}

	record := &domain.TrackingRecord{
		MessageID:            messageID,
		TrackingPixelURL:     pixelURL,
		OpenTrackingEnabled:  openTracking,
		ClickTrackingEnabled: clickTracking,
		TrackingDomain:       in.baseURL,
		ShortLinks:           shortLinks,
		CreatedAt:            now,
		ExpiresAt:            now.Add(trackingExpiry),
	}
	if record.ShortLinks == nil {
		record.ShortLinks = []domain.ShortLink{}
	}

	if err := in.store.InsertTracking(ctx, record); err != nil {
		log.Printf("[Injector] tracking insert failed for %s, sending untracked: %v", messageID, err)
		return htmlBody, disabledRecord(messageID, now)
	}

	return processed, record
}

// rewriteLinks replaces every eligible href target with a redirector URL.
// mailto:, tel: and same-document fragment links pass through untouched, as
// does anything that is not an absolute http(s) URL.
func (in *Injector) rewriteLinks(html string, messageID uuid.UUID) (string, []domain.ShortLink) {
	var b strings.Builder
	var links []domain.ShortLink

	rest := html
	for {
		idx := strings.Index(rest, `href="`)
		if idx == -1 {
			b.WriteString(rest)
			break
		}
		start := idx + len(`href="`)
		end := strings.Index(rest[start:], `"`)
		if end == -1 {
			b.WriteString(rest)
			break
		}

		original := rest[start : start+end]
		b.WriteString(rest[:start])

		if eligibleLink(original) {
			short := in.ClickURL(messageID, original)
			b.WriteString(short)
			links = append(links, domain.ShortLink{
				OriginalURL: original,
				ShortURL:    short,
				ClickCount:  0,
			})
		} else {
			b.WriteString(original)
		}

		rest = rest[start+end:]
	}

	return b.String(), links
}

func eligibleLink(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return false
	}
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func disabledRecord(messageID uuid.UUID, now time.Time) *domain.TrackingRecord {
	return &domain.TrackingRecord{
		MessageID:  messageID,
		ShortLinks: []domain.ShortLink{},
		CreatedAt:  now,
		ExpiresAt:  now,
	}
}

// DetectDevice classifies a user agent into desktop, mobile or tablet.
func DetectDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return "tablet"
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return "mobile"
	}
	return "desktop"
}
