package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the engagement events observed for an outbound message.
type EventType string

const (
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBounced      EventType = "bounced"
	EventComplained   EventType = "complained"
	EventUnsubscribed EventType = "unsubscribed"
)

// ValidEventType reports whether t is one of the closed set of event types.
func ValidEventType(t EventType) bool {
	switch t {
	case EventSent, EventDelivered, EventOpened, EventClicked,
		EventBounced, EventComplained, EventUnsubscribed:
		return true
	}
	return false
}

// Message is one attempted outbound email send. Status always reflects the
// latest-timestamped event for the message (ties broken by insertion order).
type Message struct {
	ID         uuid.UUID `json:"id"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject,omitempty"`
	CampaignID string    `json:"campaign_id,omitempty"`
	ContactID  string    `json:"contact_id,omitempty"`
	ABTestID   string    `json:"ab_test_id,omitempty"`
	ABVariant  string    `json:"ab_test_variant,omitempty"` // "a" or "b"
	Status     EventType `json:"status"`
	SentAt     time.Time `json:"sent_at"`

	// Stamped by the recorder as each event type is first/last observed.
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	OpenedAt       *time.Time `json:"opened_at,omitempty"`
	ClickedAt      *time.Time `json:"clicked_at,omitempty"`
	BouncedAt      *time.Time `json:"bounced_at,omitempty"`
	ComplainedAt   *time.Time `json:"complained_at,omitempty"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`

	Events []EmailEvent `json:"events,omitempty"`
}

// HasEvent reports whether any of the message's events has the given type.
func (m *Message) HasEvent(t EventType) bool {
	for _, e := range m.Events {
		if e.EventType == t {
			return true
		}
	}
	return false
}

// EmailEvent is an immutable, timestamped observation about a Message.
// Events are append-only; repeats of the same type are legal and all counted.
type EmailEvent struct {
	ID          uuid.UUID `json:"id"`
	MessageID   uuid.UUID `json:"message_id"`
	EventType   EventType `json:"event_type"`
	EventAt     time.Time `json:"event_at"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	DeviceType  string    `json:"device_type,omitempty"` // desktop, mobile, tablet
	Country     string    `json:"country,omitempty"`
	City        string    `json:"city,omitempty"`
	LinkURL     string    `json:"link_url,omitempty"`     // click events
	Reason      string    `json:"reason,omitempty"`       // bounce/complaint events
}

// EventMeta is the optional metadata a caller may attach when recording an event.
type EventMeta struct {
	IPAddress  string
	UserAgent  string
	DeviceType string
	Country    string
	City       string
	LinkURL    string
	Reason     string
}

// ShortLink is one rewritten hyperlink inside a tracked message. The click
// counter is an informational snapshot; the event log stays authoritative.
type ShortLink struct {
	OriginalURL string `json:"original_url"`
	ShortURL    string `json:"short_url"`
	ClickCount  int    `json:"click_count"`
}

// TrackingRecord describes how a message's content was instrumented.
type TrackingRecord struct {
	MessageID            uuid.UUID   `json:"message_id"`
	TrackingPixelURL     string      `json:"tracking_pixel_url"`
	OpenTrackingEnabled  bool        `json:"open_tracking_enabled"`
	ClickTrackingEnabled bool        `json:"click_tracking_enabled"`
	TrackingDomain       string      `json:"tracking_domain"`
	ShortLinks           []ShortLink `json:"short_links"`
	CreatedAt            time.Time   `json:"created_at"`
	ExpiresAt            time.Time   `json:"expires_at"`
}

// DeviceBreakdown is one bucket of the campaign device report. Percentage is
// relative to the campaign's sent count.
type DeviceBreakdown struct {
	Device     string `json:"device"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// GeoBreakdown is one country bucket of the campaign geography report.
type GeoBreakdown struct {
	Country string `json:"country"`
	Opens   int    `json:"opens"`
	Clicks  int    `json:"clicks"`
}

// TimeAnalytics holds hour-of-day (24 buckets) and day-of-week (7 buckets)
// histograms over all open and click events, not deduplicated by message.
type TimeAnalytics struct {
	HourlyOpens  [24]int `json:"hourly_opens"`
	DailyOpens   [7]int  `json:"daily_opens"`
	HourlyClicks [24]int `json:"hourly_clicks"`
	DailyClicks  [7]int  `json:"daily_clicks"`
}

// CampaignAnalytics is the derived, cached campaign report. All rates are
// percentages in [0,100]; a zero denominator yields 0.
type CampaignAnalytics struct {
	CampaignID       string            `json:"campaign_id"`
	CampaignName     string            `json:"campaign_name"`
	SentCount        int               `json:"sent_count"`
	DeliveredCount   int               `json:"delivered_count"`
	OpenedCount      int               `json:"opened_count"`
	ClickedCount     int               `json:"clicked_count"`
	BouncedCount     int               `json:"bounced_count"`
	ComplainedCount  int               `json:"complained_count"`
	UnsubscribedCount int              `json:"unsubscribed_count"`
	DeliveryRate     float64           `json:"delivery_rate"`
	OpenRate         float64           `json:"open_rate"`
	ClickRate        float64           `json:"click_rate"`
	BounceRate       float64           `json:"bounce_rate"`
	ComplaintRate    float64           `json:"complaint_rate"`
	UnsubscribeRate  float64           `json:"unsubscribe_rate"`
	EngagementScore  int               `json:"engagement_score"`
	TopDevices       []DeviceBreakdown `json:"top_devices"`
	GeographicalData []GeoBreakdown    `json:"geographical_data"`
	TimeAnalytics    TimeAnalytics     `json:"time_based_analytics"`
}

// EngagementTrend classifies a contact's recent open behavior.
type EngagementTrend string

const (
	TrendIncreasing EngagementTrend = "increasing"
	TrendStable     EngagementTrend = "stable"
	TrendDecreasing EngagementTrend = "decreasing"
)

// ContactEngagement is the derived, cached per-contact profile.
type ContactEngagement struct {
	ContactID        string          `json:"contact_id"`
	Email            string          `json:"email"`
	TotalSent        int             `json:"total_emails_sent"`
	TotalOpened      int             `json:"total_emails_opened"`
	TotalClicked     int             `json:"total_emails_clicked"`
	LastOpened       *time.Time      `json:"last_opened,omitempty"`
	LastClicked      *time.Time      `json:"last_clicked,omitempty"`
	EngagementScore  int             `json:"engagement_score"`
	EngagementTrend  EngagementTrend `json:"engagement_trend"`
	PreferredSendHour *int           `json:"preferred_send_hour,omitempty"`
	DevicePreference string          `json:"device_preference,omitempty"`
	ComplaintCount   int             `json:"complaint_history"`
	Unsubscribed     bool            `json:"unsubscribed"`
}

// SystemHealth classifies the current sending health.
type SystemHealth string

const (
	HealthHealthy  SystemHealth = "healthy"
	HealthDegraded SystemHealth = "degraded"
	HealthCritical SystemHealth = "critical"
)

// Alert is one threshold-triggered condition in the real-time snapshot.
type Alert struct {
	Type      string    `json:"type"` // warning, error, info
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RealTimeMetrics is a point-in-time system snapshot. Callers always receive a
// populated object; on store failure every counter is 0, health is critical and
// a single error alert describes the failure.
type RealTimeMetrics struct {
	Timestamp            time.Time    `json:"timestamp"`
	EmailsSentLastHour   int          `json:"emails_sent_last_hour"`
	EmailsSentLast24h    int          `json:"emails_sent_last_24h"`
	CurrentSendRate      float64      `json:"current_send_rate"` // per minute
	DeliveryRateLastHour float64      `json:"delivery_rate_last_hour"`
	OpenRateLastHour     float64      `json:"open_rate_last_hour"`
	ClickRateLastHour    float64      `json:"click_rate_last_hour"`
	BounceRateLastHour   float64      `json:"bounce_rate_last_hour"`
	ActiveCampaigns      int          `json:"active_campaigns"`
	SystemHealth         SystemHealth `json:"system_health"`
	Alerts               []Alert      `json:"alerts"`
}

// ABVariant is one arm of an A/B test.
type ABVariant struct {
	Name    string `json:"name"`
	Subject string `json:"subject,omitempty"`
	Content string `json:"content,omitempty"`
}

// ABTest pairs two content variants with a traffic split. Variant assignment
// per message is stored on the message; results are computed on demand.
type ABTest struct {
	ID             string    `json:"id"`
	Name           string    `json:"test_name"`
	VariantA       ABVariant `json:"variant_a"`
	VariantB       ABVariant `json:"variant_b"`
	TestPercentage int       `json:"test_percentage"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	Messages       []Message `json:"-"`
}

// ABVariantMetrics holds the per-variant counters and rates of a test result.
type ABVariantMetrics struct {
	Name      string  `json:"name"`
	Sent      int     `json:"sent"`
	Opened    int     `json:"opened"`
	Clicked   int     `json:"clicked"`
	OpenRate  float64 `json:"open_rate"`
	ClickRate float64 `json:"click_rate"`
}

// ABTestResult is the on-demand evaluation of a test. Significance is a coarse
// sample-size heuristic, not a statistical test.
type ABTestResult struct {
	TestID                  string           `json:"test_id"`
	TestName                string           `json:"test_name"`
	VariantA                ABVariantMetrics `json:"variant_a"`
	VariantB                ABVariantMetrics `json:"variant_b"`
	StatisticalSignificance int              `json:"statistical_significance"`
	ConfidenceLevel         int              `json:"confidence_level"`
	Winner                  string           `json:"winner"` // "a", "b", "inconclusive"
	TestDurationHours       int              `json:"test_duration_hours"`
	Recommendation          string           `json:"recommendation"`
}

// SubjectPerformance is one row of the subject-line report.
type SubjectPerformance struct {
	Subject   string  `json:"subject"`
	SentCount int     `json:"sent_count"`
	OpenRate  float64 `json:"open_rate"`
	ClickRate float64 `json:"click_rate"`
}

// SendTimeOptimization summarizes when recipients actually open.
type SendTimeOptimization struct {
	BestHour int    `json:"best_hour"`
	BestDay  string `json:"best_day"`
}

// EmailIntelligence is the system-wide derived recommendation aggregate.
type EmailIntelligence struct {
	SubjectLinePerformance []SubjectPerformance `json:"subject_line_performance"`
	SendTimeOptimization   SendTimeOptimization `json:"send_time_optimization"`
	Recommendations        []string             `json:"recommendations"`
}
