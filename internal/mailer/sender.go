package mailer

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/google/uuid"

	appconfig "github.com/ignite/engage-analytics/internal/config"
	"github.com/ignite/engage-analytics/internal/domain"
	"github.com/ignite/engage-analytics/internal/recorder"
	"github.com/ignite/engage-analytics/internal/store"
	"github.com/ignite/engage-analytics/internal/tracking"
)

// EmailAPI is the slice of the SES v2 client the sender uses. Kept narrow so
// tests can substitute a fake.
type EmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// NewSESClient builds a real SES v2 client from static credentials.
func NewSESClient(ctx context.Context, cfg appconfig.SESConfig) (*sesv2.Client, error) {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return sesv2.NewFromConfig(awsCfg), nil
}

// SendRequest describes one outbound email.
type SendRequest struct {
	Recipient  string                 `json:"recipient"`
	Subject    string                 `json:"subject"`
	HTMLBody   string                 `json:"html_body"`
	CampaignID string                 `json:"campaign_id,omitempty"`
	ContactID  string                 `json:"contact_id,omitempty"`
	ABTestID   string                 `json:"ab_test_id,omitempty"`
	Variables  map[string]interface{} `json:"variables,omitempty"`

	// Tracking defaults to on for both channels.
	DisableOpenTracking  bool `json:"disable_open_tracking,omitempty"`
	DisableClickTracking bool `json:"disable_click_tracking,omitempty"`
}

// SendResult reports what the pipeline produced.
type SendResult struct {
	MessageID uuid.UUID `json:"message_id"`
	Variant   string    `json:"ab_test_variant,omitempty"`
}

// Sender runs the outbound pipeline: render, assign variant, persist the
// message, instrument tracking, submit to SES, record the sent event.
type Sender struct {
	api      EmailAPI
	store    store.Store
	injector *tracking.Injector
	recorder *recorder.Recorder
	engine   *TemplateEngine
	from     string
	fromName string
	now      func() time.Time
	pick     func(percent int) string
}

// NewSender wires the pipeline. from/fromName come from mailer config.
func NewSender(api EmailAPI, st store.Store, inj *tracking.Injector, rec *recorder.Recorder, from, fromName string) *Sender {
	return &Sender{
		api:      api,
		store:    st,
		injector: inj,
		recorder: rec,
		engine:   NewTemplateEngine(),
		from:     from,
		fromName: fromName,
		now:      time.Now,
		pick:     defaultVariantPick,
	}
}

// SetClock overrides the sender's clock. Tests only.
func (s *Sender) SetClock(now func() time.Time) { s.now = now }

// SetVariantPick overrides the A/B assignment draw. Tests only.
func (s *Sender) SetVariantPick(pick func(percent int) string) { s.pick = pick }

func defaultVariantPick(percent int) string {
	if rand.Intn(100) < percent {
		return "a"
	}
	return "b"
}

// Send runs the pipeline for one recipient. SES and storage failures surface
// as errors; tracking instrumentation failures degrade silently and the mail
// still goes out untracked.
func (s *Sender) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.Recipient == "" {
		return nil, fmt.Errorf("recipient is required")
	}

	subject, body := req.Subject, req.HTMLBody
	variant := ""

	if req.ABTestID != "" {
		test, err := s.store.FindABTest(ctx, req.ABTestID)
		if err != nil {
			return nil, fmt.Errorf("resolve ab test: %w", err)
		}
		variant = s.pick(test.TestPercentage)
		v := test.VariantA
		if variant == "b" {
			v = test.VariantB
		}
		if v.Subject != "" {
			subject = v.Subject
		}
		if v.Content != "" {
			body = v.Content
		}
	}

	subject, err := s.engine.Render(subject, req.Variables)
	if err != nil {
		return nil, err
	}
	body, err = s.engine.Render(body, req.Variables)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:         uuid.New(),
		Recipient:  req.Recipient,
		Subject:    subject,
		CampaignID: req.CampaignID,
		ContactID:  req.ContactID,
		ABTestID:   req.ABTestID,
		ABVariant:  variant,
		Status:     domain.EventSent,
		SentAt:     s.now(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	// Prepare never fails; worst case the original body comes back.
	tracked, _ := s.injector.Prepare(ctx, msg.ID, body,
		!req.DisableOpenTracking, !req.DisableClickTracking)

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.from)),
		Destination:      &types.Destination{ToAddresses: []string{req.Recipient}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(tracked)},
				},
			},
		},
	}
	if _, err := s.api.SendEmail(ctx, input); err != nil {
		return nil, fmt.Errorf("ses send: %w", err)
	}

	s.recorder.Record(ctx, msg.ID, domain.EventSent, nil)
	log.Printf("[Sender] sent %s to %s (campaign=%s variant=%s)", msg.ID, req.Recipient, req.CampaignID, variant)

	return &SendResult{MessageID: msg.ID, Variant: variant}, nil
}
