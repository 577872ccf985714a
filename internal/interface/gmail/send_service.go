package gmail

import (
	"context"
	"fmt"
	"time"

	"mailpilot-service/internal/usecase"
	"mailpilot-service/pkg/logger"
	"mailpilot-service/pkg/mailerr"
	"mailpilot-service/pkg/mimemsg"
	"mailpilot-service/pkg/retry"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// SendService delivers messages through Gmail for one account.
type SendService struct {
	service         *gmail.Service
	logger          logger.Logger
	policy          retry.Policy
	breaker         *gobreaker.CircuitBreaker
	fromAddress     string
	fromName        string
	trackingBaseURL string
}

// NewSendService creates a send service bound to one account's token. The
// sender address is resolved once from the provider profile. Extra client
// options are for tests pointing at a fake endpoint.
func NewSendService(ctx context.Context, accessToken, fromName, trackingBaseURL string, logger logger.Logger, opts ...option.ClientOption) (*SendService, error) {
	token := &oauth2.Token{AccessToken: accessToken}
	clientOpts := append([]option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(token)),
	}, opts...)

	service, err := gmail.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	profile, err := service.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get sender profile: %w", mailerr.FromProvider(err))
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-send",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})

	policy := retry.NewPolicy(time.Minute, mailerr.IsRetryable, mailerr.RetryAfter)
	policy.Backoff = retry.TieredBackoff(time.Minute, 5*time.Minute, 15*time.Minute)

	return &SendService{
		service:         service,
		logger:          logger,
		policy:          policy,
		breaker:         breaker,
		fromAddress:     profile.EmailAddress,
		fromName:        fromName,
		trackingBaseURL: trackingBaseURL,
	}, nil
}

// FromAddress returns the resolved sender address
func (s *SendService) FromAddress() string {
	return s.fromAddress
}

// SendEmail builds the MIME message and submits it through the raw-send
// endpoint. ThreadID and the reply headers are preserved so follow-ups
// land in the original conversation.
func (s *SendService) SendEmail(ctx context.Context, opts usecase.SendOptions) (*usecase.SendResult, error) {
	msg := &mimemsg.Message{
		From:       s.fromAddress,
		FromName:   s.fromName,
		To:         opts.To,
		ToName:     opts.ToName,
		Subject:    opts.Subject,
		HTMLBody:   opts.HTMLBody,
		TextBody:   opts.TextBody,
		InReplyTo:  opts.InReplyTo,
		References: opts.References,
	}
	if opts.TrackingEnabled && opts.TrackingID != "" {
		msg.TrackingID = opts.TrackingID
		msg.TrackingBaseURL = s.trackingBaseURL
	}

	raw, err := msg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}

	gmsg := &gmail.Message{
		Raw: mimemsg.EncodeRaw(raw),
	}
	if opts.ThreadID != "" {
		gmsg.ThreadId = opts.ThreadID
	}

	var sent *gmail.Message
	err = s.policy.Do(ctx, func() error {
		result, berr := s.breaker.Execute(func() (interface{}, error) {
			m, serr := s.service.Users.Messages.Send("me", gmsg).Context(ctx).Do()
			if serr != nil {
				return nil, mailerr.FromProvider(serr)
			}
			return m, nil
		})
		if berr != nil {
			return berr
		}
		sent = result.(*gmail.Message)
		return nil
	})
	if err != nil {
		s.logger.Error("Send failed",
			"to", opts.To,
			"code", string(mailerr.SendCodeFor(err)),
			"error", err)
		return nil, err
	}

	s.logger.Info("Email sent",
		"to", opts.To,
		"providerMessageId", sent.Id,
		"threadId", sent.ThreadId)

	return &usecase.SendResult{
		ProviderMessageID: sent.Id,
		ProviderThreadID:  sent.ThreadId,
		SentAt:            time.Now(),
	}, nil
}
