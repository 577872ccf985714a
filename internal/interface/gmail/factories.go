package gmail

import (
	"context"

	"mailpilot-service/internal/domain/entity"
	"mailpilot-service/internal/usecase"
	"mailpilot-service/pkg/logger"
)

// NewFetcherFactory returns a factory producing per-account fetch services.
func NewFetcherFactory(logger logger.Logger) usecase.FetcherFactory {
	return func(ctx context.Context, account *entity.Account, accessToken string) (usecase.MailFetcher, error) {
		return NewFetchService(ctx, accessToken, logger.With("accountId", account.ID))
	}
}

// NewSenderFactory returns a factory producing per-account send services.
// trackingBaseURL is where open-tracking pixels point.
func NewSenderFactory(trackingBaseURL string, logger logger.Logger) usecase.SenderFactory {
	return func(ctx context.Context, account *entity.Account, accessToken string) (usecase.MailSender, error) {
		return NewSendService(ctx, accessToken, "", trackingBaseURL, logger.With("accountId", account.ID))
	}
}
