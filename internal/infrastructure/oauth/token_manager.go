package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailpilot-service/internal/domain/entity"
	"mailpilot-service/internal/domain/repository"
	"mailpilot-service/pkg/logger"
	"mailpilot-service/pkg/mailerr"
	"mailpilot-service/pkg/metrics"
	"mailpilot-service/pkg/retry"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// DefaultExpiryBuffer is how long before actual expiry a token is treated
// as expired, so a token never dies mid-request.
const DefaultExpiryBuffer = 5 * time.Minute

// Refresh rejections that mean the grant itself is dead. Retrying these
// burns quota and can get the client flagged; the user must re-authenticate.
var terminalOAuthCodes = map[string]bool{
	"invalid_grant":       true,
	"invalid_client":      true,
	"unauthorized_client": true,
	"access_denied":       true,
}

// TokenManager refreshes and persists per-account OAuth tokens.
type TokenManager struct {
	config       *oauth2.Config
	accountRepo  repository.AccountRepository
	logger       logger.Logger
	metrics      *metrics.Metrics
	expiryBuffer time.Duration
	policy       retry.Policy
	now          func() time.Time
}

// NewTokenManager creates a new token manager for the Gmail OAuth app
func NewTokenManager(clientID, clientSecret string, accountRepo repository.AccountRepository, m *metrics.Metrics, logger logger.Logger) *TokenManager {
	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailReadonlyScope, gmail.GmailSendScope},
	}

	policy := retry.NewPolicy(2*time.Second, isRefreshRetryable, nil)

	return &TokenManager{
		config:       config,
		accountRepo:  accountRepo,
		logger:       logger,
		metrics:      m,
		expiryBuffer: DefaultExpiryBuffer,
		policy:       policy,
		now:          time.Now,
	}
}

// IsTokenExpired reports whether a token expiring at expiry should be
// refreshed now, given the buffer.
func (m *TokenManager) IsTokenExpired(expiry time.Time) bool {
	if expiry.IsZero() {
		return true
	}
	return !m.now().Add(m.expiryBuffer).Before(expiry)
}

// GetValidToken returns an access token for the account, refreshing it
// first when the stored one is expired or near expiry. The refreshed
// token is persisted; a persistence failure is logged but the fresh token
// is still returned so the caller's operation can proceed.
func (m *TokenManager) GetValidToken(ctx context.Context, account *entity.Account) (string, error) {
	if account.AccessToken != "" && !m.IsTokenExpired(account.TokenExpiry) {
		return account.AccessToken, nil
	}

	if account.RefreshToken == "" {
		return "", &mailerr.AuthError{
			Terminal: true,
			Reason:   "no refresh token",
			Err:      fmt.Errorf("account %s has no refresh token", account.ID),
		}
	}

	token, err := m.refresh(ctx, account)
	if err != nil {
		return "", err
	}

	if err := m.accountRepo.UpdateTokens(ctx, account.ID, token.AccessToken, token.RefreshToken, token.Expiry); err != nil {
		m.logger.Error("Failed to persist refreshed token",
			"accountId", account.ID,
			"error", err)
	}

	account.AccessToken = token.AccessToken
	account.TokenExpiry = token.Expiry
	if token.RefreshToken != "" {
		account.RefreshToken = token.RefreshToken
	}

	return token.AccessToken, nil
}

func (m *TokenManager) refresh(ctx context.Context, account *entity.Account) (*oauth2.Token, error) {
	stale := &oauth2.Token{
		RefreshToken: account.RefreshToken,
		Expiry:       m.now().Add(-time.Hour), // Force refresh
	}

	var token *oauth2.Token
	err := m.policy.Do(ctx, func() error {
		var rerr error
		token, rerr = m.config.TokenSource(ctx, stale).Token()
		return rerr
	})
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && terminalOAuthCodes[retrieveErr.ErrorCode] {
			m.logger.Warn("Token refresh rejected, re-authentication required",
				"accountId", account.ID,
				"oauthError", retrieveErr.ErrorCode)
			return nil, &mailerr.AuthError{Terminal: true, Reason: retrieveErr.ErrorCode, Err: err}
		}
		return nil, &mailerr.AuthError{Terminal: false, Reason: "refresh failed", Err: err}
	}

	if m.metrics != nil {
		m.metrics.TokenRefreshes.Inc()
	}
	m.logger.Info("Access token refreshed",
		"accountId", account.ID,
		"expiry", token.Expiry)

	return token, nil
}

// Transient transport and server-side failures are retried; a definitive
// OAuth error response is not.
func isRefreshRetryable(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if terminalOAuthCodes[retrieveErr.ErrorCode] {
			return false
		}
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return true
		}
		return false
	}
	return true
}

// GenerateAuthURL generates a URL for the user to authorize the application
func (m *TokenManager) GenerateAuthURL() string {
	return m.config.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode exchanges an authorization code for a token
func (m *TokenManager) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := m.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return token, nil
}
