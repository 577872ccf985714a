package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mailpilot-service/internal/domain/entity"
	"mailpilot-service/internal/usecase"
	"mailpilot-service/pkg/logger"
	"mailpilot-service/pkg/mailerr"
	"mailpilot-service/pkg/retry"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	batchSize       = 50
	batchConcurrent = 10
	batchPause      = 250 * time.Millisecond
)

// FetchService reads messages from Gmail for one account.
type FetchService struct {
	service *gmail.Service
	logger  logger.Logger
	policy  retry.Policy
}

// NewFetchService creates a fetch service bound to one account's token.
// Extra client options are for tests pointing at a fake endpoint.
func NewFetchService(ctx context.Context, accessToken string, logger logger.Logger, opts ...option.ClientOption) (*FetchService, error) {
	token := &oauth2.Token{AccessToken: accessToken}
	clientOpts := append([]option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(token)),
	}, opts...)

	service, err := gmail.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	return &FetchService{
		service: service,
		logger:  logger,
		policy:  retry.NewPolicy(time.Second, mailerr.IsRetryable, mailerr.RetryAfter),
	}, nil
}

// ListMessages returns one page of message ids matching the sync config
func (s *FetchService) ListMessages(ctx context.Context, cfg entity.SyncConfig) (*usecase.ListResult, error) {
	var resp *gmail.ListMessagesResponse

	err := s.policy.Do(ctx, func() error {
		call := s.service.Users.Messages.List("me").Context(ctx)
		if cfg.Query != "" {
			call = call.Q(cfg.Query)
		}
		if cfg.MaxResults > 0 {
			call = call.MaxResults(cfg.MaxResults)
		}
		if len(cfg.LabelIDs) > 0 {
			call = call.LabelIds(cfg.LabelIDs...)
		}
		if cfg.PageToken != "" {
			call = call.PageToken(cfg.PageToken)
		}

		var cerr error
		resp, cerr = call.Do()
		return mailerr.FromProvider(cerr)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	result := &usecase.ListResult{
		NextPageToken: resp.NextPageToken,
	}
	for _, msg := range resp.Messages {
		result.MessageIDs = append(result.MessageIDs, msg.Id)
	}
	return result, nil
}

// GetMessage fetches and converts one full message
func (s *FetchService) GetMessage(ctx context.Context, messageID string, bodySizeLimit int) (*entity.ParsedEmail, error) {
	msg, err := s.getRawMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return convertToParsedEmail(msg, bodySizeLimit), nil
}

func (s *FetchService) getRawMessage(ctx context.Context, messageID string) (*gmail.Message, error) {
	var msg *gmail.Message

	err := s.policy.Do(ctx, func() error {
		var cerr error
		msg, cerr = s.service.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
		return mailerr.FromProvider(cerr)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", messageID, err)
	}
	return msg, nil
}

// GetMessages fetches many messages in parallel batches. One message
// failing lands in the result's error map without discarding the rest.
func (s *FetchService) GetMessages(ctx context.Context, messageIDs []string, bodySizeLimit int) (*usecase.BatchResult, error) {
	result := &usecase.BatchResult{
		Errors: make(map[string]error),
	}

	for start := 0; start < len(messageIDs); start += batchSize {
		end := start + batchSize
		if end > len(messageIDs) {
			end = len(messageIDs)
		}
		batch := messageIDs[start:end]

		type item struct {
			id  string
			msg *gmail.Message
			err error
		}

		results := make(chan item, len(batch))
		sem := make(chan struct{}, batchConcurrent)
		var wg sync.WaitGroup

		for _, id := range batch {
			wg.Add(1)
			go func(messageID string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				msg, err := s.getRawMessage(ctx, messageID)
				results <- item{id: messageID, msg: msg, err: err}
			}(id)
		}

		wg.Wait()
		close(results)

		for it := range results {
			if it.err != nil {
				s.logger.Warn("Failed to fetch message",
					"messageId", it.id,
					"error", it.err)
				result.Errors[it.id] = it.err
				continue
			}
			if it.msg.HistoryId > result.LatestHistoryID {
				result.LatestHistoryID = it.msg.HistoryId
			}
			result.Emails = append(result.Emails, convertToParsedEmail(it.msg, bodySizeLimit))
		}

		// Brief pause between batches to stay under per-user rate limits
		if end < len(messageIDs) {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(batchPause):
			}
		}
	}

	return result, nil
}

// GetHistory walks the incremental history log from the stored cursor. A
// 404 means the cursor is too old and Gmail has forgotten it; the caller
// must fall back to a bounded full listing.
func (s *FetchService) GetHistory(ctx context.Context, startHistoryID uint64) (*usecase.HistoryResult, error) {
	result := &usecase.HistoryResult{}
	pageToken := ""
	seen := make(map[string]bool)

	for {
		var resp *gmail.ListHistoryResponse

		err := s.policy.Do(ctx, func() error {
			call := s.service.Users.History.List("me").
				StartHistoryId(startHistoryID).
				HistoryTypes("messageAdded").
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}

			var cerr error
			resp, cerr = call.Do()
			return mailerr.FromProvider(cerr)
		})
		if err != nil {
			if isHistoryExpired(err) {
				s.logger.Info("History cursor expired, full sync required",
					"startHistoryId", startHistoryID)
				return &usecase.HistoryResult{FullSyncRequired: true}, nil
			}
			return nil, fmt.Errorf("failed to list history: %w", err)
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil || seen[added.Message.Id] {
					continue
				}
				seen[added.Message.Id] = true
				result.AddedIDs = append(result.AddedIDs, added.Message.Id)
			}
		}
		if resp.HistoryId > result.NewHistoryID {
			result.NewHistoryID = resp.HistoryId
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return result, nil
}

func isHistoryExpired(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 404
}

func convertToParsedEmail(msg *gmail.Message, bodySizeLimit int) *entity.ParsedEmail {
	email := &entity.ParsedEmail{
		MessageID:  msg.Id,
		ThreadID:   msg.ThreadId,
		Snippet:    msg.Snippet,
		Labels:     msg.LabelIds,
		ReceivedAt: time.UnixMilli(msg.InternalDate),
		SyncedAt:   time.Now(),
		IsRead:     true,
	}

	for _, label := range msg.LabelIds {
		switch label {
		case "UNREAD":
			email.IsRead = false
		case "STARRED":
			email.IsStarred = true
		}
	}

	if msg.Payload == nil {
		return email
	}

	for _, header := range msg.Payload.Headers {
		switch strings.ToLower(header.Name) {
		case "from":
			email.From = header.Value
		case "to":
			email.To = header.Value
		case "subject":
			email.Subject = header.Value
		case "in-reply-to":
			email.InReplyTo = header.Value
		case "references":
			email.References = header.Value
		}
	}

	text, html := extractBodies(msg.Payload)
	email.Body = truncate(text, bodySizeLimit)
	email.HTMLBody = truncate(html, bodySizeLimit)

	return email
}

// extractBodies walks the MIME tree collecting the first text/plain and
// text/html parts.
func extractBodies(part *gmail.MessagePart) (text, html string) {
	if part == nil {
		return "", ""
	}

	if part.Body != nil && part.Body.Data != "" {
		decoded := decodeBody(part.Body.Data)
		switch {
		case strings.HasPrefix(part.MimeType, "text/plain") && text == "":
			text = decoded
		case strings.HasPrefix(part.MimeType, "text/html") && html == "":
			html = decoded
		}
	}

	for _, child := range part.Parts {
		t, h := extractBodies(child)
		if text == "" {
			text = t
		}
		if html == "" {
			html = h
		}
	}

	return text, html
}

func decodeBody(data string) string {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Some providers pad, some don't
		decoded, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(decoded)
}

func truncate(s string, limit int) string {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
