package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mailpilot-service/internal/domain/entity"
)

// In-memory collaborators for exercising the usecases without a database
// or a provider.

type fakeAccounts struct {
	mu               sync.Mutex
	accounts         map[string]*entity.Account
	due              []*entity.Account
	backfillComplete []string
	syncStates       map[string]uint64
}

func newFakeAccounts(accounts ...*entity.Account) *fakeAccounts {
	f := &fakeAccounts{
		accounts:   make(map[string]*entity.Account),
		syncStates: make(map[string]uint64),
	}
	for _, a := range accounts {
		f.accounts[a.ID] = a
	}
	return f
}

func (f *fakeAccounts) FindByID(ctx context.Context, id string) (*entity.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account not found: %s", id)
	}
	return a, nil
}

func (f *fakeAccounts) FindDueForSync(ctx context.Context, olderThan time.Time, limit int) ([]*entity.Account, error) {
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeAccounts) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	return nil
}

func (f *fakeAccounts) UpdateSyncState(ctx context.Context, id string, lastSyncAt time.Time, historyID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncStates[id] = historyID
	if a, ok := f.accounts[id]; ok {
		a.LastSyncAt = lastSyncAt
		if historyID > 0 {
			a.LastHistoryID = historyID
		}
	}
	return nil
}

func (f *fakeAccounts) MarkBackfillComplete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backfillComplete = append(f.backfillComplete, id)
	if a, ok := f.accounts[id]; ok {
		a.NeedsBackfill = false
	}
	return nil
}

type fakeEmails struct {
	mu      sync.Mutex
	stored  map[string]*entity.ParsedEmail
	saveErr error
}

func newFakeEmails() *fakeEmails {
	return &fakeEmails{stored: make(map[string]*entity.ParsedEmail)}
}

func (f *fakeEmails) SaveBatch(ctx context.Context, emails []*entity.ParsedEmail) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	created := 0
	for _, e := range emails {
		if _, ok := f.stored[e.MessageID]; ok {
			continue
		}
		f.stored[e.MessageID] = e
		created++
	}
	return created, nil
}

func (f *fakeEmails) FindByMessageIDs(ctx context.Context, messageIDs []string) (map[string]*entity.ParsedEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	found := make(map[string]*entity.ParsedEmail)
	for _, id := range messageIDs {
		if e, ok := f.stored[id]; ok {
			found[id] = e
		}
	}
	return found, nil
}

func (f *fakeEmails) GetLastReceived(ctx context.Context) (*entity.ParsedEmail, error) {
	return nil, nil
}

type fakeRuns struct {
	saved []*entity.SyncRun
}

func (f *fakeRuns) Save(ctx context.Context, run *entity.SyncRun) error {
	f.saved = append(f.saved, run)
	return nil
}

func (f *fakeRuns) FindRecent(ctx context.Context, limit int) ([]*entity.SyncRun, error) {
	return f.saved, nil
}

type fakeTokens struct {
	token string
	err   error
	calls int
}

func (f *fakeTokens) GetValidToken(ctx context.Context, account *entity.Account) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.token == "" {
		return "token", nil
	}
	return f.token, nil
}

// fakeFetcher serves scripted list pages and history results.
type fakeFetcher struct {
	pages       []*ListResult
	pageQueries []string
	history     *HistoryResult
	historyErr  error
	listErr     error
	listCalls   int
}

func (f *fakeFetcher) ListMessages(ctx context.Context, cfg entity.SyncConfig) (*ListResult, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.pageQueries = append(f.pageQueries, cfg.Query)
	if f.listCalls >= len(f.pages) {
		return &ListResult{}, nil
	}
	page := f.pages[f.listCalls]
	f.listCalls++
	return page, nil
}

func (f *fakeFetcher) GetMessage(ctx context.Context, messageID string, bodySizeLimit int) (*entity.ParsedEmail, error) {
	return &entity.ParsedEmail{MessageID: messageID}, nil
}

func (f *fakeFetcher) GetMessages(ctx context.Context, messageIDs []string, bodySizeLimit int) (*BatchResult, error) {
	result := &BatchResult{Errors: make(map[string]error)}
	for _, id := range messageIDs {
		result.Emails = append(result.Emails, &entity.ParsedEmail{MessageID: id, ReceivedAt: time.Now()})
	}
	result.LatestHistoryID = 1000
	return result, nil
}

func (f *fakeFetcher) GetHistory(ctx context.Context, startHistoryID uint64) (*HistoryResult, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	if f.history == nil {
		return &HistoryResult{}, nil
	}
	return f.history, nil
}

func listPage(prefix string, n int, next string) *ListResult {
	page := &ListResult{NextPageToken: next}
	for i := 0; i < n; i++ {
		page.MessageIDs = append(page.MessageIDs, fmt.Sprintf("%s-%d", prefix, i))
	}
	return page
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []SendOptions
	err    error
	nextID int
}

func (f *fakeSender) SendEmail(ctx context.Context, opts SendOptions) (*SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.nextID++
	f.sent = append(f.sent, opts)
	return &SendResult{
		ProviderMessageID: fmt.Sprintf("pm-%d", f.nextID),
		ProviderThreadID:  fmt.Sprintf("pt-%d", f.nextID),
		SentAt:            time.Now(),
	}, nil
}

type fakeQuota struct {
	mu        sync.Mutex
	remaining int
	consumed  int
}

func (f *fakeQuota) TryConsume(ctx context.Context, userID string, day time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining <= 0 {
		return false, nil
	}
	f.remaining--
	f.consumed++
	return true, nil
}

func (f *fakeQuota) Remaining(ctx context.Context, userID string, day time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remaining, nil
}

type recipientUpdate struct {
	id      string
	errMsg  string
	requeue bool
}

type fakeCampaigns struct {
	mu              sync.Mutex
	campaigns       map[string]*entity.Campaign
	active          []*entity.Campaign
	pending         map[string][]*entity.CampaignRecipient
	statuses        map[string]string
	sentCounts      map[string]int
	failedCounts    map[string]int
	recipientSent   []recipientUpdate
	recipientFailed []recipientUpdate
	lastSent        map[string]time.Time
}

func newFakeCampaigns(campaigns ...*entity.Campaign) *fakeCampaigns {
	f := &fakeCampaigns{
		campaigns:    make(map[string]*entity.Campaign),
		pending:      make(map[string][]*entity.CampaignRecipient),
		statuses:     make(map[string]string),
		sentCounts:   make(map[string]int),
		failedCounts: make(map[string]int),
		lastSent:     make(map[string]time.Time),
	}
	for _, c := range campaigns {
		f.campaigns[c.ID] = c
		if c.Status == entity.CampaignActive {
			f.active = append(f.active, c)
		}
	}
	return f
}

func (f *fakeCampaigns) FindByID(ctx context.Context, id string) (*entity.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, errors.New("campaign not found")
	}
	return c, nil
}

func (f *fakeCampaigns) FindActive(ctx context.Context, limit int) ([]*entity.Campaign, error) {
	return f.active, nil
}

func (f *fakeCampaigns) UpdateStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakeCampaigns) TouchLastSent(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSent[id] = at
	return nil
}

func (f *fakeCampaigns) IncrementSent(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentCounts[id]++
	return nil
}

func (f *fakeCampaigns) IncrementFailed(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedCounts[id]++
	return nil
}

func (f *fakeCampaigns) PendingRecipients(ctx context.Context, campaignID string, limit int) ([]*entity.CampaignRecipient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pending := f.pending[campaignID]
	if len(pending) > limit {
		return pending[:limit], nil
	}
	return pending, nil
}

func (f *fakeCampaigns) CountPending(ctx context.Context, campaignID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.pending[campaignID])), nil
}

func (f *fakeCampaigns) MarkRecipientSent(ctx context.Context, recipientID, outboundEmailID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recipientSent = append(f.recipientSent, recipientUpdate{id: recipientID})
	f.removePending(recipientID)
	return nil
}

func (f *fakeCampaigns) MarkRecipientFailed(ctx context.Context, recipientID, errMsg string, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recipientFailed = append(f.recipientFailed, recipientUpdate{id: recipientID, errMsg: errMsg, requeue: requeue})
	if !requeue {
		f.removePending(recipientID)
	}
	return nil
}

func (f *fakeCampaigns) removePending(recipientID string) {
	for cid, list := range f.pending {
		for i, r := range list {
			if r.ID == recipientID {
				f.pending[cid] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

type outboundUpdate struct {
	id      string
	status  string
	errMsg  string
	requeue bool
}

type fakeOutbound struct {
	mu           sync.Mutex
	byID         map[string]*entity.OutboundEmail
	created      []*entity.OutboundEmail
	scheduledDue []*entity.OutboundEmail
	candidates   []*entity.OutboundEmail
	markedSent   []string
	updates      []outboundUpdate
	followUpSent map[string]bool
}

func newFakeOutbound() *fakeOutbound {
	return &fakeOutbound{
		byID:         make(map[string]*entity.OutboundEmail),
		followUpSent: make(map[string]bool),
	}
}

func (f *fakeOutbound) Create(ctx context.Context, email *entity.OutboundEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, email)
	f.byID[email.ID] = email
	return nil
}

func (f *fakeOutbound) FindByID(ctx context.Context, id string) (*entity.OutboundEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[id]
	if !ok {
		return nil, errors.New("outbound email not found")
	}
	return e, nil
}

func (f *fakeOutbound) UpdateStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, outboundUpdate{id: id, status: status})
	return nil
}

func (f *fakeOutbound) MarkSent(ctx context.Context, id, providerMessageID, providerThreadID string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedSent = append(f.markedSent, id)
	return nil
}

func (f *fakeOutbound) MarkFailed(ctx context.Context, id, errMsg string, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, outboundUpdate{id: id, status: entity.OutboundFailed, errMsg: errMsg, requeue: requeue})
	return nil
}

func (f *fakeOutbound) FindScheduledDue(ctx context.Context, now time.Time, limit int) ([]*entity.OutboundEmail, error) {
	return f.scheduledDue, nil
}

func (f *fakeOutbound) FindFollowUpCandidates(ctx context.Context, limit int) ([]*entity.OutboundEmail, error) {
	return f.candidates, nil
}

func (f *fakeOutbound) MarkFollowUpSent(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.followUpSent[id] {
		return errors.New("follow-up already recorded")
	}
	f.followUpSent[id] = true
	return nil
}

func staticFetcherFactory(fetcher MailFetcher, err error) FetcherFactory {
	return func(ctx context.Context, account *entity.Account, accessToken string) (MailFetcher, error) {
		return fetcher, err
	}
}

func staticSenderFactory(sender MailSender, err error) SenderFactory {
	return func(ctx context.Context, account *entity.Account, accessToken string) (MailSender, error) {
		return sender, err
	}
}
