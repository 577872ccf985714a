package usecase

import (
	"context"
	"fmt"
	"time"

	"mailpilot-service/internal/domain/entity"
	"mailpilot-service/internal/domain/repository"
	"mailpilot-service/pkg/logger"
	"mailpilot-service/pkg/mailerr"
	"mailpilot-service/pkg/metrics"

	"github.com/google/uuid"
)

// SyncSettings tunes the orchestrator. Zero values are replaced with the
// defaults below.
type SyncSettings struct {
	Interval          time.Duration
	MaxAccounts       int
	BackfillDays      int
	BackfillPageSize  int64
	BackfillMaxPages  int
	IncrementalWindow int64
	BodySizeLimit     int
}

func (s SyncSettings) withDefaults() SyncSettings {
	if s.Interval <= 0 {
		s.Interval = 5 * time.Minute
	}
	if s.MaxAccounts <= 0 {
		s.MaxAccounts = 10
	}
	if s.BackfillDays <= 0 {
		s.BackfillDays = 20
	}
	if s.BackfillPageSize <= 0 {
		s.BackfillPageSize = 500
	}
	if s.BackfillMaxPages <= 0 {
		s.BackfillMaxPages = 2
	}
	if s.IncrementalWindow <= 0 {
		s.IncrementalWindow = 50
	}
	return s
}

// RunOptions selects what one orchestrator invocation covers.
type RunOptions struct {
	// Trigger records why the run started (scheduled or manual).
	Trigger string
	// AccountIDs limits the run to named accounts. Empty means every
	// account whose last sync is older than the interval.
	AccountIDs []string
	// Force syncs named accounts even when they are not yet due.
	Force bool
}

// SyncOrchestrator walks due accounts, fetches new mail through the
// provider boundary and persists what was not already stored. One
// account failing never aborts the run; its error is recorded in the
// run's per-account results.
type SyncOrchestrator struct {
	accountRepo repository.AccountRepository
	emailRepo   repository.ParsedEmailRepository
	runRepo     repository.SyncRunRepository
	tokens      TokenProvider
	newFetcher  FetcherFactory
	settings    SyncSettings
	metrics     *metrics.Metrics
	logger      logger.Logger
	now         func() time.Time
}

// NewSyncOrchestrator creates a new sync orchestrator
func NewSyncOrchestrator(
	accountRepo repository.AccountRepository,
	emailRepo repository.ParsedEmailRepository,
	runRepo repository.SyncRunRepository,
	tokens TokenProvider,
	newFetcher FetcherFactory,
	settings SyncSettings,
	m *metrics.Metrics,
	logger logger.Logger,
) *SyncOrchestrator {
	return &SyncOrchestrator{
		accountRepo: accountRepo,
		emailRepo:   emailRepo,
		runRepo:     runRepo,
		tokens:      tokens,
		newFetcher:  newFetcher,
		settings:    settings.withDefaults(),
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// Run executes one sync pass and returns its audit record. The record is
// saved even when some accounts fail; Run returns an error only when the
// run could not start at all.
func (o *SyncOrchestrator) Run(ctx context.Context, opts RunOptions) (*entity.SyncRun, error) {
	start := o.now()
	if opts.Trigger == "" {
		opts.Trigger = entity.TriggerScheduled
	}

	accounts, err := o.selectAccounts(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to select accounts: %w", err)
	}

	run := &entity.SyncRun{
		ID:        uuid.New().String(),
		Trigger:   opts.Trigger,
		StartedAt: start,
	}

	for _, account := range accounts {
		result := o.syncAccount(ctx, account)
		run.Results = append(run.Results, result)
		run.AccountsProcessed++
		run.EmailsFetched += result.Fetched
		run.EmailsCreated += result.Created
		run.EmailsAnalyzed += result.Analyzed
		if result.Success {
			run.AccountsSucceeded++
		} else {
			run.AccountsFailed++
		}
	}

	run.CompletedAt = o.now()
	run.DurationMs = run.CompletedAt.Sub(start).Milliseconds()
	run.Status = rollupStatus(run)

	if o.metrics != nil {
		o.metrics.SyncRuns.WithLabelValues(run.Status).Inc()
		o.metrics.SyncDuration.Observe(run.CompletedAt.Sub(start).Seconds())
		o.metrics.EmailsFetched.Add(float64(run.EmailsFetched))
	}

	if err := o.runRepo.Save(ctx, run); err != nil {
		o.logger.Error("Failed to save sync run", "runId", run.ID, "error", err)
	}

	o.logger.Info("Sync run finished",
		"runId", run.ID,
		"status", run.Status,
		"accounts", run.AccountsProcessed,
		"fetched", run.EmailsFetched,
		"created", run.EmailsCreated,
		"durationMs", run.DurationMs)

	return run, nil
}

func (o *SyncOrchestrator) selectAccounts(ctx context.Context, opts RunOptions) ([]*entity.Account, error) {
	if len(opts.AccountIDs) == 0 {
		cutoff := o.now().Add(-o.settings.Interval)
		return o.accountRepo.FindDueForSync(ctx, cutoff, o.settings.MaxAccounts)
	}

	var accounts []*entity.Account
	cutoff := o.now().Add(-o.settings.Interval)
	for _, id := range opts.AccountIDs {
		account, err := o.accountRepo.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", id, err)
		}
		if !opts.Force && account.LastSyncAt.After(cutoff) {
			o.logger.Debug("Account not due for sync, skipping", "accountId", id)
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (o *SyncOrchestrator) syncAccount(ctx context.Context, account *entity.Account) entity.AccountSyncResult {
	start := o.now()
	result := entity.AccountSyncResult{
		AccountID:    account.ID,
		EmailAddress: account.EmailAddress,
		Backfill:     account.NeedsBackfill,
	}

	fail := func(err error) entity.AccountSyncResult {
		o.logger.Error("Account sync failed",
			"accountId", account.ID,
			"error", err)
		result.Error = err.Error()
		result.DurationMs = o.now().Sub(start).Milliseconds()
		return result
	}

	token, err := o.tokens.GetValidToken(ctx, account)
	if err != nil {
		return fail(fmt.Errorf("token: %w", err))
	}

	fetcher, err := o.newFetcher(ctx, account, token)
	if err != nil {
		return fail(fmt.Errorf("fetcher: %w", err))
	}

	var fetched, created int
	var historyID uint64
	if account.NeedsBackfill {
		fetched, created, historyID, err = o.backfill(ctx, fetcher, account)
	} else {
		fetched, created, historyID, err = o.incremental(ctx, fetcher, account)
	}
	result.Fetched = fetched
	result.Created = created
	if err != nil {
		return fail(err)
	}

	if err := o.accountRepo.UpdateSyncState(ctx, account.ID, o.now(), historyID); err != nil {
		return fail(fmt.Errorf("update sync state: %w", err))
	}

	result.Success = true
	result.DurationMs = o.now().Sub(start).Milliseconds()
	return result
}

// backfill pulls recent history in large pages, bounded so one huge
// mailbox cannot monopolize a run. Remaining pages are picked up by later
// runs through the incremental path.
func (o *SyncOrchestrator) backfill(ctx context.Context, fetcher MailFetcher, account *entity.Account) (fetched, created int, historyID uint64, err error) {
	query := fmt.Sprintf("after:%s", o.now().AddDate(0, 0, -o.settings.BackfillDays).Format("2006/01/02"))

	pageToken := ""
	for page := 0; page < o.settings.BackfillMaxPages; page++ {
		list, lerr := fetcher.ListMessages(ctx, entity.SyncConfig{
			MaxResults:    o.settings.BackfillPageSize,
			Query:         query,
			PageToken:     pageToken,
			BodySizeLimit: o.settings.BodySizeLimit,
		})
		if lerr != nil {
			return fetched, created, historyID, &mailerr.SyncError{Stage: "fetch", Completed: fetched, Err: lerr}
		}
		if len(list.MessageIDs) == 0 {
			break
		}

		f, c, h, berr := o.fetchAndStore(ctx, fetcher, list.MessageIDs)
		fetched += f
		created += c
		if h > historyID {
			historyID = h
		}
		if berr != nil {
			return fetched, created, historyID, berr
		}

		if list.NextPageToken == "" || int64(len(list.MessageIDs)) < o.settings.BackfillPageSize {
			break
		}
		pageToken = list.NextPageToken
	}

	if err := o.accountRepo.MarkBackfillComplete(ctx, account.ID); err != nil {
		return fetched, created, historyID, fmt.Errorf("mark backfill complete: %w", err)
	}

	o.logger.Info("Backfill finished",
		"accountId", account.ID,
		"fetched", fetched,
		"created", created)
	return fetched, created, historyID, nil
}

// incremental walks the provider history log from the stored cursor, or
// falls back to a bounded listing when there is no cursor or it expired.
func (o *SyncOrchestrator) incremental(ctx context.Context, fetcher MailFetcher, account *entity.Account) (fetched, created int, historyID uint64, err error) {
	var ids []string

	if account.LastHistoryID > 0 {
		history, herr := fetcher.GetHistory(ctx, account.LastHistoryID)
		if herr != nil {
			return 0, 0, 0, &mailerr.SyncError{Stage: "fetch", Err: herr}
		}
		if !history.FullSyncRequired {
			ids = history.AddedIDs
			historyID = history.NewHistoryID
		}
		if history.FullSyncRequired {
			o.logger.Info("Falling back to bounded listing",
				"accountId", account.ID,
				"lastHistoryId", account.LastHistoryID)
		}
	}

	if ids == nil && historyID == 0 {
		list, lerr := fetcher.ListMessages(ctx, entity.SyncConfig{
			MaxResults:    o.settings.IncrementalWindow,
			BodySizeLimit: o.settings.BodySizeLimit,
		})
		if lerr != nil {
			return 0, 0, 0, &mailerr.SyncError{Stage: "fetch", Err: lerr}
		}
		ids = list.MessageIDs
	}

	if len(ids) == 0 {
		return 0, 0, historyID, nil
	}

	f, c, h, err := o.fetchAndStore(ctx, fetcher, ids)
	if h > historyID {
		historyID = h
	}
	return f, c, historyID, err
}

func (o *SyncOrchestrator) fetchAndStore(ctx context.Context, fetcher MailFetcher, ids []string) (fetched, created int, historyID uint64, err error) {
	batch, err := fetcher.GetMessages(ctx, ids, o.settings.BodySizeLimit)
	if err != nil {
		return 0, 0, 0, &mailerr.SyncError{Stage: "fetch", Err: err}
	}
	for id, ferr := range batch.Errors {
		o.logger.Warn("Message skipped", "messageId", id, "error", ferr)
	}

	created, err = o.emailRepo.SaveBatch(ctx, batch.Emails)
	if err != nil {
		return len(batch.Emails), 0, batch.LatestHistoryID, &mailerr.SyncError{Stage: "save", Completed: len(batch.Emails), Err: err}
	}
	return len(batch.Emails), created, batch.LatestHistoryID, nil
}

func rollupStatus(run *entity.SyncRun) string {
	switch {
	case run.AccountsFailed == 0:
		return entity.RunCompleted
	case run.AccountsSucceeded > 0:
		return entity.RunPartial
	default:
		return entity.RunFailed
	}
}
