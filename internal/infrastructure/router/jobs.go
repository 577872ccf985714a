package router

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"mailpilot-service/internal/domain/entity"
	"mailpilot-service/internal/domain/repository"
	"mailpilot-service/internal/usecase"
	"mailpilot-service/pkg/logger"
)

// JobRouter exposes the background jobs as HTTP trigger endpoints so an
// external scheduler or an operator can run a pass on demand, plus a
// status route over the run history. All routes require the shared
// trigger token when one is configured.
type JobRouter struct {
	orchestrator *usecase.SyncOrchestrator
	dispatcher   *usecase.CampaignDispatcher
	evaluator    *usecase.FollowUpEvaluator
	runRepo      repository.SyncRunRepository
	emailRepo    repository.ParsedEmailRepository
	quotaRepo    repository.QuotaRepository
	triggerToken string
	logger       logger.Logger
}

// NewJobRouter creates a new job router
func NewJobRouter(
	orchestrator *usecase.SyncOrchestrator,
	dispatcher *usecase.CampaignDispatcher,
	evaluator *usecase.FollowUpEvaluator,
	runRepo repository.SyncRunRepository,
	emailRepo repository.ParsedEmailRepository,
	quotaRepo repository.QuotaRepository,
	triggerToken string,
	logger logger.Logger,
) *JobRouter {
	return &JobRouter{
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		evaluator:    evaluator,
		runRepo:      runRepo,
		emailRepo:    emailRepo,
		quotaRepo:    quotaRepo,
		triggerToken: triggerToken,
		logger:       logger,
	}
}

// Register mounts the job routes on the mux
func (r *JobRouter) Register(mux *http.ServeMux) {
	mux.HandleFunc("/jobs/sync", r.authorized(http.MethodPost, r.handleSync))
	mux.HandleFunc("/jobs/dispatch", r.authorized(http.MethodPost, r.handleDispatch))
	mux.HandleFunc("/jobs/followups", r.authorized(http.MethodPost, r.handleFollowUps))
	mux.HandleFunc("/jobs/status", r.authorized(http.MethodGet, r.handleStatus))
}

type syncRequest struct {
	AccountIDs []string `json:"accountIds"`
	Force      bool     `json:"force"`
}

type jobResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

func (r *JobRouter) authorized(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			writeJSON(w, http.StatusMethodNotAllowed, jobResponse{Error: "method not allowed"})
			return
		}
		if r.triggerToken != "" {
			auth := req.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != r.triggerToken {
				writeJSON(w, http.StatusUnauthorized, jobResponse{Error: "unauthorized"})
				return
			}
		}
		next(w, req)
	}
}

func (r *JobRouter) handleSync(w http.ResponseWriter, req *http.Request) {
	var body syncRequest
	if req.Body != nil {
		// An empty body means "sync whatever is due"
		json.NewDecoder(req.Body).Decode(&body)
	}

	run, err := r.orchestrator.Run(req.Context(), usecase.RunOptions{
		Trigger:    entity.TriggerManual,
		AccountIDs: body.AccountIDs,
		Force:      body.Force,
	})
	if err != nil {
		r.logger.Error("Manual sync failed", "error", err)
		writeJSON(w, http.StatusOK, jobResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{Success: true, Result: run})
}

func (r *JobRouter) handleDispatch(w http.ResponseWriter, req *http.Request) {
	if err := r.dispatcher.ProcessCampaigns(req.Context()); err != nil {
		r.logger.Error("Manual dispatch failed", "error", err)
		writeJSON(w, http.StatusOK, jobResponse{Error: err.Error()})
		return
	}
	if err := r.dispatcher.ProcessScheduled(req.Context()); err != nil {
		r.logger.Error("Manual scheduled flush failed", "error", err)
		writeJSON(w, http.StatusOK, jobResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{Success: true})
}

func (r *JobRouter) handleFollowUps(w http.ResponseWriter, req *http.Request) {
	if err := r.evaluator.ProcessFollowUps(req.Context()); err != nil {
		r.logger.Error("Manual follow-up pass failed", "error", err)
		writeJSON(w, http.StatusOK, jobResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{Success: true})
}

type statusResponse struct {
	RecentRuns     []*entity.SyncRun `json:"recentRuns"`
	LastReceivedAt *time.Time        `json:"lastReceivedAt,omitempty"`
	QuotaRemaining *int              `json:"quotaRemaining,omitempty"`
}

// handleStatus reports recent sync runs, the newest stored email, and,
// when a userId is given, that user's remaining daily send quota.
func (r *JobRouter) handleStatus(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	runs, err := r.runRepo.FindRecent(ctx, 5)
	if err != nil {
		r.logger.Error("Failed to load recent runs", "error", err)
		writeJSON(w, http.StatusOK, jobResponse{Error: err.Error()})
		return
	}

	status := statusResponse{RecentRuns: runs}

	if last, err := r.emailRepo.GetLastReceived(ctx); err != nil {
		r.logger.Error("Failed to load last received email", "error", err)
	} else if last != nil {
		status.LastReceivedAt = &last.ReceivedAt
	}

	if userID := req.URL.Query().Get("userId"); userID != "" {
		remaining, err := r.quotaRepo.Remaining(ctx, userID, time.Now())
		if err != nil {
			r.logger.Error("Failed to load quota", "userId", userID, "error", err)
		} else {
			status.QuotaRemaining = &remaining
		}
	}

	writeJSON(w, http.StatusOK, jobResponse{Success: true, Result: status})
}

func writeJSON(w http.ResponseWriter, status int, body jobResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
