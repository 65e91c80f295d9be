package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	svcerrors "github.com/lattice-run/core/infrastructure/errors"
	"github.com/lattice-run/core/internal/app/domain/account"
	"github.com/lattice-run/core/internal/app/domain/job"
	"github.com/lattice-run/core/internal/app/services/dispatch"
	"github.com/lattice-run/core/internal/app/storage"
)

// resolveOwnedAccount fetches the caller's single account and, if accountID
// is non-empty, verifies it matches. Every control-plane handler that reaches
// into a specific account goes through this ownership check first.
func (h *handlers) resolveOwnedAccount(r *http.Request, accountID string) (account.Account, *svcerrors.ServiceError) {
	userID, ok := userFromContext(r.Context())
	if !ok {
		return account.Account{}, unauthorized("user identity missing")
	}
	acct, err := h.app.Accounts.GetByUserID(r.Context(), userID)
	if err != nil {
		return account.Account{}, notFound("Account", accountID)
	}
	if accountID != "" && acct.ID != accountID {
		return account.Account{}, forbidden("account does not belong to the caller")
	}
	return acct, nil
}

type createAccountRequest struct {
	ProfileURL  string `json:"profileUrl"`
	DisplayName string `json:"displayName"`
}

// createAccount handles POST /accounts.
func (h *handlers) createAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, unauthorized("user identity missing"))
		return
	}
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, invalidRequest(err.Error()))
		return
	}
	acct, err := h.app.Accounts.CreateAccount(r.Context(), userID, req.ProfileURL, req.DisplayName)
	if err != nil {
		writeError(w, classify(err))
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// listAccounts handles GET /accounts — the caller's own account(s). The
// account model is one-per-user, so this is a singleton list.
func (h *handlers) listAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, unauthorized("user identity missing"))
		return
	}
	acct, err := h.app.Accounts.GetByUserID(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": []account.Account{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": []account.Account{acct}})
}

// getAccount handles GET /accounts/{accountId}.
func (h *handlers) getAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	acct, herr := h.resolveOwnedAccount(r, accountID)
	if herr != nil {
		writeError(w, herr)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type pauseAccountRequest struct {
	Paused bool `json:"paused"`
}

// pauseAccount handles PATCH /accounts/{accountId}/pause.
func (h *handlers) pauseAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	if _, herr := h.resolveOwnedAccount(r, accountID); herr != nil {
		writeError(w, herr)
		return
	}
	var req pauseAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, invalidRequest(err.Error()))
		return
	}
	acct, err := h.app.Accounts.SetUserPaused(r.Context(), accountID, req.Paused)
	if err != nil {
		writeError(w, classify(err))
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// getAgentForAccount handles GET /agents/{accountId}.
func (h *handlers) getAgentForAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	if _, herr := h.resolveOwnedAccount(r, accountID); herr != nil {
		writeError(w, herr)
		return
	}
	ag, err := h.app.Agents.GetByAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, notFound("Agent", accountID))
		return
	}
	writeJSON(w, http.StatusOK, ag)
}

type createJobRequest struct {
	AccountID             string            `json:"accountId"`
	Type                  string            `json:"type"`
	Payload               map[string]string `json:"payload"`
	Priority              int               `json:"priority"`
	EarliestExecutionTime time.Time         `json:"earliestExecutionTime"`
	TimeoutSeconds        int               `json:"timeoutSeconds"`
}

// createJob handles POST /jobs.
func (h *handlers) createJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, unauthorized("user identity missing"))
		return
	}
	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, invalidRequest(err.Error()))
		return
	}
	if _, herr := h.resolveOwnedAccount(r, req.AccountID); herr != nil {
		writeError(w, herr)
		return
	}
	j, err := h.app.Dispatch.CreateJob(r.Context(), req.AccountID, userID, job.Type(req.Type),
		req.Payload, req.Priority, req.EarliestExecutionTime, req.TimeoutSeconds)
	if err != nil {
		var veto *dispatch.RiskVeto
		if errors.As(err, &veto) {
			writeError(w, riskErrorFor(veto))
			return
		}
		writeError(w, classify(err))
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

// listJobs handles GET /jobs?accountId=…
func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	if _, herr := h.resolveOwnedAccount(r, accountID); herr != nil {
		writeError(w, herr)
		return
	}
	jobs, err := h.app.Dispatch.ListJobs(r.Context(), accountID, 0)
	if err != nil {
		writeError(w, classify(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// getJob handles GET /jobs/{jobId}.
func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	j, err := h.app.Dispatch.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, classify(err))
		return
	}
	if _, herr := h.resolveOwnedAccount(r, j.AccountID); herr != nil {
		writeError(w, herr)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// getJobResult handles GET /jobs/{jobId}/result.
func (h *handlers) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	j, err := h.app.Dispatch.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, classify(err))
		return
	}
	if _, herr := h.resolveOwnedAccount(r, j.AccountID); herr != nil {
		writeError(w, herr)
		return
	}
	res, ok, err := h.app.Dispatch.GetResult(r.Context(), jobID)
	if err != nil {
		writeError(w, classify(err))
		return
	}
	if !ok {
		writeError(w, notFound("JobResult", jobID))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// listViolations handles GET /risk/violations?accountId=…
func (h *handlers) listViolations(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	if _, herr := h.resolveOwnedAccount(r, accountID); herr != nil {
		writeError(w, herr)
		return
	}
	onlyUnresolved := r.URL.Query().Get("unresolved") == "true"
	violations, err := h.app.Risk.ListViolations(r.Context(), accountID, onlyUnresolved)
	if err != nil {
		writeError(w, classify(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"violations": violations})
}

type acknowledgeRequest struct {
	ViolationID string `json:"violationId"`
}

// acknowledgeViolation handles POST /risk/acknowledge.
func (h *handlers) acknowledgeViolation(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, invalidRequest(err.Error()))
		return
	}
	v, err := h.app.Risk.GetViolation(r.Context(), req.ViolationID)
	if err != nil {
		writeError(w, classify(err))
		return
	}
	if _, herr := h.resolveOwnedAccount(r, v.AccountID); herr != nil {
		writeError(w, herr)
		return
	}
	if err := h.app.Risk.AcknowledgeViolation(r.Context(), req.ViolationID); err != nil {
		writeError(w, classify(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// getRiskScore handles GET /risk/score/{accountId}.
func (h *handlers) getRiskScore(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	if _, herr := h.resolveOwnedAccount(r, accountID); herr != nil {
		writeError(w, herr)
		return
	}
	score, ok, err := h.app.Risk.LatestScore(r.Context(), accountID)
	if err != nil {
		writeError(w, classify(err))
		return
	}
	if !ok {
		writeError(w, notFound("RiskScore", accountID))
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// queryAudit handles GET /audit?entityId=…&domain=…&limit=…
func (h *handlers) queryAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := userFromContext(r.Context()); !ok {
		writeError(w, unauthorized("user identity missing"))
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	filter := storage.AuditFilter{Domain: q.Get("domain"), EntityID: q.Get("entityId")}
	entries, err := h.app.Audit.Query(r.Context(), filter, limit)
	if err != nil {
		writeError(w, classify(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
