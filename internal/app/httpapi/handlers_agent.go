package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	app "github.com/lattice-run/core/internal/app"
	"github.com/lattice-run/core/internal/app/domain/audit"
	"github.com/lattice-run/core/internal/app/domain/job"
	"github.com/lattice-run/core/internal/app/services/dispatch"
	"github.com/lattice-run/core/pkg/logger"
)

type handlers struct {
	app *app.Application
	log *logger.Logger
}

type registerRequest struct {
	UserID       string `json:"userId"`
	AccountID    string `json:"accountId"`
	AgentVersion string `json:"agentVersion"`
	Platform     string `json:"platform"`
}

type registerResponse struct {
	AgentToken          string `json:"agentToken"`
	PollIntervalSeconds int    `json:"pollIntervalSeconds"`
}

// agentRegister handles POST /agent/register. It is the one agent-plane
// endpoint that runs ahead of agent-token authentication, since its purpose
// is to mint that token.
func (h *handlers) agentRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, invalidRequest(err.Error()))
		return
	}

	_, token, pollInterval, err := h.app.Agents.Register(r.Context(), req.UserID, req.AccountID, req.AgentVersion, req.Platform)
	if err != nil {
		writeError(w, classify(err))
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{AgentToken: token, PollIntervalSeconds: pollInterval})
}

type heartbeatRequest struct {
	AccountID    string `json:"accountId"`
	Status       string `json:"status"`
	CurrentJobID string `json:"currentJobId,omitempty"`
}

type verdictResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// agentHeartbeat handles POST /agent/heartbeat.
func (h *handlers) agentHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, invalidRequest(err.Error()))
		return
	}

	token := bearerToken(r)
	verdict, err := h.app.Agents.Heartbeat(r.Context(), token, req.Status, req.CurrentJobID)
	if err != nil {
		writeError(w, classify(err))
		return
	}
	writeJSON(w, http.StatusOK, verdictResponse{Allowed: verdict.Allowed, Reason: verdict.Reason})
}

type jobView struct {
	JobID                 string            `json:"jobId"`
	Type                  string            `json:"type"`
	Payload               map[string]string `json:"payload"`
	EarliestExecutionTime time.Time         `json:"earliestExecutionTime"`
	TimeoutSeconds        int               `json:"timeoutSeconds"`
}

// agentPullJobs handles GET /agent/jobs?accountId=…
func (h *handlers) agentPullJobs(w http.ResponseWriter, r *http.Request) {
	agentID, accountID, ok := agentFromContext(r.Context())
	if !ok {
		writeError(w, unauthorized("agent identity missing"))
		return
	}
	if q := r.URL.Query().Get("accountId"); q != "" && q != accountID {
		writeError(w, forbidden("accountId does not match the authenticated agent"))
		return
	}

	jobs, err := h.app.Dispatch.PullJobs(r.Context(), agentID, accountID, 0)
	if err != nil {
		var veto *dispatch.RiskVeto
		if errors.As(err, &veto) {
			writeError(w, riskErrorFor(veto))
			return
		}
		writeError(w, classify(err))
		return
	}

	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, jobView{
			JobID:                 j.ID,
			Type:                  string(j.Type),
			Payload:               j.Parameters,
			EarliestExecutionTime: j.EarliestExecutionTime,
			TimeoutSeconds:        j.TimeoutSeconds,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": views})
}

type submitResultRequest struct {
	Status        string            `json:"status"`
	FailureReason string            `json:"failureReason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// agentSubmitResult handles POST /agent/jobs/{jobId}/result.
func (h *handlers) agentSubmitResult(w http.ResponseWriter, r *http.Request) {
	agentID, _, ok := agentFromContext(r.Context())
	if !ok {
		writeError(w, unauthorized("agent identity missing"))
		return
	}
	jobID := mux.Vars(r)["jobId"]

	var req submitResultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, invalidRequest(err.Error()))
		return
	}

	observed := job.ObservedNone
	if v, ok := req.Metadata["observedState"]; ok && v != "" {
		observed = job.ObservedState(v)
	}

	res, err := h.app.Dispatch.SubmitResult(r.Context(), agentID, jobID,
		job.ResultStatus(req.Status), job.FailureReason(req.FailureReason), observed, h.app.ResultHooks())
	if err != nil {
		writeError(w, classify(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":         res.JobID,
		"status":        res.Status,
		"observedState": res.ObservedState,
		"failureReason": res.FailureReason,
	})
}

type recordEventRequest struct {
	JobID     string    `json:"jobId"`
	EventType string    `json:"eventType"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// agentRecordEvent handles POST /agent/events.
func (h *handlers) agentRecordEvent(w http.ResponseWriter, r *http.Request) {
	agentID, _, ok := agentFromContext(r.Context())
	if !ok {
		writeError(w, unauthorized("agent identity missing"))
		return
	}
	var req recordEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, invalidRequest(err.Error()))
		return
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if err := h.app.Dispatch.RecordEvent(r.Context(), agentID, req.JobID, req.EventType, req.Message, ts); err != nil {
		writeError(w, classify(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type screenshotRequest struct {
	JobID       string `json:"jobId"`
	Stage       string `json:"stage"`
	ImageURL    string `json:"imageUrl,omitempty"`
	ImageBase64 string `json:"imageBase64,omitempty"`
}

// agentScreenshot handles POST /agent/screenshots. It is persisted as an
// Audit entry referencing the external blob; the Audit Sink never stores
// the image bytes themselves.
func (h *handlers) agentScreenshot(w http.ResponseWriter, r *http.Request) {
	agentID, _, ok := agentFromContext(r.Context())
	if !ok {
		writeError(w, unauthorized("agent identity missing"))
		return
	}
	var req screenshotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, invalidRequest(err.Error()))
		return
	}
	if req.JobID == "" || req.Stage == "" {
		writeError(w, invalidRequest("jobId and stage are required"))
		return
	}

	ref := req.ImageURL
	if ref == "" {
		ref = "inline:base64"
	}

	j, err := h.app.Dispatch.GetJob(r.Context(), req.JobID)
	if err != nil {
		writeError(w, classify(err))
		return
	}
	if _, err := h.app.Audit.Append(r.Context(), "dispatch", "SCREENSHOT_"+req.Stage, "Job", j.ID,
		audit.ActorAgent, agentID, map[string]string{"imageRef": ref}); err != nil {
		writeError(w, classify(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// agentControlState handles GET /agent/control-state?accountId=…, the
// side-effect-free twin of the heartbeat verdict.
func (h *handlers) agentControlState(w http.ResponseWriter, r *http.Request) {
	_, accountID, ok := agentFromContext(r.Context())
	if !ok {
		writeError(w, unauthorized("agent identity missing"))
		return
	}
	verdict, err := h.app.Risk.IsExecutionAllowed(r.Context(), accountID)
	if err != nil {
		writeError(w, classify(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executionAllowed": verdict.Allowed,
		"reason":           string(verdict.Reason),
	})
}
