package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	svcerrors "github.com/lattice-run/core/infrastructure/errors"
	"github.com/lattice-run/core/internal/app/domain/risk"
	"github.com/lattice-run/core/internal/app/services/dispatch"
)

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError serializes err as the {errorCode, message} wire envelope with
// err.HTTPStatus as the response status.
func writeError(w http.ResponseWriter, err *svcerrors.ServiceError) {
	writeJSON(w, err.HTTPStatus, err)
}

func unauthorized(message string) *svcerrors.ServiceError {
	return svcerrors.Unauthorized(message)
}

func forbidden(message string) *svcerrors.ServiceError {
	return svcerrors.Forbidden(message)
}

func notFound(resource, id string) *svcerrors.ServiceError {
	return svcerrors.NotFound(resource, id)
}

func invalidRequest(reason string) *svcerrors.ServiceError {
	return svcerrors.InvalidRequest("body", reason)
}

func invalidState(message string) *svcerrors.ServiceError {
	return svcerrors.InvalidState(message)
}

func internalError(err error) *svcerrors.ServiceError {
	return svcerrors.Wrap(svcerrors.ErrCodeInternal, "internal error", http.StatusInternalServerError, err)
}

// classify maps a bare domain error returned by a service method to a
// ServiceError. Services return plain errors (fmt.Errorf / storage "not
// found"); the wire layer owns the HTTP status and closed error-code
// vocabulary, per the propagation rule: subsystems raise plain errors, the
// wire layer classifies them.
func classify(err error) *svcerrors.ServiceError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found"):
		return notFound("resource", "")
	case strings.Contains(msg, "does not belong to"), strings.Contains(msg, "is not assigned to"):
		return forbidden(msg)
	case strings.Contains(msg, "is required"), strings.Contains(msg, "unknown job type"), strings.Contains(msg, "unknown result status"), strings.Contains(msg, "parameter"):
		return invalidRequest(msg)
	case strings.Contains(msg, "cannot submit a result"), strings.Contains(msg, "already has an account"),
		strings.Contains(msg, "unknown reported status"), strings.Contains(msg, "cannot start execution"):
		return invalidState(msg)
	default:
		return internalError(err)
	}
}

// riskErrorFor maps a *dispatch.RiskVeto to the wire-layer error the Job
// Dispatcher returns from CreateJob and PullJobs when the Risk Oracle vetoes a
// call outright (distinct from the heartbeat/control-state verdict, which is a
// 200 body).
func riskErrorFor(veto *dispatch.RiskVeto) *svcerrors.ServiceError {
	switch veto.Reason {
	case risk.ReasonSessionInvalid:
		return svcerrors.SessionInvalid("account session is no longer valid")
	case risk.ReasonRateLimited:
		return svcerrors.RateLimited(veto.Limit, veto.Window.String())
	default:
		return svcerrors.RiskPaused(string(veto.Reason))
	}
}
