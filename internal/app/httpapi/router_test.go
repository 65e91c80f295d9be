package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	app "github.com/lattice-run/core/internal/app"
	"github.com/lattice-run/core/internal/app/auth"
	"github.com/lattice-run/core/internal/app/storage/memory"
	"github.com/lattice-run/core/pkg/config"
)

const testJWTSecret = "router-test-secret"

func newTestRouter(t *testing.T) (http.Handler, *auth.JWTManager) {
	t.Helper()
	cfg := config.New()
	store := memory.New()
	application := app.New(cfg, nil, app.Stores{
		Users: store, Accounts: store, Agents: store, Jobs: store, Risk: store, Audit: store,
	})
	jwtManager := auth.NewJWTManager(testJWTSecret, "", nil)
	router := NewRouter(application, Options{JWTManager: jwtManager, CORS: CORSConfig{AllowedOrigins: []string{"*"}}})
	return router, jwtManager
}

func doJSON(t *testing.T, router http.Handler, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestControlPlaneRejectsMissingBearerToken(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/accounts", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateAccountThenCreateAndListJobs(t *testing.T) {
	router, jwtManager := newTestRouter(t)
	token, _, err := jwtManager.Issue("user-1", "user1@example.com", "member", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/accounts", token, map[string]string{
		"profileUrl":  "https://example.com/in/user1",
		"displayName": "User One",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating account, got %d: %s", rec.Code, rec.Body.String())
	}
	var acct struct {
		ID string `json:"ID"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if acct.ID == "" {
		t.Fatalf("expected a non-empty account id in response: %s", rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/jobs", token, map[string]interface{}{
		"accountId": acct.ID,
		"type":      "LIKE_POST",
		"payload":   map[string]string{"postUrl": "https://example.com/p/1"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating job, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/jobs?accountId="+acct.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing jobs, got %d: %s", rec.Code, rec.Body.String())
	}
	var listed struct {
		Jobs []map[string]interface{} `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode job list: %v", err)
	}
	if len(listed.Jobs) != 1 {
		t.Fatalf("expected exactly one job listed, got %d", len(listed.Jobs))
	}
}

func TestAgentRegisterAndPullJobsRoundTrip(t *testing.T) {
	router, jwtManager := newTestRouter(t)
	token, _, err := jwtManager.Issue("user-1", "user1@example.com", "member", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/accounts", token, map[string]string{
		"profileUrl": "https://example.com/in/user1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account: %d %s", rec.Code, rec.Body.String())
	}
	var acct struct {
		ID string `json:"ID"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode account: %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/jobs", token, map[string]interface{}{
		"accountId": acct.ID,
		"type":      "LIKE_POST",
		"payload":   map[string]string{"postUrl": "https://example.com/p/1"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create job: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/agent/register", "", map[string]string{
		"userId":    "user-1",
		"accountId": acct.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("agent register: %d %s", rec.Code, rec.Body.String())
	}
	var reg struct {
		AgentToken string `json:"agentToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if reg.AgentToken == "" {
		t.Fatalf("expected a non-empty agent token")
	}

	rec = doJSON(t, router, http.MethodGet, "/agent/jobs", reg.AgentToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pull jobs: %d %s", rec.Code, rec.Body.String())
	}
	var pulled struct {
		Jobs []map[string]interface{} `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pulled); err != nil {
		t.Fatalf("decode pulled jobs: %v", err)
	}
	if len(pulled.Jobs) != 1 {
		t.Fatalf("expected one job pulled, got %d", len(pulled.Jobs))
	}
}

func TestAgentPullJobsSurfacesRiskPausedAsServiceUnavailable(t *testing.T) {
	router, jwtManager := newTestRouter(t)
	token, _, err := jwtManager.Issue("user-1", "user1@example.com", "member", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/accounts", token, map[string]string{
		"profileUrl": "https://example.com/in/user1",
	})
	var acct struct {
		ID string `json:"ID"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode account: %v", err)
	}

	rec = doJSON(t, router, http.MethodPatch, "/accounts/"+acct.ID+"/pause", token, map[string]bool{"paused": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("pause account: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/agent/register", "", map[string]string{
		"userId":    "user-1",
		"accountId": acct.ID,
	})
	var reg struct {
		AgentToken string `json:"agentToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decode register response: %v", err)
	}

	rec = doJSON(t, router, http.MethodGet, "/agent/jobs", reg.AgentToken, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 RISK_PAUSED, got %d: %s", rec.Code, rec.Body.String())
	}
}
