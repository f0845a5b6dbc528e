package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/skillpulse/skillpulse/internal/events"
	"github.com/skillpulse/skillpulse/internal/grading"
	"github.com/skillpulse/skillpulse/internal/improvement"
	"github.com/skillpulse/skillpulse/internal/registry"
	"github.com/skillpulse/skillpulse/internal/resolver"
	"github.com/skillpulse/skillpulse/internal/security"
)

type stubGenerator struct {
	proposal registry.Proposal
	err      error
}

func (g *stubGenerator) GenerateProposal(_ context.Context, _ *registry.Entry, _ *registry.Request) (registry.Proposal, error) {
	if g.err != nil {
		return registry.Proposal{}, g.err
	}
	return g.proposal, nil
}

type testEnv struct {
	store   *registry.Store
	handler http.Handler
}

// newTestEnv wires a full server over a temp database in dev mode (no JWT).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gen := &stubGenerator{proposal: registry.Proposal{
		SystemInstruction:  "Improved.",
		UserPromptTemplate: "Do {{task}}.",
		Rationale:          "r",
	}}
	hub := events.NewHub(nil)
	srv := NewServer(0, Deps{
		Store:    store,
		Ingestor: grading.NewIngestor(store, nil, hub, nil),
		Service:  improvement.NewService(store, gen, hub, nil),
		Detector: improvement.NewDetector(store, hub, nil, 5),
		Resolver: resolver.New(store, nil),
		Hub:      hub,
	}, nil, time.Hour, nil)

	return &testEnv{store: store, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, id string) {
	t.Helper()
	_, err := e.store.Register(context.Background(), registry.Content{
		ID:                 id,
		Name:               "Test Skill",
		Type:               registry.TypeBuiltIn,
		SystemInstruction:  "Original.",
		UserPromptTemplate: "Do {{task}}.",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) gradeLow(t *testing.T, id string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := e.store.RecordGrade(context.Background(), registry.Grade{
			ID:           uuid.New().String(),
			SkillID:      id,
			SkillVersion: 1,
			OverallScore: 2.0,
			Feedback:     fmt.Sprintf("weak output %d", i),
			GradedAt:     time.Now(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestSubmitGradeEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/grades", grading.Submission{
		SkillID:      "resume",
		OverallScore: 4.5,
		DimensionScores: map[registry.Dimension]float64{
			registry.DimClarity: 4.0,
		},
		Feedback: "solid",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decode[map[string]any](t, rec)
	if resp["success"] != true {
		t.Errorf("response = %v", resp)
	}

	// Grade with invalid score is rejected.
	rec = env.do(t, "POST", "/api/grades", grading.Submission{SkillID: "resume", OverallScore: 9})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid score: status = %d", rec.Code)
	}
}

func TestSkillListingAndScores(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "resume")
	env.gradeLow(t, "resume", 3)

	rec := env.do(t, "GET", "/api/skills", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	list := decode[[]skillSummary](t, rec)
	if len(list) != 1 || list[0].ID != "resume" || list[0].Scores.TotalGrades != 3 {
		t.Errorf("list = %+v", list)
	}

	rec = env.do(t, "GET", "/api/skills/resume/scores", nil)
	scores := decode[registry.SkillScores](t, rec)
	if scores.AverageOverall == nil || *scores.AverageOverall != 2.0 {
		t.Errorf("scores = %+v", scores)
	}

	rec = env.do(t, "GET", "/api/skills/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown skill: status = %d", rec.Code)
	}
}

func TestImprovementLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "resume")
	env.gradeLow(t, "resume", 50)

	// Manual sweep creates one request.
	rec := env.do(t, "POST", "/api/improvements", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep: status = %d body=%s", rec.Code, rec.Body.String())
	}
	if resp := decode[map[string]any](t, rec); resp["triggered"] != float64(1) {
		t.Fatalf("sweep response = %v", resp)
	}

	rec = env.do(t, "GET", "/api/improvements", nil)
	pending := decode[[]registry.Request](t, rec)
	if len(pending) != 1 {
		t.Fatalf("pending = %+v", pending)
	}
	id := pending[0].ID

	rec = env.do(t, "POST", "/api/improvements/"+id+"/generate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate: status = %d body=%s", rec.Code, rec.Body.String())
	}
	generated := decode[registry.Request](t, rec)
	if generated.Status != registry.StatusGenerated || generated.Proposed == nil {
		t.Fatalf("generated = %+v", generated)
	}

	rec = env.do(t, "POST", "/api/improvements/"+id+"/approve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: status = %d", rec.Code)
	}

	rec = env.do(t, "POST", "/api/improvements/"+id+"/apply", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("apply: status = %d body=%s", rec.Code, rec.Body.String())
	}
	if resp := decode[map[string]any](t, rec); resp["newVersion"] != float64(2) {
		t.Errorf("apply response = %v", resp)
	}

	// Double apply conflicts.
	rec = env.do(t, "POST", "/api/improvements/"+id+"/apply", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("double apply: status = %d", rec.Code)
	}

	// Rollback restores the original content.
	rec = env.do(t, "POST", "/api/skills/resume/rollback", map[string]string{"reason": "regression"})
	if rec.Code != http.StatusOK {
		t.Fatalf("rollback: status = %d body=%s", rec.Code, rec.Body.String())
	}
	if resp := decode[map[string]any](t, rec); resp["restoredVersion"] != float64(3) {
		t.Errorf("rollback response = %v", resp)
	}

	rec = env.do(t, "POST", "/api/skills/resume/rollback", map[string]string{"reason": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("rollback without reason: status = %d", rec.Code)
	}
}

func TestResolveEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "resume")

	rec := env.do(t, "POST", "/api/resolve", resolveRequest{
		SkillID:   "resume",
		Variables: map[string]string{"task": "the thing"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	eff := decode[resolver.Effective](t, rec)
	if eff.Source != resolver.SourceRegistry || eff.UserPrompt != "Do the thing." {
		t.Errorf("eff = %+v", eff)
	}

	// Unknown skill silently falls back.
	rec = env.do(t, "POST", "/api/resolve", resolveRequest{
		SkillID:            "ghost",
		SystemInstruction:  "fb",
		UserPromptTemplate: "{{x}}",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("fallback status = %d", rec.Code)
	}
	eff = decode[resolver.Effective](t, rec)
	if eff.Source != resolver.SourceFallback || eff.Version != 1 {
		t.Errorf("fallback eff = %+v", eff)
	}
}

func TestAdminSurfaceRequiresAuth(t *testing.T) {
	store, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	hash, err := security.HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	hub := events.NewHub(nil)
	srv := NewServer(0, Deps{
		Store:    store,
		Ingestor: grading.NewIngestor(store, nil, hub, nil),
		Service:  improvement.NewService(store, nil, hub, nil),
		Detector: improvement.NewDetector(store, hub, nil, 5),
		Resolver: resolver.New(store, nil),
		Auth: security.NewAuthenticator([]security.Operator{
			{ID: "alice", PasswordHash: hash, Role: security.RoleReadonly},
		}),
		Hub: hub,
	}, []byte("test-secret"), time.Hour, nil)
	handler := srv.Handler()

	// Unauthenticated admin request is rejected.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/skills", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: status = %d", rec.Code)
	}

	// Grade ingestion stays public.
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(grading.Submission{SkillID: "s", OverallScore: 4})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/grades", &buf))
	if rec.Code != http.StatusOK {
		t.Fatalf("public grades: status = %d body=%s", rec.Code, rec.Body.String())
	}

	// Token exchange, then an authenticated read.
	buf.Reset()
	_ = json.NewEncoder(&buf).Encode(tokenRequest{OperatorID: "alice", Password: "hunter2"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/auth/token", &buf))
	if rec.Code != http.StatusOK {
		t.Fatalf("token: status = %d body=%s", rec.Code, rec.Body.String())
	}
	token := decode[map[string]any](t, rec)["token"].(string)

	req := httptest.NewRequest("GET", "/api/skills", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated read: status = %d", rec.Code)
	}

	// Readonly role cannot mutate.
	req = httptest.NewRequest("POST", "/api/improvements/some-id/approve", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("readonly mutate: status = %d", rec.Code)
	}

	// Bad credentials are rejected.
	buf.Reset()
	_ = json.NewEncoder(&buf).Encode(tokenRequest{OperatorID: "alice", Password: "wrong"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/auth/token", &buf))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad credentials: status = %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decode[map[string]any](t, rec); resp["status"] != "ok" {
		t.Errorf("response = %v", resp)
	}
}
