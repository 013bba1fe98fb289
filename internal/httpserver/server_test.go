package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BeskiJoseph/interview/internal/config"
	"github.com/BeskiJoseph/interview/internal/interview"
	"github.com/BeskiJoseph/interview/internal/llm"
	"github.com/BeskiJoseph/interview/internal/store"
)

type fakeGenerator struct{}

func (fakeGenerator) GenerateTurn(_ context.Context, _ interview.Profile, _ string, _ []interview.Turn) interview.GeneratedTurn {
	return interview.GeneratedTurn{Text: "Next question?", Source: interview.SourceGenerated}
}

func (fakeGenerator) GenerateFeedback(_ context.Context, _ interview.Profile, _ []interview.QA) interview.Feedback {
	return interview.Feedback{OverallScore: 6}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	local, err := store.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return New(config.Config{}, Deps{
		Generator: fakeGenerator{},
		Keys:      llm.NewGeminiClient("", "", ""),
		Store:     store.NewGateway(nil, local),
	})
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	return w
}

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCreateSession(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/sessions", `{"role":"Backend Engineer","skillLevel":"senior"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp createSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatalf("expected a session ID")
	}
	if resp.State != interview.StateSetup {
		t.Fatalf("new session must start in setup, got %s", resp.State)
	}
}

func TestCreateSession_Validation(t *testing.T) {
	srv := newTestServer(t)
	if w := doJSON(t, srv, http.MethodPost, "/api/sessions", `{"skillLevel":"junior"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing role: expected 400, got %d", w.Code)
	}
	if w := doJSON(t, srv, http.MethodPost, "/api/sessions", `not-json`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json: expected 400, got %d", w.Code)
	}
}

func TestGetSession_LiveAndMissing(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/sessions", `{"role":"Data Analyst"}`)
	var created createSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = doJSON(t, srv, http.MethodGet, "/api/sessions/"+created.SessionID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for live session, got %d", w.Code)
	}
	var rec interview.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.SessionID != created.SessionID || rec.Role != "Data Analyst" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if w := doJSON(t, srv, http.MethodGet, "/api/sessions/unknown-id", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", w.Code)
	}
}

func TestListSessions(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("empty store must serve an empty array, got %s", w.Body.String())
	}

	err := srv.deps.Store.Save(context.Background(), interview.Record{
		SessionID: "persisted", Role: "PM", Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	w = doJSON(t, srv, http.MethodGet, "/api/sessions", "")
	var records []interview.Record
	if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(records) != 1 || records[0].SessionID != "persisted" {
		t.Fatalf("unexpected listing: %+v", records)
	}
}

func TestCompleteSession(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/sessions", `{"role":"Backend Engineer"}`)
	var created createSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Completing straight out of setup is an invalid transition.
	if w := doJSON(t, srv, http.MethodPost, "/api/sessions/"+created.SessionID+"/complete", ""); w.Code != http.StatusConflict {
		t.Fatalf("complete before begin: expected 409, got %d", w.Code)
	}

	entry, ok := srv.takeLive(created.SessionID)
	if !ok {
		t.Fatalf("session missing from live registry")
	}
	if err := entry.session.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/sessions/"+created.SessionID+"/complete", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rec interview.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if !rec.IsCompleted || rec.Feedback == nil || rec.Feedback.OverallScore != 6 {
		t.Fatalf("expected completed record with feedback, got %+v", rec)
	}

	// The finished session left the live registry; the record now serves from
	// the store.
	w = doJSON(t, srv, http.MethodGet, "/api/sessions/"+created.SessionID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected persisted record, got %d", w.Code)
	}

	if w := doJSON(t, srv, http.MethodPost, "/api/sessions/unknown/complete", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown session: expected 404, got %d", w.Code)
	}
}

func TestClearSessions(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/sessions", `{"role":"Designer"}`)
	var created createSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	err := srv.deps.Store.Save(context.Background(), interview.Record{
		SessionID: "persisted", Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}

	if w := doJSON(t, srv, http.MethodDelete, "/api/sessions", ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := doJSON(t, srv, http.MethodGet, "/api/sessions/"+created.SessionID, ""); w.Code != http.StatusNotFound {
		t.Fatalf("live session must be gone after clear, got %d", w.Code)
	}
	w = doJSON(t, srv, http.MethodGet, "/api/sessions", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("store must be empty after clear, got %s", w.Body.String())
	}
}

func TestValidateKey(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.RawQuery, "key=good") {
			_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer backend.Close()

	local, err := store.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	keys := llm.NewGeminiClient("", "", backend.URL)
	srv := New(config.Config{}, Deps{
		Generator: fakeGenerator{},
		Keys:      keys,
		Store:     store.NewGateway(nil, local),
	})

	w := doJSON(t, srv, http.MethodPost, "/api/key/validate", `{"key":"good"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp validateKeyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != llm.KeyValid {
		t.Fatalf("expected valid status, got %s", resp.Status)
	}
	if !keys.HasKey() {
		t.Fatalf("valid key must be committed")
	}

	w = doJSON(t, srv, http.MethodPost, "/api/key/validate", `{"key":"bad"}`)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != llm.KeyInvalid {
		t.Fatalf("expected invalid status, got %s", resp.Status)
	}
}
