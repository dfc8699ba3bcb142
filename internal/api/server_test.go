package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"codejudge/internal/job"
	"codejudge/internal/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	records map[string]*job.Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*job.Record)}
}

func (s *fakeStore) Create(ctx context.Context, id string, in job.CreateInput) (*job.Record, error) {
	rec := &job.Record{ID: id, Language: in.LanguageID, SourceCode: in.SourceCode, Stdin: in.Stdin, Overrides: in.Overrides, Status: job.StatusPending}
	s.records[id] = rec
	return rec, nil
}

func (s *fakeStore) Fetch(ctx context.Context, id string) (*job.Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return rec, nil
}

func (s *fakeStore) Count(ctx context.Context) (int64, int64, error) {
	var pending int64
	for _, r := range s.records {
		if r.Status == job.StatusPending {
			pending++
		}
	}
	return pending, 0, nil
}

func newTestServer() (*Server, *fakeStore) {
	store := newFakeStore()
	srv := NewServer(store, registry.New(), DefaultLimits(), 4, 1000, 1000)
	return srv, store
}

func TestSubmitAcceptsValidRequest(t *testing.T) {
	srv, _ := newTestServer()

	body, _ := json.Marshal(submitRequest{LanguageID: "python3", SourceCode: "print(1)"})
	req := httptest.NewRequest(http.MethodPost, "/submissions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp submitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.JobID == "" || resp.Status != "pending" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestSubmitRejectsUnknownLanguage(t *testing.T) {
	srv, _ := newTestServer()

	body, _ := json.Marshal(submitRequest{LanguageID: "cobol", SourceCode: "x"})
	req := httptest.NewRequest(http.MethodPost, "/submissions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSubmitRejectsEmptySourceCode(t *testing.T) {
	srv, _ := newTestServer()

	body, _ := json.Marshal(submitRequest{LanguageID: "python3", SourceCode: ""})
	req := httptest.NewRequest(http.MethodPost, "/submissions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSubmitRejectsOversizedStdin(t *testing.T) {
	srv, _ := newTestServer()
	srv.limits.MaxStdinBytes = 4

	body, _ := json.Marshal(submitRequest{LanguageID: "python3", SourceCode: "print(1)", Stdin: strings.Repeat("x", 100)})
	req := httptest.NewRequest(http.MethodPost, "/submissions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetReturnsNotFoundForUnknownID(t *testing.T) {
	srv, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/submissions/does-not-exist", nil)
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetReturnsStoredRecord(t *testing.T) {
	srv, store := newTestServer()
	rec, _ := store.Create(context.Background(), "job-1", job.CreateInput{LanguageID: "python3", SourceCode: []byte("print(1)")})

	req := httptest.NewRequest(http.MethodGet, "/submissions/"+rec.ID, nil)
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestHealthReportsWorkerCount(t *testing.T) {
	srv, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.OK || resp.Workers != 4 {
		t.Fatalf("resp = %+v", resp)
	}
}
