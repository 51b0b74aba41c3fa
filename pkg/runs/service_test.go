package runs

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"

	"github.com/sequelae-ai/tokenize/pkg/common/models"
	"github.com/sequelae-ai/tokenize/pkg/pipeline"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(nil, nil, nil, pipeline.BuildOptions{}, t.TempDir(), 1)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestCreateRejectsInvalidRequests(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Create(context.Background(), models.CreateRunRequest{Spec: "data:\n  path: /tmp/x"})
	if !errors.Is(err, ErrInvalidRun) {
		t.Fatalf("expected ErrInvalidRun for empty name, got %v", err)
	}

	_, err = svc.Create(context.Background(), models.CreateRunRequest{Name: "demo", Spec: "data: ["})
	if !pipeline.IsConfigError(err) {
		t.Fatalf("expected config error for malformed spec, got %v", err)
	}

	_, err = svc.Create(context.Background(), models.CreateRunRequest{Name: "demo", Spec: "data:\n  path: /tmp/x"})
	if !pipeline.IsConfigError(err) {
		t.Fatalf("expected config error for missing tokenization block, got %v", err)
	}
}

func TestHandleCreateRejectsBadPayload(t *testing.T) {
	router := mux.NewRouter()
	NewHTTPHandler(newTestService(t)).Register(router.PathPrefix("/api/v1").Subrouter())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewBufferString("{not json"))
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewBufferString(`{"name":"","spec":"data: {path: /tmp/x}"}`))
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty name, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/not-a-uuid", nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad run id, got %d", rec.Code)
	}
}

func TestReadVocabCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.csv")
	data := "token,str,count\n0,<unknown>,3\n1,HR,2\n2,BP,1\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	entries, err := readVocabCSV(path, 2)
	if err != nil {
		t.Fatalf("readVocabCSV: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != 0 || entries[0].Text != "<unknown>" || entries[0].Count != 3 {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].ID != 1 || entries[1].Text != "HR" || entries[1].Count != 2 {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}

	entries, err = readVocabCSV(path, 0)
	if err != nil {
		t.Fatalf("readVocabCSV default limit: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected all 3 entries with default limit, got %d", len(entries))
	}

	bad := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(bad, []byte("a,b,c\n1,2,3\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := readVocabCSV(bad, 10); err == nil {
		t.Fatal("expected error for unexpected header")
	}
}
