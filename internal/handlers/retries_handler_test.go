package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-route-retry/internal/replay"
	"github.com/imrishuroy/go-route-retry/internal/retries"
	"github.com/imrishuroy/go-route-retry/internal/retries/memstore"
)

// okDispatcher answers every replay with 200.
type okDispatcher struct{}

func (okDispatcher) Dispatch(ctx context.Context, req *replay.Request) (*replay.Response, error) {
	return &replay.Response{StatusCode: http.StatusOK}, nil
}

// brokenStore fails every read.
type brokenStore struct{ retries.Store }

func (brokenStore) List(ctx context.Context, opts retries.ListOptions) ([]retries.Record, error) {
	return nil, &retries.StorageError{Op: "list", Err: errors.New("disk gone")}
}

func setupRouter(t *testing.T, store retries.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRetriesRoutes(r, HandlerConfig{
		Store:     store,
		Processor: replay.NewProcessor(store, nil, okDispatcher{}),
	})
	return r
}

func seed(t *testing.T, store retries.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		rec := &retries.Record{
			Method:     http.MethodPost,
			URI:        "/payments",
			Tags:       []string{"payments"},
			MaxRetries: 3,
			Status:     retries.StatusPending,
		}
		if _, err := store.Insert(context.Background(), rec); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListRetries(t *testing.T) {
	store := memstore.New()
	seed(t, store, 3)
	r := setupRouter(t, store)

	w := do(r, http.MethodGet, "/_retries?status=pending&limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Data []retries.Record `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 2 || body.Data[0].ID != 3 {
		t.Fatalf("expected newest two records, got %+v", body.Data)
	}
}

func TestListRetries_BadStatus(t *testing.T) {
	r := setupRouter(t, memstore.New())

	w := do(r, http.MethodGet, "/_retries?status=archived", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListRetries_StorageError(t *testing.T) {
	r := setupRouter(t, brokenStore{memstore.New()})

	w := do(r, http.MethodGet, "/_retries", "")
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "storage_error") {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
}

func TestGetRetry(t *testing.T) {
	store := memstore.New()
	seed(t, store, 1)
	r := setupRouter(t, store)

	if w := do(r, http.MethodGet, "/_retries/1", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"uri":"/payments"`) {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodGet, "/_retries/99", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/_retries/abc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestProcessRetries(t *testing.T) {
	store := memstore.New()
	seed(t, store, 3)
	r := setupRouter(t, store)

	w := do(r, http.MethodPost, "/_retries/process", `{"ids":[1,3]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Found     int `json:"found"`
		Completed int `json:"completed"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Found != 2 || body.Completed != 2 {
		t.Fatalf("unexpected summary %+v", body)
	}

	rec, err := store.Get(context.Background(), 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != retries.StatusPending {
		t.Fatalf("record 2 should be untouched, got %s", rec.Status)
	}
}

func TestProcessRetries_EmptyBodyProcessesAll(t *testing.T) {
	store := memstore.New()
	seed(t, store, 2)
	r := setupRouter(t, store)

	w := do(r, http.MethodPost, "/_retries/process", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"completed":2`) {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
}

func TestProcessRetries_Invalid(t *testing.T) {
	r := setupRouter(t, memstore.New())

	w := do(r, http.MethodPost, "/_retries/process", `{"fingerprint":"xyz"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
