package replay

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/imrishuroy/go-route-retry/internal/blob"
	"github.com/imrishuroy/go-route-retry/internal/retries"
)

func TestFlatten(t *testing.T) {
	v := flatten(map[string]any{
		"name":   "Ada",
		"age":    float64(36),
		"admin":  true,
		"tags[]": []any{"a", "b"},
		"user":   map[string]any{"city": "London", "pets[]": []any{"cat"}},
		"items":  []any{map[string]any{"sku": "x"}},
	})

	checks := map[string][]string{
		"name":          {"Ada"},
		"age":           {"36"},
		"admin":         {"1"},
		"tags[]":        {"a", "b"},
		"user[city]":    {"London"},
		"user[pets][]":  {"cat"},
		"items[0][sku]": {"x"},
	}
	for k, want := range checks {
		if got := v[k]; strings.Join(got, ",") != strings.Join(want, ",") {
			t.Fatalf("field %s: expected %v, got %v", k, want, got)
		}
	}
}

func TestHTTPRequestEncoding(t *testing.T) {
	ctx := context.Background()

	t.Run("get uses query string", func(t *testing.T) {
		r := &Request{Method: "GET", Path: "/search", Header: http.Header{}, Params: map[string]any{"q": "go"}}
		hr, err := r.HTTPRequest(ctx, "http://upstream:8080/")
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if hr.URL.String() != "http://upstream:8080/search?q=go" {
			t.Fatalf("unexpected url %s", hr.URL)
		}
	})

	t.Run("delete keeps a json body", func(t *testing.T) {
		r := &Request{
			Method: "DELETE",
			Path:   "/items",
			Header: http.Header{"Content-Type": {"application/json"}},
			Params: map[string]any{"ids": []any{int64(1), int64(2)}},
		}
		hr, err := r.HTTPRequest(ctx, "")
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if hr.URL.RawQuery != "" {
			t.Fatalf("params must not move to the query string, got %q", hr.URL.RawQuery)
		}
		b, _ := io.ReadAll(hr.Body)
		if string(b) != `{"ids":[1,2]}` {
			t.Fatalf("unexpected body %s", b)
		}
	})

	t.Run("delete without params has no body", func(t *testing.T) {
		r := &Request{Method: "DELETE", Path: "/orders/9", Header: http.Header{}}
		hr, err := r.HTTPRequest(ctx, "")
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if hr.Body != nil && hr.Body != http.NoBody {
			b, _ := io.ReadAll(hr.Body)
			if len(b) != 0 {
				t.Fatalf("expected empty body, got %s", b)
			}
		}
		if hr.Header.Get("Content-Type") != "" {
			t.Fatalf("unexpected content type %q", hr.Header.Get("Content-Type"))
		}
	})

	t.Run("json stays json", func(t *testing.T) {
		r := &Request{
			Method: "POST",
			Path:   "/orders",
			Header: http.Header{"Content-Type": {"application/json"}, "Content-Length": {"99"}},
			Params: map[string]any{"sku": "A"},
		}
		hr, err := r.HTTPRequest(ctx, "")
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		b, _ := io.ReadAll(hr.Body)
		if string(b) != `{"sku":"A"}` {
			t.Fatalf("unexpected body %s", b)
		}
		if hr.Header.Get("Content-Length") != "" || hr.Header.Get("Content-Type") != "application/json" {
			t.Fatalf("unexpected headers %v", hr.Header)
		}
		if hr.URL.Host != "localhost" {
			t.Fatalf("expected in-process host, got %s", hr.URL.Host)
		}
	})

	t.Run("form without files is urlencoded", func(t *testing.T) {
		r := &Request{
			Method: "PUT",
			Path:   "/users/1",
			Header: http.Header{"Content-Type": {"multipart/form-data; boundary=old"}},
			Params: map[string]any{"user": map[string]any{"name": "Ada"}},
		}
		hr, _ := r.HTTPRequest(ctx, "")
		if err := hr.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if hr.PostForm.Get("user[name]") != "Ada" {
			t.Fatalf("unexpected form %v", hr.PostForm)
		}
	})

	t.Run("uploads become multipart", func(t *testing.T) {
		r := &Request{
			Method:  "POST",
			Path:    "/upload",
			Header:  http.Header{"Content-Type": {"multipart/form-data; boundary=old"}},
			Params:  map[string]any{"data": "test"},
			Uploads: []Upload{{Field: "file", Name: "test.pdf", MimeType: "application/pdf", Data: []byte("pdf")}},
		}
		hr, _ := r.HTTPRequest(ctx, "")
		if err := hr.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if hr.FormValue("data") != "test" {
			t.Fatalf("field lost: %v", hr.MultipartForm.Value)
		}
		fh := hr.MultipartForm.File["file"]
		if len(fh) != 1 || fh[0].Filename != "test.pdf" || fh[0].Header.Get("Content-Type") != "application/pdf" {
			t.Fatalf("file lost: %+v", fh)
		}
	})
}

func TestNewRequestSkipsMissingBlobs(t *testing.T) {
	ctx := context.Background()
	blobs, _ := blob.NewLocal(t.TempDir())
	kept, err := blobs.Store(ctx, strings.NewReader("still here"), "a.txt", "text/plain")
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	rec := retries.Record{
		ID:     4,
		Method: "post",
		URI:    "upload",
		Files: retries.FileTree{
			"kept": {File: &retries.StoredFile{Path: kept, OriginalName: "a.txt", MimeType: "text/plain"}},
			"gone": {File: &retries.StoredFile{Path: blob.Dir + "/missing.txt", OriginalName: "b.txt"}},
		},
	}
	req, err := NewRequest(ctx, rec, blobs)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if req.Method != "POST" || req.Path != "/upload" {
		t.Fatalf("unexpected request line %s %s", req.Method, req.Path)
	}
	if req.Header.Get(retries.ReplayHeader) != "4" {
		t.Fatalf("replay header missing: %v", req.Header)
	}
	if len(req.Uploads) != 1 || req.Uploads[0].Field != "kept" || string(req.Uploads[0].Data) != "still here" {
		t.Fatalf("unexpected uploads %+v", req.Uploads)
	}
}
