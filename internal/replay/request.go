package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/imrishuroy/go-route-retry/internal/blob"
	"github.com/imrishuroy/go-route-retry/internal/retries"
)

// Upload is a stored file re-attached to a replayed request.
type Upload struct {
	Field    string
	Name     string
	MimeType string
	Data     []byte
}

// Request is a captured request rebuilt for dispatch.
type Request struct {
	ID      int64
	Method  string
	Path    string
	Header  http.Header
	Params  map[string]any
	Uploads []Upload
}

// Response is what a dispatcher observed.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewRequest rebuilds rec. Files whose blobs no longer exist are left out.
func NewRequest(ctx context.Context, rec retries.Record, blobs blob.Storage) (*Request, error) {
	req := &Request{
		ID:     rec.ID,
		Method: strings.ToUpper(rec.Method),
		Path:   "/" + strings.TrimLeft(rec.URI, "/"),
		Header: http.Header{},
		Params: rec.Body,
	}
	for k, vs := range rec.Headers {
		req.Header[textproto.CanonicalMIMEHeaderKey(k)] = append([]string(nil), vs...)
	}
	req.Header.Set(retries.ReplayHeader, strconv.FormatInt(rec.ID, 10))

	if rec.Files.Len() == 0 {
		return req, nil
	}
	if blobs == nil {
		return nil, errors.New("record has stored files but no blob storage is configured")
	}

	var readErr error
	rec.Files.Walk(func(field string, f retries.StoredFile) {
		if readErr != nil {
			return
		}
		rc, err := blobs.Read(ctx, f.Path)
		if errors.Is(err, blob.ErrNotExist) {
			return
		}
		if err != nil {
			readErr = fmt.Errorf("read stored file %s: %w", f.Path, err)
			return
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			readErr = fmt.Errorf("read stored file %s: %w", f.Path, err)
			return
		}
		req.Uploads = append(req.Uploads, Upload{Field: field, Name: f.OriginalName, MimeType: f.MimeType, Data: data})
	})
	if readErr != nil {
		return nil, readErr
	}
	return req, nil
}

// bodyInQuery reports whether params travel in the query string for method.
func bodyInQuery(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead:
		return true
	}
	return false
}

// HTTPRequest encodes r as an *http.Request against baseURL ("" for in-process).
// GET and HEAD carry params in the query string. Other methods, DELETE included,
// send JSON when the original request was JSON and has no files, multipart when
// files are attached, nothing when there are no params and a urlencoded form
// otherwise.
func (r *Request) HTTPRequest(ctx context.Context, baseURL string) (*http.Request, error) {
	target := strings.TrimRight(baseURL, "/") + r.Path
	header := r.Header.Clone()
	header.Del("Content-Length")

	var body io.Reader
	switch {
	case bodyInQuery(r.Method):
		if q := flatten(r.Params).Encode(); q != "" {
			target += "?" + q
		}
	case len(r.Uploads) > 0:
		b, contentType, err := r.multipart()
		if err != nil {
			return nil, err
		}
		body = b
		header.Set("Content-Type", contentType)
	case r.isJSON():
		b, err := json.Marshal(r.params())
		if err != nil {
			return nil, fmt.Errorf("encode json body: %w", err)
		}
		body = bytes.NewReader(b)
	case len(r.Params) == 0:
		// nothing to send
	default:
		body = strings.NewReader(flatten(r.Params).Encode())
		header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	if baseURL == "" {
		target = "http://localhost" + target
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header = header
	if host := header.Get("Host"); host != "" && baseURL == "" {
		req.Host = host
	}
	return req, nil
}

func (r *Request) params() map[string]any {
	if r.Params == nil {
		return map[string]any{}
	}
	return r.Params
}

func (r *Request) isJSON() bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func (r *Request) multipart() (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	values := flatten(r.Params)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range values[k] {
			if err := mw.WriteField(k, v); err != nil {
				return nil, "", fmt.Errorf("write field %s: %w", k, err)
			}
		}
	}

	for _, u := range r.Uploads {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(u.Field), escapeQuotes(u.Name)))
		mimeType := u.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		h.Set("Content-Type", mimeType)
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create part %s: %w", u.Field, err)
		}
		if _, err := w.Write(u.Data); err != nil {
			return nil, "", fmt.Errorf("write part %s: %w", u.Field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// flatten turns nested params back into form fields: {"user": {"name": "x"}}
// becomes user[name]=x and list values repeat their field.
func flatten(params map[string]any) url.Values {
	out := url.Values{}
	flattenInto(out, "", params)
	return out
}

func flattenInto(out url.Values, prefix string, params map[string]any) {
	for k, v := range params {
		addValue(out, retries.FieldName(prefix, k), v)
	}
}

func addValue(out url.Values, field string, v any) {
	switch t := v.(type) {
	case map[string]any:
		flattenInto(out, field, t)
	case []any:
		for i, item := range t {
			switch item.(type) {
			case map[string]any, []any:
				addValue(out, strings.TrimSuffix(field, "[]")+"["+strconv.Itoa(i)+"]", item)
			default:
				out.Add(field, scalar(item))
			}
		}
	default:
		out.Add(field, scalar(v))
	}
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
