package replay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Dispatcher sends a rebuilt request and returns the observed response.
// An error means no response was obtained.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *Request) (*Response, error)
}

// DispatchFault is a dispatch that produced no response. It counts as a
// server error attempt with the fault message as reason.
type DispatchFault struct {
	Err error
}

func (f *DispatchFault) Error() string {
	return fmt.Sprintf("dispatch: %v", f.Err)
}

func (f *DispatchFault) Unwrap() error { return f.Err }

// HandlerDispatcher serves requests in-process through an http.Handler,
// usually the same gin engine the capture middleware is mounted on.
type HandlerDispatcher struct {
	Handler http.Handler
}

func (d HandlerDispatcher) Dispatch(ctx context.Context, req *Request) (resp *Response, err error) {
	// Handlers such as httputil.ReverseProxy fall back to CloseNotify when the
	// context can never be done.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hr, err := req.HTTPRequest(ctx, "")
	if err != nil {
		return nil, err
	}
	hr.RemoteAddr = "127.0.0.1:0"
	hr.RequestURI = hr.URL.RequestURI()

	rec := newRecorder()
	defer func() {
		if p := recover(); p != nil {
			resp, err = nil, fmt.Errorf("handler panic: %v", p)
		}
	}()
	d.Handler.ServeHTTP(rec, hr)
	return rec.response(), nil
}

// ClientDispatcher sends requests over HTTP to BaseURL.
type ClientDispatcher struct {
	BaseURL string
	Client  *http.Client
	// MaxBodyBytes bounds how much of the response body is kept. Zero means 1 MiB.
	MaxBodyBytes int64
}

// NewClientDispatcher returns a ClientDispatcher with a bounded client timeout.
func NewClientDispatcher(baseURL string, timeout time.Duration) *ClientDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ClientDispatcher{BaseURL: baseURL, Client: &http.Client{Timeout: timeout}}
}

func (d *ClientDispatcher) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	hr, err := req.HTTPRequest(ctx, d.BaseURL)
	if err != nil {
		return nil, err
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	limit := d.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: body}, nil
}

// recorder is a minimal http.ResponseWriter that keeps the response in memory.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: http.Header{}}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(b)
}

func (r *recorder) Flush() {}

// CloseNotify never fires: the in-process client cannot go away.
func (r *recorder) CloseNotify() <-chan bool { return make(chan bool) }

func (r *recorder) response() *Response {
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	return &Response{StatusCode: status, Header: r.header, Body: r.body.Bytes()}
}
