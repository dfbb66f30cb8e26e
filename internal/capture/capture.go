// Package capture records requests that fail with a server error so they can
// be replayed later.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-route-retry/internal/blob"
	"github.com/imrishuroy/go-route-retry/internal/fingerprint"
	"github.com/imrishuroy/go-route-retry/internal/notify"
	"github.com/imrishuroy/go-route-retry/internal/retries"
)

const (
	DefaultMaxRetries   = 3
	DefaultMaxBodyBytes = 32 << 20
)

// Options configures a Capturer.
type Options struct {
	MaxRetries   int   // default for routes without a policy
	DelaySeconds int   // spacing between replay attempts
	MaxBodyBytes int64 // bodies larger than this are not captured
	Logger       *slog.Logger
	Now          func() time.Time
}

// Capturer is the gin middleware that persists failed requests.
type Capturer struct {
	store    retries.Store
	blobs    blob.Storage
	notifier notify.Notifier
	opts     Options
}

// New returns a Capturer. blobs may be nil when uploads never need capturing;
// a request with files then fails to capture.
func New(store retries.Store, blobs blob.Storage, notifier notify.Notifier, opts Options) *Capturer {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Capturer{store: store, blobs: blobs, notifier: notifier, opts: opts}
}

// Handler returns the middleware. Replays (requests carrying retries.ReplayHeader)
// pass straight through and are never captured again.
func (cp *Capturer) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, replay := c.Request.Header[retries.ReplayHeader]; replay {
			c.Next()
			return
		}

		body, snapErr := cp.snapshot(c.Request)

		// A panicking handler is captured as a 500 and the panic is passed on
		// to the recovery middleware that renders it.
		defer func() {
			if p := recover(); p != nil {
				if p != http.ErrAbortHandler {
					cp.after(c, http.StatusInternalServerError, body, snapErr)
				}
				panic(p)
			}
		}()

		c.Next()

		cp.after(c, c.Writer.Status(), body, snapErr)
	}
}

// after captures the request when status is a 5xx.
func (cp *Capturer) after(c *gin.Context, status int, body []byte, snapErr error) {
	if status < http.StatusInternalServerError || status >= 600 {
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	if snapErr != nil {
		cp.report(c.Request, stageErr("snapshot", snapErr))
		return
	}
	if err := cp.capture(ctx, c, body); err != nil {
		cp.report(c.Request, err)
	}
}

// snapshot reads up to MaxBodyBytes of the body and puts an equivalent reader
// back so the handler sees the request unchanged.
func (cp *Capturer) snapshot(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	orig := req.Body
	buf, err := io.ReadAll(io.LimitReader(orig, cp.opts.MaxBodyBytes+1))
	req.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), orig), orig}
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > cp.opts.MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return buf, nil
}

func (cp *Capturer) capture(ctx context.Context, c *gin.Context, body []byte) error {
	req := c.Request

	in, err := parseRequest(req, body)
	if err != nil {
		return stageErr("parse", err)
	}
	defer in.close()

	fp, err := fingerprint.Compute(req.Method, req.URL.Path, in.params)
	if err != nil {
		return stageErr("fingerprint", err)
	}

	existing, err := cp.store.FindPendingByFingerprint(ctx, fp)
	if err != nil {
		return stageErr("dedup", err)
	}
	if existing != nil {
		cp.opts.Logger.Debug("pending retry already exists", "retry_id", existing.ID, "fingerprint", fp)
		return nil
	}

	files, err := cp.storeFiles(ctx, in.uploads)
	if err != nil {
		return stageErr("files", err)
	}

	pol := policyFrom(c)
	maxRetries := pol.MaxRetries
	if maxRetries <= 0 {
		maxRetries = cp.opts.MaxRetries
	}
	tags := retries.NormalizeTags(pol.Tags)
	if len(tags) == 0 && pol.Name != "" {
		tags = []string{pol.Name}
	}

	now := cp.opts.Now()
	rec := &retries.Record{
		Fingerprint:       fp,
		Method:            req.Method,
		URI:               req.URL.Path,
		Headers:           req.Header.Clone(),
		Body:              in.params,
		Files:             files,
		Tags:              tags,
		RetriesCount:      0,
		MaxRetries:        maxRetries,
		RetryDelaySeconds: cp.opts.DelaySeconds,
		NextAttemptAt:     &now,
		Status:            retries.StatusPending,
	}
	if _, err := cp.store.Insert(ctx, rec); err != nil {
		cp.cleanup(ctx, files.Paths())
		return stageErr("insert", err)
	}

	cp.notifier.RequestCaptured(ctx, *rec)
	return nil
}

// storeFiles copies every upload to blob storage and returns the nested tree of
// stored descriptors.
func (cp *Capturer) storeFiles(ctx context.Context, uploads map[string][]*multipart.FileHeader) (retries.FileTree, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	if cp.blobs == nil {
		return nil, fmt.Errorf("request has %d file fields but no blob storage is configured", len(uploads))
	}

	tree := retries.FileTree{}
	for field, headers := range uploads {
		stored := make([]retries.StoredFile, 0, len(headers))
		for _, fh := range headers {
			sf, err := cp.storeFile(ctx, fh)
			if err != nil {
				paths := tree.Paths()
				for _, sf := range stored {
					paths = append(paths, sf.Path)
				}
				cp.cleanup(ctx, paths)
				return nil, err
			}
			stored = append(stored, sf)
		}
		insertFiles(tree, field, stored)
	}
	return tree, nil
}

func (cp *Capturer) storeFile(ctx context.Context, fh *multipart.FileHeader) (retries.StoredFile, error) {
	f, err := fh.Open()
	if err != nil {
		return retries.StoredFile{}, fmt.Errorf("open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()

	mimeType := fh.Header.Get("Content-Type")
	path, err := cp.blobs.Store(ctx, f, fh.Filename, mimeType)
	if err != nil {
		return retries.StoredFile{}, fmt.Errorf("store upload %q: %w", fh.Filename, err)
	}
	return retries.StoredFile{Path: path, OriginalName: fh.Filename, MimeType: mimeType}, nil
}

func (cp *Capturer) cleanup(ctx context.Context, paths []string) {
	if cp.blobs == nil {
		return
	}
	for _, p := range paths {
		if err := cp.blobs.Delete(ctx, p); err != nil {
			cp.opts.Logger.Warn("failed to delete captured file", "path", p, "err", err)
		}
	}
}

// insertFiles places stored files at the nesting path of field.
func insertFiles(tree retries.FileTree, field string, stored []retries.StoredFile) {
	segs := splitKey(field)
	parent := tree
	for _, s := range segs[:len(segs)-1] {
		node, ok := parent[s]
		if !ok || node.Children == nil {
			node = &retries.FileNode{Children: retries.FileTree{}}
			parent[s] = node
		}
		parent = node.Children
	}

	leaf := segs[len(segs)-1]
	if len(stored) == 1 && !strings.HasSuffix(leaf, "[]") {
		f := stored[0]
		parent[leaf] = &retries.FileNode{File: &f}
		return
	}
	parent[leaf] = &retries.FileNode{List: stored}
}

func (cp *Capturer) report(req *http.Request, err error) {
	cp.opts.Logger.Error("failed to capture retryable request",
		"method", req.Method, "path", req.URL.Path, "err", err)
}
