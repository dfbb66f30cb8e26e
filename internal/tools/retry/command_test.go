package retry

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-route-retry/internal/app"
	"github.com/imrishuroy/go-route-retry/internal/config"
	"github.com/imrishuroy/go-route-retry/internal/retries"
)

func TestNewRootCommandStructure(t *testing.T) {
	cmd := NewRootCommand()
	if cmd.Use != "retry" {
		t.Fatalf("unexpected root use: %s", cmd.Use)
	}
	for _, name := range []string{"process", "migrate"} {
		if c, _, err := cmd.Find([]string{name}); err != nil || c == nil {
			t.Fatalf("expected subcommand %q: err=%v", name, err)
		}
	}
	process, _, _ := cmd.Find([]string{"process"})
	for _, flag := range []string{"id", "tag", "fingerprint", "target", "timeout"} {
		if process.Flags().Lookup(flag) == nil {
			t.Fatalf("expected --%s on process", flag)
		}
	}
}

func writeConfig(t *testing.T, driver, dsn string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "retry.yaml")
	content := "log_level: error\n" +
		"store:\n  driver: " + driver + "\n  dsn: \"" + dsn + "\"\n" +
		"storage:\n  local_root: " + filepath.Join(dir, "blobs") + "\n" +
		"notify:\n  log: false\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// seededFactory builds the app and inserts one pending record per tag.
func seededFactory(tags ...string) appFactory {
	return func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app.App, error) {
		gin.SetMode(gin.TestMode)
		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		for _, tag := range tags {
			rec := &retries.Record{
				Method:     http.MethodPost,
				URI:        "/payments",
				Body:       map[string]any{"tag": tag},
				Tags:       []string{tag},
				MaxRetries: 3,
			}
			if _, err := a.Store.Insert(ctx, rec); err != nil {
				return nil, err
			}
		}
		return a, nil
	}
}

func execute(t *testing.T, factory appFactory, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(factory)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestProcessPrintsProgress(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(retries.ReplayHeader) == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	cfg := writeConfig(t, "memory", "")
	out, _, err := execute(t, seededFactory("billing", "shipping"), "--config", cfg, "process", "--target", target.URL, "--tag", "billing")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	for _, want := range []string{
		"Found 1 retries to process.",
		"Processing retry ID: 1",
		"Retry ID: 1 Response: 200",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Processing retry ID: 2") {
		t.Fatalf("record 2 should not be processed:\n%s", out)
	}
}

func TestProcessNothingFound(t *testing.T) {
	cfg := writeConfig(t, "memory", "")
	out, _, err := execute(t, seededFactory(), "--config", cfg, "process", "--id", "4", "--id", "7")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if want := "No pending retries found (Tag: none, IDs: 4,7)."; !strings.Contains(out, want) {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestProcessReportsDispatchFault(t *testing.T) {
	target := httptest.NewServer(http.NotFoundHandler())
	url := target.URL
	target.Close()

	cfg := writeConfig(t, "memory", "")
	out, errOut, err := execute(t, seededFactory("billing"), "--config", cfg, "process", "--target", url)
	if err != nil {
		t.Fatalf("a failed dispatch should not fail the command: %v", err)
	}
	if !strings.Contains(out, "Found 1 retries") || !strings.Contains(errOut, "Retry ID: 1 failed.") {
		t.Fatalf("unexpected output:\nstdout=%s\nstderr=%s", out, errOut)
	}
}

func TestMigrate(t *testing.T) {
	cfg := writeConfig(t, "sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	out, _, err := execute(t, defaultFactory, "--config", cfg, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "Table request_retries is up to date.") {
		t.Fatalf("unexpected output %q", out)
	}

	cfg = writeConfig(t, "memory", "")
	out, _, err = execute(t, defaultFactory, "--config", cfg, "migrate")
	if err != nil || !strings.Contains(out, "nothing to migrate") {
		t.Fatalf("unexpected memory migrate result %q %v", out, err)
	}
}
