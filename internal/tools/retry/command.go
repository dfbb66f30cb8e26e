// Package retry holds the cobra commands behind the retry CLI.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-route-retry/internal/app"
	"github.com/imrishuroy/go-route-retry/internal/config"
	"github.com/imrishuroy/go-route-retry/internal/logging"
	"github.com/imrishuroy/go-route-retry/internal/retries"
)

type options struct {
	configPath  string
	ids         []int64
	tag         string
	fingerprint string
	target      string
	timeout     time.Duration
}

// appFactory builds the application for a command. Tests replace it.
type appFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app.App, error)

func defaultFactory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// NewRootCommand returns the `retry` command with its process and migrate subcommands.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultFactory)
}

func newRootCommand(factory appFactory) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "retry",
		Short:         "Replay captured failed requests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file (default ./retry.yaml if present)")

	root.AddCommand(newProcessCommand(opts, factory), newMigrateCommand(opts, factory))
	return root
}

func newProcessCommand(opts *options, factory appFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Replay due pending requests once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, opts, factory)
		},
	}
	f := cmd.Flags()
	f.Int64SliceVar(&opts.ids, "id", nil, "only replay these record ids (repeatable)")
	f.StringVar(&opts.tag, "tag", "", "only replay records carrying this tag")
	f.StringVar(&opts.fingerprint, "fingerprint", "", "only replay the record with this fingerprint")
	f.StringVar(&opts.target, "target", "", "base URL to replay against (default: in-process gateway)")
	f.DurationVar(&opts.timeout, "timeout", 0, "bound the whole batch (0 means no limit)")
	return cmd
}

func newMigrateCommand(opts *options, factory appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the retry table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context(), opts, factory)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.Migrate()
			if errors.Is(err, app.ErrNoMigration) {
				fmt.Fprintf(cmd.OutOrStdout(), "Store %q is provisioned outside this tool; nothing to migrate.\n", a.Config.Store.Driver)
				return nil
			}
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Table %s is up to date.\n", a.Config.TableName)
			return nil
		},
	}
}

func open(ctx context.Context, opts *options, factory appFactory) (*app.App, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	return factory(ctx, cfg, logging.New(cfg.LogLevel))
}

func runProcess(cmd *cobra.Command, opts *options, factory appFactory) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := open(ctx, opts, factory)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	p := a.NewProcessor(opts.target, &printer{out: out, errOut: cmd.ErrOrStderr()})
	res, err := p.Process(ctx, filter(opts))
	if err != nil {
		return err
	}
	if res.Found == 0 {
		tag := opts.tag
		if tag == "" {
			tag = "none"
		}
		fmt.Fprintf(out, "No pending retries found (Tag: %s, IDs: %s).\n", tag, joinIDs(opts.ids))
	}
	return nil
}

func filter(opts *options) retries.Filter {
	return retries.Filter{IDs: opts.ids, Tag: opts.tag, Fingerprint: opts.fingerprint}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// printer reports batch progress on the command's output streams.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
}

func (p *printer) Found(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "Found %d retries to process.\n", n)
}

func (p *printer) Processing(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "Processing retry ID: %d\n", id)
}

func (p *printer) Responded(id int64, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "Retry ID: %d Response: %d\n", id, status)
}

func (p *printer) Faulted(id int64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.errOut, "Retry ID: %d failed.\n", id)
}
