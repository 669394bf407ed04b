package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/harness"
	"github.com/roach88/treesync/internal/metrics"
	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/query"
	"github.com/roach88/treesync/internal/remote"
	"github.com/roach88/treesync/internal/view"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	OrderBy      string
	StartAt      string
	EndAt        string
	EqualTo      string
	LimitToFirst int
	LimitToLast  int
	Watch        bool
}

// QueryResult is the JSON payload of one query answer.
type QueryResult struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <data-file> <path>",
		Short: "Answer a query against a data file",
		Long: `Load a JSON or YAML data file into an in-memory server and run a query
against it through the engine.

Bound values are parsed as YAML scalars: 10 is a number, true is a
boolean, anything else is a string. With --watch the command keeps a
value listener open and prints every change until interrupted.

The --config file sets the endpoint, cache and metrics settings.

Examples:
  treesync query scores.json /scores --order-by child:score --limit-to-last 3
  treesync query users.yaml /users --order-by key --start-at b --end-at d
  treesync query users.yaml /users --watch --config treesync.cue`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.OrderBy, "order-by", "", "key, priority, value or child:<path>")
	cmd.Flags().StringVar(&opts.StartAt, "start-at", "", "lower bound (inclusive)")
	cmd.Flags().StringVar(&opts.EndAt, "end-at", "", "upper bound (inclusive)")
	cmd.Flags().StringVar(&opts.EqualTo, "equal-to", "", "exact match")
	cmd.Flags().IntVar(&opts.LimitToFirst, "limit-to-first", 0, "keep the first n children")
	cmd.Flags().IntVar(&opts.LimitToLast, "limit-to-last", 0, "keep the last n children")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "print the value on every change until interrupted")

	return cmd
}

func runQuery(opts *QueryOptions, dataFile, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(opts.RootOptions, cfg.LogLevel(), formatter.GetErrWriter())

	data, err := loadData(dataFile)
	if err != nil {
		_ = formatter.Error(ErrCodeQuery, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load data", err)
	}
	spec, err := opts.querySpec()
	if err != nil {
		_ = formatter.Error(ErrCodeQuery, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid query bounds", err)
	}

	lb := remote.NewLoopback()
	lb.Set(node.Root(), data)

	m := metrics.New()
	engineOpts := []engine.EngineOption{engine.WithLogger(logger), engine.WithMetrics(m)}
	engineOpts = append(engineOpts, cfg.EngineOptions()...)

	cache, err := cfg.OpenCache()
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open cache", err)
	}
	if cache != nil {
		defer func() {
			if closeErr := cache.Close(); closeErr != nil {
				logger.Error("error closing cache", "error", closeErr)
			}
		}()
		engineOpts = append(engineOpts, engine.WithCache(cache))
	}

	eng, err := engine.New(cfg.Endpoint, lb.Conn(), engineOpts...)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to create engine", err)
	}

	q, err := harness.BuildQuery(eng, path, spec)
	if err != nil {
		_ = formatter.Error(ErrCodeQuery, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid query", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, m, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	if opts.Watch {
		return watchQuery(ctx, cancel, eng, q, formatter, done)
	}

	f, err := eng.Get(q)
	if err != nil {
		_ = formatter.Error(ErrCodeQuery, err.Error(), nil)
		return WrapExitError(ExitFailure, "query failed", err)
	}
	snap, err := f.Wait(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeQuery, err.Error(), nil)
		return WrapExitError(ExitFailure, "query failed", err)
	}
	cancel()
	<-done

	return printSnapshot(formatter, q.Path().String(), snap)
}

// watchQuery prints the value on every change until ctx ends. A listen the
// server cancels ends the watch with an error.
func watchQuery(ctx context.Context, cancel context.CancelFunc, eng *engine.Engine, q query.Query, formatter *OutputFormatter, done <-chan error) error {
	var cancelErr error
	_, err := eng.On(q, view.EventValue, func(snap view.Snapshot, _ string) {
		_ = printSnapshot(formatter, q.Path().String(), snap)
	}, engine.WithCancel(func(err error) {
		cancelErr = err
		cancel()
	}))
	if err != nil {
		_ = formatter.Error(ErrCodeQuery, err.Error(), nil)
		return WrapExitError(ExitFailure, "watch failed", err)
	}

	<-ctx.Done()
	<-done

	// The cancel callback ran on the engine goroutine, which has returned.
	if cancelErr != nil {
		_ = formatter.Error(ErrCodeQuery, cancelErr.Error(), nil)
		return WrapExitError(ExitFailure, "listen cancelled", cancelErr)
	}
	return nil
}

func printSnapshot(formatter *OutputFormatter, path string, snap view.Snapshot) error {
	return formatter.Lines([]string{snap.Node().String()}, QueryResult{Path: path, Value: snap.ExportVal()})
}

// querySpec turns the flags into the harness query description.
func (o *QueryOptions) querySpec() (*harness.QuerySpec, error) {
	spec := &harness.QuerySpec{
		OrderBy:      o.OrderBy,
		LimitToFirst: o.LimitToFirst,
		LimitToLast:  o.LimitToLast,
	}
	for _, b := range []struct {
		flag string
		raw  string
		dst  *any
	}{
		{"start-at", o.StartAt, &spec.StartAt},
		{"end-at", o.EndAt, &spec.EndAt},
		{"equal-to", o.EqualTo, &spec.EqualTo},
	} {
		if b.raw == "" {
			continue
		}
		v, err := parseScalar(b.raw)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", b.flag, err)
		}
		*b.dst = v
	}
	return spec, nil
}

// parseScalar reads a flag value as a YAML scalar.
func parseScalar(raw string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case string, bool, int, float64, nil:
		return v, nil
	default:
		return nil, fmt.Errorf("%q is not a scalar", raw)
	}
}

// loadData reads a JSON or YAML data file. JSON is valid YAML.
func loadData(path string) (*node.Node, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parse data %s: %w", path, err)
	}
	n, err := node.FromValue(v)
	if err != nil {
		return nil, fmt.Errorf("data %s: %w", path, err)
	}
	return n, nil
}
