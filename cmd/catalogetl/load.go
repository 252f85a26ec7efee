package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"catalogetl/internal/datasource"
	"catalogetl/internal/logx"
	"catalogetl/internal/pipeline"
	"catalogetl/internal/skiplog"
)

func (a *app) loadCmd() *cobra.Command {
	var (
		strategy  string
		batchSize int
		skipLog   string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "load <file|-|url>",
		Short: "Ingest one JSON array of products from a file, stdin (\"-\") or an http(s) URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("strategy") {
				a.cfg.Ingest.Strategy = strategy
			}
			if cmd.Flags().Changed("batch-size") {
				a.cfg.Ingest.BatchSize = batchSize
			}
			if cmd.Flags().Changed("skip-log") {
				a.cfg.Ingest.SkipLog = skipLog
			}
			if cmd.Flags().Changed("limit") {
				a.cfg.Ingest.Limit = limit
			}
			return a.load(cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "auto", "upsert strategy: auto, generic or bulk")
	cmd.Flags().IntVar(&batchSize, "batch-size", 512, "records per window")
	cmd.Flags().StringVar(&skipLog, "skip-log", "", "write dropped records to this CSV file")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many accepted records (0 = all)")
	return cmd
}

func (a *app) load(cmd *cobra.Command, src string) error {
	if err := a.checkConfig(cmd); err != nil {
		return err
	}
	log := logx.Component("load")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flush, err := setupMetrics(a.cfg.Metrics)
	if err != nil {
		return err
	}
	defer flush()

	opts, err := a.pipelineOptions()
	if err != nil {
		return err
	}
	if path := a.cfg.Ingest.SkipLog; path != "" {
		sl, err := skiplog.Create(path)
		if err != nil {
			return err
		}
		defer func() {
			if err := sl.Close(); err != nil {
				log.Warn().Err(err).Msg("load: close skip log")
			}
		}()
		opts.SkipLog = sl
	}

	source := datasource.Resolve(src, cmd.InOrStdin(), nil)
	name := source.Name()
	in, err := source.Open(ctx)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := pipeline.Run(ctx, in, store, opts)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records accepted, %d skipped, %d windows, %s read, strategy=%s digest=%s run=%s\n",
		name, res.Accepted, res.Dropped(), res.Windows, humanize.Bytes(uint64(res.Bytes)),
		res.Strategy, res.Digest, res.RunID)
	if res.Truncated {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: stopped at --limit %d; remaining input not read\n", name, a.cfg.Ingest.Limit)
	}
	return nil
}
