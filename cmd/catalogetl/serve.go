package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"catalogetl/internal/httpapi"
	"catalogetl/internal/logx"
	"catalogetl/internal/skiplog"
)

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload form and POST /upload/",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.HTTP.Addr = addr
			}
			return a.serve(cmd)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8000", "listen address")
	return cmd
}

func (a *app) serve(cmd *cobra.Command) error {
	if err := a.checkConfig(cmd); err != nil {
		return err
	}
	log := logx.Component("serve")

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
		defer sl.Close()
		opts.SkipLog = sl
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := a.openStore(sigCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	h := a.cfg.HTTP
	srv := httpapi.NewServer(httpapi.Config{
		Addr:           h.Addr,
		MaxUploadBytes: h.MaxUploadBytes,
		RatePerSecond:  h.RatePerSecond,
		Burst:          h.Burst,
		Release:        a.cfg.Log.Environment == string(logx.Production),
	}, store, opts).HTTPServer()

	g, ctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		log.Info().Str("addr", h.Addr).Str("store", store.Kind()).Msg("serve: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("serve: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
