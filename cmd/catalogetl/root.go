package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"catalogetl/internal/config"
	"catalogetl/internal/logx"
	"catalogetl/internal/pipeline"
	"catalogetl/internal/storage"
	"catalogetl/internal/upsert"
)

// app carries state shared by the subcommands.
type app struct {
	cfgFile  string
	envFile  string
	logLevel string

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "catalogetl",
		Short:         "Stream product catalog JSON exports into a relational store",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml); default searches ./catalogetl.* and /etc/catalogetl")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level")

	root.AddCommand(a.loadCmd(), a.serveCmd(), a.validateCmd())
	return root
}

// init loads configuration and installs the logger. Invalid log settings
// fall back to defaults so validate can still report them.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Options{File: a.cfgFile, EnvFile: a.envFile})
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg

	env, err := logx.ParseEnvironment(cfg.Log.Environment)
	if err != nil {
		env = logx.Development
	}
	if err := logx.Init(logx.Options{Environment: env, Level: cfg.Log.Level, Writer: cmd.ErrOrStderr()}); err != nil {
		_ = logx.Init(logx.Options{Environment: env, Writer: cmd.ErrOrStderr()})
	}
	return nil
}

// checkConfig prints every issue and fails on errors.
func (a *app) checkConfig(cmd *cobra.Command) error {
	issues := config.Validate(a.cfg)
	for _, iss := range issues {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return fmt.Errorf("configuration is invalid")
	}
	return nil
}

func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	s := a.cfg.Store
	return storage.New(ctx, storage.Config{
		Kind:             s.Kind,
		DSN:              s.DSN,
		AutoCreateSchema: s.AutoCreateSchema,
		MaxConns:         s.MaxConns,
	})
}

func (a *app) pipelineOptions() (pipeline.Options, error) {
	in := a.cfg.Ingest
	mode, err := upsert.ParseMode(in.Strategy)
	if err != nil {
		return pipeline.Options{}, err
	}
	opts := pipeline.DefaultOptions()
	opts.Strategy = mode
	opts.BatchSize = in.BatchSize
	opts.LeadingFlush = in.LeadingFlush
	opts.MinCompleteness = in.MinCompleteness
	opts.ProgressEvery = in.ProgressEvery
	opts.Limit = in.Limit
	if a.cfg.Metrics.Job != "" {
		opts.Job = a.cfg.Metrics.Job
	}
	return opts, nil
}
