package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"catalogetl/internal/storage"
)

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the effective configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.checkConfig(cmd); err != nil {
				return err
			}
			c := a.cfg
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: store=%s strategy=%s batch_size=%d backends=%s\n",
				c.Store.Kind, c.Ingest.Strategy, c.Ingest.BatchSize, strings.Join(storage.ListKinds(), ","))
			return nil
		},
	}
}
