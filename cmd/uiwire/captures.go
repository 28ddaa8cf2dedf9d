package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/uiwire/internal/errors"
)

func capturesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "captures",
		Short: "Manage recorded captures",
		Long: `List and expire the captures in the configured store.

The store is capture.backend in uiwire.json: a local directory
(capture.dir) or an S3 bucket (capture.bucket, capture.prefix).`,
	}
	cmd.AddCommand(capturesListCmd(), capturesCleanupCmd())
	return cmd
}

func capturesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List captures, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			store, err := cfg.CaptureStore()
			if err != nil {
				return err
			}
			infos, err := store.List(cmd.Context())
			if err != nil {
				return errors.New("U042").Wrap(err)
			}

			w := cmd.OutOrStdout()
			if len(infos) == 0 {
				fmt.Fprintln(w, "no captures")
				return nil
			}
			for _, in := range infos {
				fmt.Fprintf(w, "%-60s %10d  %s\n", in.Name, in.Size, in.CreatedAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}

func capturesCleanupCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired captures",
		Long: `Delete captures older than --older-than, or capture.retention
from uiwire.json when the flag is not given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			if olderThan == 0 {
				olderThan = time.Duration(cfg.Capture.Retention)
			}
			if olderThan <= 0 {
				return errors.New("U080").WithDetail("--older-than must be positive")
			}
			store, err := cfg.CaptureStore()
			if err != nil {
				return err
			}
			if err := store.Cleanup(cmd.Context(), olderThan); err != nil {
				return errors.New("U042").Wrap(err)
			}
			success("Removed captures older than %s", olderThan)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age threshold (default capture.retention)")
	return cmd
}
