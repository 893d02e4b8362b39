package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"voxeltest.ai/internal/persistence/resultdb"
)

func newFailedCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "failed",
		Short: "Show tests that failed in the latest recorded run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.load(cmd)
			if err != nil {
				return err
			}
			db, err := resultdb.Open(filepath.Join(e.cfg.DataDir, "results.db"))
			if err != nil {
				return err
			}
			defer db.Close()

			names, err := db.FailedTests(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, "no failed tests")
				return nil
			}
			for _, n := range names {
				fmt.Fprintln(out, n)
			}
			return nil
		},
	}
}

func newRunsCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recently recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.load(cmd)
			if err != nil {
				return err
			}
			db, err := resultdb.Open(filepath.Join(e.cfg.DataDir, "results.db"))
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range runs {
				status := "ok"
				switch {
				case r.Halted:
					status = "halted"
				case r.FailedRequired > 0:
					status = "failed"
				}
				fmt.Fprintf(out, "%s  %-6s  %s passed, %d required failed, %d optional failed  (%s)\n",
					r.ID, status, humanize.Comma(int64(r.Passed)), r.FailedRequired, r.FailedOptional,
					humanize.Time(r.StartedAt))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to show")
	return cmd
}
