package main

import (
	"encoding/json"
	"os"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/frontend"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/progress"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/queue"
)

func newProgressCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Print the progress record for a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return newInvalidArgsError("--run-id is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return newInvalidArgsError("loading config: %v", err)
			}
			clk := clock.WallClock
			q, err := queue.New(cfg, clk)
			if err != nil {
				return err
			}
			defer q.Cleanup()
			prog, err := progress.New(cfg.RunDir, clk)
			if err != nil {
				return err
			}

			svc := frontend.New(q, prog)
			rec, err := svc.Progress(runID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run to report on")
	return cmd
}
