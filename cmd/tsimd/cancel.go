package main

import (
	"fmt"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/frontend"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/progress"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/queue"
)

func newCancelCmd() *cobra.Command {
	var (
		runID string
		by    string
	)
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Request cancellation of a queued or running job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" || by == "" {
				return newInvalidArgsError("--run-id and --by are required")
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
			accepted, err := svc.Cancel(runID, by)
			if err != nil {
				return err
			}
			if accepted {
				fmt.Printf("cancellation requested for %s\n", runID)
			} else {
				fmt.Printf("%s is not active\n", runID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run to cancel")
	cmd.Flags().StringVar(&by, "by", "", "username requesting cancellation")
	return cmd
}
