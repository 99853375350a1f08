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

func newQueueCmd() *cobra.Command {
	var current bool
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List queued jobs, or the job currently running with --current",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			if current {
				job, ok, err := svc.GetCurrent()
				if err != nil {
					return err
				}
				if !ok {
					os.Stdout.WriteString("null\n")
					return nil
				}
				return enc.Encode(job)
			}

			jobs, err := svc.ListQueue()
			if err != nil {
				return err
			}
			return enc.Encode(jobs)
		},
	}
	cmd.Flags().BoolVar(&current, "current", false, "show the job presently dispatched to the worker pool instead of the queue")
	return cmd
}
