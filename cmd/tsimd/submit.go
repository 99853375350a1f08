package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/coremodel"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/frontend"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/progress"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/queue"
)

func newSubmitCmd() *cobra.Command {
	var (
		runID     string
		username  string
		jobType   string
		paramsRaw string
		paramsFile string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Enqueue a new job for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" || username == "" {
				return newInvalidArgsError("--run-id and --username are required")
			}
			jt := coremodel.JobType(jobType)
			if jt != coremodel.JobQuick && jt != coremodel.JobDetailed {
				return newInvalidArgsError("--job-type must be %q or %q", coremodel.JobQuick, coremodel.JobDetailed)
			}

			payload := []byte(paramsRaw)
			if paramsFile != "" {
				data, err := os.ReadFile(paramsFile)
				if err != nil {
					return newInvalidArgsError("reading --params-file: %v", err)
				}
				payload = data
			}
			var params map[string]interface{}
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &params); err != nil {
					return newInvalidArgsError("parsing params JSON: %v", err)
				}
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
			position, err := svc.Submit(runID, username, jt, params)
			if err != nil {
				return err
			}
			fmt.Printf("queued %s at position %d\n", runID, position)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "caller-supplied unique run id")
	cmd.Flags().StringVar(&username, "username", "", "submitting user")
	cmd.Flags().StringVar(&jobType, "job-type", string(coremodel.JobQuick), "job type: quick or detailed")
	cmd.Flags().StringVar(&paramsRaw, "params", "", "job params as a JSON object")
	cmd.Flags().StringVar(&paramsFile, "params-file", "", "path to a JSON file of job params")
	return cmd
}
