package testrunner

import (
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/juju/errors"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/logger"
)

var logf = logger.Get("testrunner")

// ShellRunner is the default Runner: it shells out to a fixed set of
// scripts under scriptDir, one per capability, mirroring how
// _examples/original_source invokes `ip netns`/`iptables`/the simulator
// CLI via subprocess rather than linking against them. The core never
// parses namespace or iptables internals itself -- it only runs a script
// and interprets its exit code and, for ReadCounters and RunTest, its JSON
// stdout.
type ShellRunner struct {
	scriptDir string
}

// NewShellRunner constructs a ShellRunner rooted at scriptDir.
func NewShellRunner(scriptDir string) *ShellRunner {
	return &ShellRunner{scriptDir: scriptDir}
}

func (r *ShellRunner) script(name string) string {
	return filepath.Join(r.scriptDir, name)
}

func (r *ShellRunner) run(ctx context.Context, script string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, script, args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return out, errors.Annotatef(err, "%s exited %d: %s", script, exitErr.ExitCode(), exitErr.Stderr)
		}
		return out, errors.Annotatef(err, "running %s", script)
	}
	return out, nil
}

// CreateHost implements Runner.
func (r *ShellRunner) CreateHost(ctx context.Context, name, ip, router, mac string) error {
	_, err := r.run(ctx, r.script("create_host.sh"), name, ip, router, mac)
	return err
}

// DeleteHost implements Runner.
func (r *ShellRunner) DeleteHost(ctx context.Context, name string) error {
	_, err := r.run(ctx, r.script("delete_host.sh"), name)
	return err
}

// InstallRules implements Runner. The -n flag selects the non-destructive
// mode required by §4.F.1 step 3 / §4.F.2 step 1.
func (r *ShellRunner) InstallRules(ctx context.Context, router string, dscp int) error {
	_, err := r.run(ctx, r.script("install_rules.sh"), "-n", router, strconv.Itoa(dscp))
	return err
}

// RemoveRules implements Runner.
func (r *ShellRunner) RemoveRules(ctx context.Context, router string, dscp int) error {
	_, err := r.run(ctx, r.script("remove_rules.sh"), "-n", router, strconv.Itoa(dscp))
	return err
}

// ReadCounters implements Runner, parsing the script's JSON object stdout
// into a flat counter map.
func (r *ShellRunner) ReadCounters(ctx context.Context, router string) (map[string]int64, error) {
	out, err := r.run(ctx, r.script("read_counters.sh"), router)
	if err != nil {
		return nil, err
	}
	var counters map[string]int64
	if err := json.Unmarshal(out, &counters); err != nil {
		return nil, errors.Annotatef(err, "parsing counters for %s", router)
	}
	return counters, nil
}

// RunTest implements Runner. dscp, when non-nil, is passed as a `-dscp`
// flag so the script can tag its generated traffic for a quick job; a nil
// dscp (detailed job) omits the flag.
func (r *ShellRunner) RunTest(ctx context.Context, job Job, dscp *int) (Result, error) {
	args := []string{"-run-id", job.RunID}
	if dscp != nil {
		args = append(args, "-dscp", strconv.Itoa(*dscp))
	}
	payload, err := json.Marshal(job.Params)
	if err != nil {
		return Result{}, errors.Annotate(err, "encoding test params")
	}
	args = append(args, string(payload))

	out, runErr := r.run(ctx, r.script("run_test.sh"), args...)
	if runErr != nil {
		logf.Warningf("run_test.sh failed for %s: %v", job.RunID, runErr)
		return Result{Success: false, Message: runErr.Error()}, nil
	}

	var result Result
	if err := json.Unmarshal(out, &result); err != nil {
		return Result{}, errors.Annotatef(err, "parsing test result for %s", job.RunID)
	}
	return result, nil
}
