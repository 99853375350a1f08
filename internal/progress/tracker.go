// Package progress implements the Progress Tracker of spec.md §4.D: a
// single in-memory authoritative store of per-run phase events, mirrored to
// timing.log/audit.log/progress.json files for consumers outside the
// tracker's own process (grounded on
// _examples/original_source/wsgi/services/tsim_progress_tracker.py).
package progress

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/coremodel"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/logger"
)

var logf = logger.Get("progress")

// expectedPhases is the default phase list used to estimate
// overall_progress before a run calls SetExpectedSteps with a more precise
// count (carried over from the Python's expected_phases).
var expectedPhases = []string{
	"START", "parse_args",
	"MULTI_REACHABILITY_PHASE1_start", "MULTI_REACHABILITY_PHASE1_trace_load",
	"MULTI_REACHABILITY_PHASE1_complete",
	"MULTI_REACHABILITY_PHASE2_start", "MULTI_REACHABILITY_PHASE2_host_list",
	"MULTI_REACHABILITY_PHASE2_host_setup_start", "MULTI_REACHABILITY_PHASE2_hosts_complete",
	"MULTI_REACHABILITY_PHASE2_service_check", "MULTI_REACHABILITY_PHASE2_services_start",
	"MULTI_REACHABILITY_PHASE2_complete",
	"MULTI_REACHABILITY_PHASE3_start", "MULTI_REACHABILITY_PHASE3_complete",
	"MULTI_REACHABILITY_PHASE4_start", "MULTI_REACHABILITY_PHASE4_complete",
	"PDF_GENERATION", "PDF_COMPLETE", "COMPLETE",
}

// Tracker is the Progress Tracker: an in-memory map of run_id ->
// *coremodel.ProgressRecord guarded by a single RWMutex, with file mirrors
// written under runDir/<run_id>/ for cross-process SSE-style consumers.
type Tracker struct {
	clock  clock.Clock
	runDir string

	mu         sync.RWMutex
	records    map[string]*coremodel.ProgressRecord
	activeRuns map[string]string // username -> run_id
}

// New constructs a Tracker rooted at runDir, creating it if necessary.
func New(runDir string, clk clock.Clock) (*Tracker, error) {
	if clk == nil {
		clk = clock.WallClock
	}
	if err := os.MkdirAll(runDir, 0o775); err != nil {
		return nil, err
	}
	return &Tracker{
		clock:      clk,
		runDir:     runDir,
		records:    make(map[string]*coremodel.ProgressRecord),
		activeRuns: make(map[string]string),
	}, nil
}

func (t *Tracker) runPath(runID string) string { return filepath.Join(t.runDir, runID) }

// CreateRunDirectory creates runID's run directory and initializes its
// in-memory progress record with the default expected-steps estimate.
func (t *Tracker) CreateRunDirectory(runID string) error {
	if err := os.MkdirAll(t.runPath(runID), 0o775); err != nil {
		return err
	}

	now := t.clock.Now()
	t.mu.Lock()
	t.records[runID] = &coremodel.ProgressRecord{
		RunID:         runID,
		StartTime:     now,
		CurrentPhase:  "START",
		ExpectedSteps: len(expectedPhases),
	}
	t.mu.Unlock()

	t.writeTimingFile(runID, "START", "test execution started")
	t.writeAuditFile(runID, "START", "test execution started", nil)
	return nil
}

// LogPhase appends a phase entry to runID's progress record and recomputes
// overall_progress, then mirrors the update to timing.log, audit.log and
// progress.json. A COMPLETE phase sets overall_progress to 100 and success
// true; ERROR/FAILED set it to 100 and mark completion with success false.
// Once a run is complete, later phases leave overall_progress at 100 (§8 P8
// progress monotonicity).
func (t *Tracker) LogPhase(runID, phase, message string, details map[string]interface{}) {
	timestamp := t.clock.Now()

	t.mu.Lock()
	rec, ok := t.records[runID]
	if !ok {
		t.mu.Unlock()
		logf.Warningf("run %s not found in progress tracker", runID)
		return
	}
	rec.Phases = append(rec.Phases, coremodel.PhaseEntry{
		Phase:     phase,
		Timestamp: timestamp,
		Message:   message,
		Details:   details,
	})
	rec.CurrentPhase = phase

	switch phase {
	case "COMPLETE":
		rec.OverallProgress = 100
		rec.Complete = true
		rec.Success = boolPtr(true)
	case "ERROR", "FAILED":
		rec.OverallProgress = 100
		rec.Complete = true
		rec.Success = boolPtr(false)
		if message != "" {
			rec.Error = message
		}
	default:
		if !rec.Complete {
			expected := rec.ExpectedSteps
			if expected <= 0 {
				expected = len(expectedPhases)
			}
			completed := len(rec.Phases)
			pct := 100 * completed / expected
			if pct > 99 {
				pct = 99
			}
			rec.OverallProgress = pct
		}
	}
	t.mu.Unlock()

	t.writeTimingFile(runID, phase, message)
	t.writeAuditFile(runID, phase, message, details)
	t.writeProgressJSON(runID)
}

// GetProgress returns a deep-copied snapshot of runID's progress record, or
// falls back to ReadFileProgress if the run is not resident in memory
// (process restart, or the reader is not the leader process holding the
// authoritative in-memory copy).
func (t *Tracker) GetProgress(runID string) (*coremodel.ProgressRecord, error) {
	t.mu.RLock()
	rec, ok := t.records[runID]
	t.mu.RUnlock()
	if ok {
		clone := rec.Clone()
		return &clone, nil
	}
	return t.ReadFileProgress(runID)
}

// SetExpectedSteps overrides runID's expected step count (used once a job
// knows its real phase count, e.g. scaled by the number of source hosts),
// recalculating overall_progress with the new denominator.
func (t *Tracker) SetExpectedSteps(runID string, expectedSteps int) {
	if expectedSteps < 1 {
		expectedSteps = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[runID]
	if !ok {
		return
	}
	rec.ExpectedSteps = expectedSteps
	if !rec.Complete {
		pct := 100 * len(rec.Phases) / expectedSteps
		if pct > 99 {
			pct = 99
		}
		rec.OverallProgress = pct
	}
}

// GetAllProgress returns a snapshot of every in-memory progress record,
// keyed by run_id.
func (t *Tracker) GetAllProgress() map[string]coremodel.ProgressRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]coremodel.ProgressRecord, len(t.records))
	for k, v := range t.records {
		out[k] = v.Clone()
	}
	return out
}

// SetPDFURL records the produced PDF's file path and derives its URL,
// matching the Python's runDir-relative "/pdf?file=..." convention.
func (t *Tracker) SetPDFURL(runID, pdfPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[runID]
	if !ok {
		return
	}
	rec.PDFFile = pdfPath
	rec.PDFURL = pdfURLFor(t.runDir, pdfPath)
}

func pdfURLFor(runDir, pdfPath string) string {
	rel, err := filepath.Rel(runDir, pdfPath)
	if err != nil || rel == "" {
		return ""
	}
	return "/pdf?file=" + rel
}

// GetActiveRunForUser returns username's active (not-yet-complete) run_id,
// cleaning up stale or completed entries as it goes.
func (t *Tracker) GetActiveRunForUser(username string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	runID, ok := t.activeRuns[username]
	if !ok {
		return "", false
	}
	rec, known := t.records[runID]
	if known && !rec.Complete {
		return runID, true
	}
	delete(t.activeRuns, username)
	return "", false
}

// SetActiveRunForUser records runID as username's active run.
func (t *Tracker) SetActiveRunForUser(username, runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activeRuns[username] = runID
}

// ClearActiveRunForUser removes username's active-run marker, if any.
func (t *Tracker) ClearActiveRunForUser(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.activeRuns, username)
}

// MarkComplete finalizes runID's progress record: sets complete/success,
// optionally records a PDF file and error, clears any user's active-run
// marker pointing at it, and logs the terminal COMPLETE/FAILED phase plus a
// TOTAL phase reporting elapsed wall-clock time.
func (t *Tracker) MarkComplete(runID string, success bool, pdfFile, errMsg string) {
	var startTime time.Time
	t.mu.Lock()
	rec, ok := t.records[runID]
	if ok {
		rec.Complete = true
		rec.Success = boolPtr(success)
		rec.OverallProgress = 100
		if pdfFile != "" {
			rec.PDFFile = pdfFile
			rec.PDFURL = pdfURLFor(t.runDir, pdfFile)
		}
		if errMsg != "" {
			rec.Error = errMsg
		}
		startTime = rec.StartTime
		for username, active := range t.activeRuns {
			if active == runID {
				delete(t.activeRuns, username)
			}
		}
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	t.writeProgressJSON(runID)

	phase := "COMPLETE"
	message := "test completed successfully"
	details := map[string]interface{}{}
	if !success {
		phase = "FAILED"
		if errMsg == "" {
			errMsg = "unknown error"
		}
		message = "test failed: " + errMsg
	}
	if pdfFile != "" {
		details["pdf_file"] = pdfFile
	}
	t.LogPhase(runID, phase, message, details)

	if success {
		elapsed := t.clock.Now().Sub(startTime)
		t.LogPhase(runID, "TOTAL", elapsedMessage(elapsed), details)
	}
}

func boolPtr(b bool) *bool { return &b }
