package progress

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/atomicfile"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/coremodel"
)

// writeTimingFile appends one line to <run>/timing.log, matching the
// Python's plain-text "<phase> <unix-ts> <message>" format SSE consumers
// already parse.
func (t *Tracker) writeTimingFile(runID, phase, message string) {
	path := filepath.Join(t.runPath(runID), "timing.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o664)
	if err != nil {
		logf.Warningf("failed to write timing file for %s: %v", runID, err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s %.6f %s\n", phase, float64(t.clock.Now().UnixNano())/1e9, message)
}

// auditEntry is one line of <run>/audit.log, a JSON-lines file.
type auditEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	Phase     string                 `json:"phase"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func (t *Tracker) writeAuditFile(runID, phase, message string, details map[string]interface{}) {
	path := filepath.Join(t.runPath(runID), "audit.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o664)
	if err != nil {
		logf.Warningf("failed to write audit file for %s: %v", runID, err)
		return
	}
	defer f.Close()

	entry := auditEntry{Timestamp: t.clock.Now(), RunID: runID, Phase: phase, Message: message, Details: details}
	line, err := json.Marshal(entry)
	if err != nil {
		logf.Warningf("failed to marshal audit entry for %s: %v", runID, err)
		return
	}
	f.Write(line)
	f.Write([]byte("\n"))
}

// writeProgressJSON atomically replaces <run>/progress.json with the
// current in-memory record, the file SSE consumers and ReadFileProgress
// prefer over timing.log.
func (t *Tracker) writeProgressJSON(runID string) {
	t.mu.RLock()
	rec, ok := t.records[runID]
	var clone coremodel.ProgressRecord
	if ok {
		clone = rec.Clone()
	}
	t.mu.RUnlock()
	if !ok {
		return
	}

	path := filepath.Join(t.runPath(runID), "progress.json")
	if err := atomicfile.WriteJSON(path, clone, 0o664); err != nil {
		logf.Warningf("failed to write progress.json for %s: %v", runID, err)
	}
}

// ReadFileProgress reconstructs a ProgressRecord from disk for a run not
// resident in this process's in-memory map: it prefers progress.json, and
// falls back to reconstructing a best-effort record from timing.log (the
// Python's _read_file_progress fallback chain).
func (t *Tracker) ReadFileProgress(runID string) (*coremodel.ProgressRecord, error) {
	runPath := t.runPath(runID)
	if _, err := os.Stat(runPath); os.IsNotExist(err) {
		return nil, nil
	}

	var rec coremodel.ProgressRecord
	progressPath := filepath.Join(runPath, "progress.json")
	if err := atomicfile.ReadJSON(progressPath, &rec); err == nil {
		return &rec, nil
	}

	phases, err := readTimingLog(filepath.Join(runPath, "timing.log"))
	if err != nil || len(phases) == 0 {
		return nil, nil
	}

	complete := false
	success := false
	for _, p := range phases {
		switch p.Phase {
		case "COMPLETE":
			complete, success = true, true
		case "FAILED", "ERROR":
			complete = true
		}
	}
	overall := 100
	if !complete {
		overall = len(phases) * 100 / len(expectedPhases)
		if overall > 95 {
			overall = 95
		}
	}

	rec = coremodel.ProgressRecord{
		RunID:           runID,
		StartTime:       phases[0].Timestamp,
		Phases:          phases,
		CurrentPhase:    phases[len(phases)-1].Phase,
		OverallProgress: overall,
		Complete:        complete,
	}
	if complete {
		s := success
		rec.Success = &s
	}
	return &rec, nil
}

func readTimingLog(path string) ([]coremodel.PhaseEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var phases []coremodel.PhaseEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(strings.TrimSpace(scanner.Text()), " ", 3)
		if len(parts) < 2 {
			continue
		}
		secs, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			continue
		}
		entry := coremodel.PhaseEntry{
			Phase:     parts[0],
			Timestamp: time.Unix(0, int64(secs*1e9)),
		}
		if len(parts) > 2 {
			entry.Message = parts[2]
		}
		phases = append(phases, entry)
	}
	return phases, scanner.Err()
}

func elapsedMessage(d time.Duration) string {
	return fmt.Sprintf("total execution time: %.2fs", d.Seconds())
}
