package queue_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/config"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/coremodel"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/queue"
)

func newService(t *testing.T) *queue.Service {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.RunDir = filepath.Join(dir, "runs")
	cfg.LockTimeouts.Queue = time.Second

	s, err := queue.New(cfg, clock.WallClock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Cleanup)
	return s
}

// TestEnqueueFIFOOrder covers §8 P6: with a single producer and consumer,
// PopNext returns jobs in Enqueue order.
func TestEnqueueFIFOOrder(t *testing.T) {
	s := newService(t)

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		pos, err := s.Enqueue(id, "alice", coremodel.JobQuick, nil)
		if err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
		_ = pos
	}

	for _, want := range []string{"run-1", "run-2", "run-3"} {
		job, ok, err := s.PopNext()
		if err != nil || !ok {
			t.Fatalf("PopNext: %v, %v", ok, err)
		}
		if job.RunID != want {
			t.Fatalf("PopNext = %s, want %s", job.RunID, want)
		}
	}

	_, ok, err := s.PopNext()
	if err != nil {
		t.Fatalf("PopNext on empty queue: %v", err)
	}
	if ok {
		t.Fatal("expected empty queue to report ok=false")
	}
}

func TestEnqueueIdempotent(t *testing.T) {
	s := newService(t)

	pos1, err := s.Enqueue("run-1", "alice", coremodel.JobQuick, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	s.Enqueue("run-2", "bob", coremodel.JobQuick, nil)

	pos2, err := s.Enqueue("run-1", "alice", coremodel.JobQuick, nil)
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if pos1 != pos2 {
		t.Fatalf("re-enqueuing an existing run_id should return its existing position: %d != %d", pos1, pos2)
	}

	jobs, err := s.ListJobs()
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 distinct jobs, got %d", len(jobs))
	}
}

// TestHasUserJobRejectsSecondSubmission covers §8 P7 / S4: a user with a
// non-terminal job is rejected from submitting a second one.
func TestHasUserJobRejectsSecondSubmission(t *testing.T) {
	s := newService(t)

	s.Enqueue("run-1", "alice", coremodel.JobQuick, nil)

	has, err := s.HasUserJob("alice")
	if err != nil || !has {
		t.Fatalf("HasUserJob = %v, %v", has, err)
	}

	has, err = s.HasUserJob("bob")
	if err != nil || has {
		t.Fatalf("HasUserJob(bob) = %v, %v", has, err)
	}

	if err := s.UpdateStatus("run-1", coremodel.StatusComplete); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	has, err = s.HasUserJob("alice")
	if err != nil || has {
		t.Fatalf("HasUserJob after completion = %v, %v", has, err)
	}
}

func TestGetPositionAndRemove(t *testing.T) {
	s := newService(t)
	s.Enqueue("run-1", "alice", coremodel.JobQuick, nil)
	s.Enqueue("run-2", "bob", coremodel.JobQuick, nil)

	pos, ok, err := s.GetPosition("run-2")
	if err != nil || !ok || pos != 2 {
		t.Fatalf("GetPosition(run-2) = %d, %v, %v", pos, ok, err)
	}

	removed, err := s.Remove("run-1")
	if err != nil || !removed {
		t.Fatalf("Remove(run-1) = %v, %v", removed, err)
	}

	pos, ok, err = s.GetPosition("run-2")
	if err != nil || !ok || pos != 1 {
		t.Fatalf("GetPosition(run-2) after removal = %d, %v, %v", pos, ok, err)
	}

	removed, err = s.Remove("nonexistent")
	if err != nil || removed {
		t.Fatalf("Remove(nonexistent) = %v, %v", removed, err)
	}
}

func TestCurrentJobMarkerRoundTrip(t *testing.T) {
	s := newService(t)

	_, ok, err := s.GetCurrent()
	if err != nil || ok {
		t.Fatalf("GetCurrent before SetCurrent: %v, %v", ok, err)
	}

	cur := coremodel.CurrentJob{Job: coremodel.Job{RunID: "run-1", Username: "alice", Status: coremodel.StatusRunning}}
	if err := s.SetCurrent(cur); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}

	got, ok, err := s.GetCurrent()
	if err != nil || !ok || got.RunID != "run-1" {
		t.Fatalf("GetCurrent = %+v, %v, %v", got, ok, err)
	}

	if err := s.ClearCurrent(); err != nil {
		t.Fatalf("ClearCurrent: %v", err)
	}
	_, ok, err = s.GetCurrent()
	if err != nil || ok {
		t.Fatalf("GetCurrent after clear: %v, %v", ok, err)
	}
}

// TestCancelQueuedJobWritesMarkers covers §4.C request_cancel's queued path
// and the run.json/cancel.json SUPPLEMENTED FEATURES.
func TestCancelQueuedJobWritesMarkers(t *testing.T) {
	s := newService(t)

	s.Enqueue("run-1", "alice", coremodel.JobQuick, map[string]interface{}{"source": "h1"})

	ok, err := s.Cancel("run-1", "admin")
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}

	_, present, err := s.GetPosition("run-1")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if present {
		t.Fatal("cancelled queued job should be removed from the queue")
	}
}

// TestCancelCurrentJobSetsCooperativeFlag covers §8 P9: cancelling the
// currently-running job sets cancel_requested rather than removing anything
// from the queue.
func TestCancelCurrentJobSetsCooperativeFlag(t *testing.T) {
	s := newService(t)

	cur := coremodel.CurrentJob{Job: coremodel.Job{RunID: "run-1", Username: "alice", Status: coremodel.StatusRunning}}
	if err := s.SetCurrent(cur); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}

	ok, err := s.Cancel("run-1", "admin")
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}

	got, ok, err := s.GetCurrent()
	if err != nil || !ok {
		t.Fatalf("GetCurrent: %v, %v", ok, err)
	}
	if !got.CancelRequested || got.CancelRequestedBy != "admin" {
		t.Fatalf("expected cancel_requested set by admin, got %+v", got)
	}
}

func TestCancelUnknownRunReturnsFalse(t *testing.T) {
	s := newService(t)
	ok, err := s.Cancel("nonexistent", "admin")
	if err != nil || ok {
		t.Fatalf("Cancel(nonexistent) = %v, %v", ok, err)
	}
}
