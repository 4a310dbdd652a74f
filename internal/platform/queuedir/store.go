// Package queuedir implements store.JobStore on top of a directory tree.
//
// The queue root holds one directory per job state plus a scratch area:
//
//	<root>/queued_jobs/<id>.json
//	<root>/running_jobs/<id>.json
//	<root>/finished_jobs/<id>.json
//	<root>/failed_jobs/<id>.json
//	<root>/tmp/<id>/
//
// Directory membership is the state machine: a record exists in exactly one
// state directory at a time, and every transition is a single os.Rename
// within the same filesystem. Rename atomicity is also the only
// cross-process lock; when two consumers race to claim the same job, the
// rename succeeds for exactly one of them.
package queuedir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mailsift/mailsift/internal/domain"
	"github.com/mailsift/mailsift/internal/store"
)

// State directory names under the queue root.
const (
	queuedDirName   = "queued_jobs"
	runningDirName  = "running_jobs"
	finishedDirName = "finished_jobs"
	failedDirName   = "failed_jobs"
	scratchDirName  = "tmp"

	recordSuffix = ".json"
)

// stateDirs maps each job status to its state directory.
var stateDirs = map[domain.JobStatus]string{
	domain.JobStatusQueued:    queuedDirName,
	domain.JobStatusRunning:   runningDirName,
	domain.JobStatusCompleted: finishedDirName,
	domain.JobStatusFailed:    failedDirName,
}

// statusOrder is the lookup order for Get.
var statusOrder = []domain.JobStatus{
	domain.JobStatusQueued,
	domain.JobStatusRunning,
	domain.JobStatusCompleted,
	domain.JobStatusFailed,
}

// Store is the filesystem implementation of store.JobStore.
type Store struct {
	root string
}

// New creates a Store rooted at the given directory, creating the state
// directories if they do not exist. Returns an error wrapping
// store.ErrQueueUnavailable when the tree cannot be prepared.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: queue root not configured", store.ErrQueueUnavailable)
	}

	for _, dir := range []string{
		queuedDirName, runningDirName, finishedDirName, failedDirName, scratchDirName,
	} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrQueueUnavailable, err)
		}
	}

	return &Store{root: root}, nil
}

// Root returns the queue root directory.
func (s *Store) Root() string {
	return s.root
}

// ScratchRoot returns the directory under which per-job scratch workspaces
// are created.
func (s *Store) ScratchRoot() string {
	return filepath.Join(s.root, scratchDirName)
}

// recordPath returns the path a record occupies while in the given state.
func (s *Store) recordPath(status domain.JobStatus, id string) string {
	return filepath.Join(s.root, stateDirs[status], id+recordSuffix)
}

// Enqueue writes a new record into the queued state. The record is staged
// as a temp file and published with an exclusive link so that a concurrent
// enqueue of the same id cannot overwrite an existing record.
func (s *Store) Enqueue(ctx context.Context, record *domain.JobRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := record.Validate(); err != nil {
		return store.NewStoreError(record.Config.JobID, "enqueue", err)
	}

	id := record.Config.JobID
	for _, status := range statusOrder {
		if _, err := os.Stat(s.recordPath(status, id)); err == nil {
			return store.NewStoreError(id, "enqueue",
				fmt.Errorf("%w: present in %s", store.ErrDuplicateJob, stateDirs[status]))
		}
	}

	record.Runtime = domain.JobRuntime{Status: domain.JobStatusQueued}

	data, err := record.Encode()
	if err != nil {
		return store.NewStoreError(id, "enqueue", err)
	}

	tmp, err := s.stageFile(queuedDirName, data)
	if err != nil {
		return store.NewStoreError(id, "enqueue", err)
	}
	defer func() { _ = os.Remove(tmp) }()

	// Link fails with EEXIST if the id was enqueued concurrently,
	// preserving the uniqueness invariant without a lock.
	if err := os.Link(tmp, s.recordPath(domain.JobStatusQueued, id)); err != nil {
		if os.IsExist(err) {
			return store.NewStoreError(id, "enqueue", store.ErrDuplicateJob)
		}
		return store.NewStoreError(id, "enqueue", fmt.Errorf("%w: %v", store.ErrQueueUnavailable, err))
	}

	return nil
}

// ListQueued returns the ids in the queued state in lexical filename
// order, which is stable across calls.
func (s *Store) ListQueued(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.root, queuedDirName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrQueueUnavailable, err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordSuffix) || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, recordSuffix))
	}

	return ids, nil
}

// Claim atomically moves a record from queued to running. The rename is
// the claim: a concurrent claimant loses the race with ErrJobNotFound and
// must not touch the record afterwards. Records that fail to decode are
// reported with domain.ErrMalformedJob and left in place for FailQueued.
func (s *Store) Claim(ctx context.Context, id string) (*domain.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	record, err := s.load(domain.JobStatusQueued, id)
	if err != nil {
		return nil, store.NewStoreError(id, "claim", err)
	}

	queuedPath := s.recordPath(domain.JobStatusQueued, id)
	runningPath := s.recordPath(domain.JobStatusRunning, id)
	if err := os.Rename(queuedPath, runningPath); err != nil {
		if os.IsNotExist(err) {
			// Another consumer claimed the job between load and rename.
			return nil, store.NewStoreError(id, "claim", store.ErrJobNotFound)
		}
		return nil, store.NewStoreError(id, "claim", fmt.Errorf("%w: %v", store.ErrQueueUnavailable, err))
	}

	now := time.Now().UTC()
	pid := os.Getpid()
	record.Runtime.Status = domain.JobStatusRunning
	record.Runtime.StartTime = &now
	record.Runtime.ProcessID = &pid

	if err := s.rewrite(runningPath, record); err != nil {
		// Put the record back so it stays claimable; the runtime block on
		// disk is still the queued one.
		_ = os.Rename(runningPath, queuedPath)
		return nil, store.NewStoreError(id, "claim", err)
	}

	return record, nil
}

// Complete moves a record from running to finished or failed, merging the
// outcome into its runtime block.
func (s *Store) Complete(ctx context.Context, id string, outcome store.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if outcome.Status != domain.JobStatusCompleted && outcome.Status != domain.JobStatusFailed {
		return store.NewStoreError(id, "complete",
			fmt.Errorf("%w: %q", store.ErrInvalidOutcome, outcome.Status))
	}

	record, err := s.load(domain.JobStatusRunning, id)
	if err != nil {
		return store.NewStoreError(id, "complete", err)
	}

	finish := outcome.FinishTime
	if finish.IsZero() {
		finish = time.Now().UTC()
	}
	record.Runtime.Status = outcome.Status
	record.Runtime.FinishTime = &finish
	record.Runtime.ExitCode = outcome.ExitCode
	record.Runtime.Error = outcome.Error
	record.Runtime.Result = outcome.Result

	runningPath := s.recordPath(domain.JobStatusRunning, id)
	if err := s.rewrite(runningPath, record); err != nil {
		return store.NewStoreError(id, "complete", err)
	}

	if err := os.Rename(runningPath, s.recordPath(outcome.Status, id)); err != nil {
		return store.NewStoreError(id, "complete", fmt.Errorf("%w: %v", store.ErrQueueUnavailable, err))
	}

	return nil
}

// Restore moves a record from running back to queued with a reset runtime
// block. This is the dry-run path and the manual recovery path for jobs
// orphaned by a dead consumer.
func (s *Store) Restore(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	record, err := s.load(domain.JobStatusRunning, id)
	if err != nil {
		return store.NewStoreError(id, "restore", err)
	}

	record.Runtime = domain.JobRuntime{Status: domain.JobStatusQueued}

	runningPath := s.recordPath(domain.JobStatusRunning, id)
	if err := s.rewrite(runningPath, record); err != nil {
		return store.NewStoreError(id, "restore", err)
	}

	if err := os.Rename(runningPath, s.recordPath(domain.JobStatusQueued, id)); err != nil {
		return store.NewStoreError(id, "restore", fmt.Errorf("%w: %v", store.ErrQueueUnavailable, err))
	}

	return nil
}

// FailQueued moves a record directly from queued to failed without it ever
// entering the running state. The document is patched leniently so that a
// structurally invalid (or even non-JSON) record still ends up in
// failed_jobs with a diagnostic runtime block.
func (s *Store) FailQueued(ctx context.Context, id string, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	queuedPath := s.recordPath(domain.JobStatusQueued, id)
	raw, err := os.ReadFile(queuedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return store.NewStoreError(id, "fail_queued", store.ErrJobNotFound)
		}
		return store.NewStoreError(id, "fail_queued", fmt.Errorf("%w: %v", store.ErrQueueUnavailable, err))
	}

	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		// Not even a JSON object; synthesize a config block so the failed
		// record still identifies itself.
		config, _ := json.Marshal(map[string]string{"job_id": id})
		doc = map[string]json.RawMessage{"config": config}
	}

	now := time.Now().UTC()
	runtime, err := json.Marshal(domain.JobRuntime{
		Status:     domain.JobStatusFailed,
		FinishTime: &now,
		Error:      &message,
	})
	if err != nil {
		return store.NewStoreError(id, "fail_queued", err)
	}
	doc["runtime"] = runtime

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return store.NewStoreError(id, "fail_queued", err)
	}

	if err := s.replace(queuedPath, append(data, '\n')); err != nil {
		return store.NewStoreError(id, "fail_queued", err)
	}

	if err := os.Rename(queuedPath, s.recordPath(domain.JobStatusFailed, id)); err != nil {
		return store.NewStoreError(id, "fail_queued", fmt.Errorf("%w: %v", store.ErrQueueUnavailable, err))
	}

	return nil
}

// Get loads a record from whichever state currently holds it.
func (s *Store) Get(ctx context.Context, id string) (*domain.JobRecord, domain.JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	for _, status := range statusOrder {
		record, err := s.load(status, id)
		if err == nil {
			return record, status, nil
		}
		if !errors.Is(err, store.ErrJobNotFound) {
			return nil, status, store.NewStoreError(id, "get", err)
		}
	}

	return nil, "", store.NewStoreError(id, "get", store.ErrJobNotFound)
}

// load reads and decodes a record from one state directory.
func (s *Store) load(status domain.JobStatus, id string) (*domain.JobRecord, error) {
	data, err := os.ReadFile(s.recordPath(status, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrJobNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrQueueUnavailable, err)
	}

	return domain.ParseJobRecord(data)
}

// rewrite replaces the record at path with a freshly encoded document via
// a temp file and rename, so readers never observe a half-written record.
func (s *Store) rewrite(path string, record *domain.JobRecord) error {
	data, err := record.Encode()
	if err != nil {
		return err
	}
	return s.replace(path, data)
}

// replace writes data to a temp file in the destination's directory and
// renames it over the destination.
func (s *Store) replace(path string, data []byte) error {
	tmp, err := s.stageFile(filepath.Base(filepath.Dir(path)), data)
	if err != nil {
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", store.ErrQueueUnavailable, err)
	}

	return nil
}

// stageFile writes data to a hidden temp file inside the given state
// directory and returns its path. Staging in the destination directory
// keeps the final rename on one filesystem.
func (s *Store) stageFile(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Join(s.root, dir), ".stage-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrQueueUnavailable, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("%w: %v", store.ErrQueueUnavailable, err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("%w: %v", store.ErrQueueUnavailable, err)
	}

	return f.Name(), nil
}
