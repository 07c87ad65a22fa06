package models

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job status values.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job represents an async operation (delete-tree, move) started through the job server.
type Job struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"` // "delete-tree", "move"
	Target     string      `json:"target"`
	Status     string      `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Error      string      `json:"error,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	Output     []string    `json:"output"`

	mu      sync.Mutex
	partial []byte
	cancel  context.CancelFunc
}

// AppendLog adds a log line to the job output.
func (j *Job) AppendLog(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Output = append(j.Output, line)
}

// Write implements io.Writer so a job can back a slog handler. Output is
// split on newlines; a trailing partial line is held until completed.
func (j *Job) Write(p []byte) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.partial = append(j.partial, p...)
	for {
		i := bytes.IndexByte(j.partial, '\n')
		if i < 0 {
			break
		}
		j.Output = append(j.Output, string(j.partial[:i]))
		j.partial = j.partial[i+1:]
	}
	return len(p), nil
}

// LogsSince returns log lines starting from the given index.
func (j *Job) LogsSince(offset int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if offset >= len(j.Output) {
		return nil
	}
	lines := make([]string, len(j.Output)-offset)
	copy(lines, j.Output[offset:])
	return lines
}

// CurrentStatus returns the job status under the lock.
func (j *Job) CurrentStatus() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status
}

// Done reports whether the job reached a terminal status.
func (j *Job) Done() bool {
	return j.CurrentStatus() != JobRunning
}

// SetCancel records the function that stops the job's context.
func (j *Job) SetCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

// Cancel stops the job's context. The operation finishes its current mutation first.
func (j *Job) Cancel() {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Complete marks the job as completed with an optional result payload.
func (j *Job) Complete(result interface{}) {
	j.finish(JobCompleted, "", result)
}

// Fail marks the job as failed with an error message.
func (j *Job) Fail(err string, result interface{}) {
	j.finish(JobFailed, err, result)
}

// MarkCancelled marks the job as stopped by the user.
func (j *Job) MarkCancelled(result interface{}) {
	j.finish(JobCancelled, "cancelled by user", result)
}

func (j *Job) finish(status, errMsg string, result interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.partial) > 0 {
		j.Output = append(j.Output, string(j.partial))
		j.partial = nil
	}
	j.Status = status
	j.Error = errMsg
	j.Result = result
	now := time.Now()
	j.FinishedAt = &now
}

// JobStore is an in-memory thread-safe store for jobs.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// Create adds a new job, assigning it a UUID.
func (s *JobStore) Create(jobType, target string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Target:    target,
		Status:    JobRunning,
		StartedAt: time.Now(),
		Output:    []string{},
	}
	s.jobs[j.ID] = j
	return j
}

// Get returns a job by ID.
func (s *JobStore) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// List returns all jobs, most recent first.
func (s *JobStore) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j)
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].StartedAt.After(result[b].StartedAt)
	})
	return result
}

// MarshalJSON encodes a consistent view of the job while it may still be running.
func (j *Job) MarshalJSON() ([]byte, error) {
	j.mu.Lock()
	view := struct {
		ID         string      `json:"id"`
		Type       string      `json:"type"`
		Target     string      `json:"target"`
		Status     string      `json:"status"`
		StartedAt  time.Time   `json:"started_at"`
		FinishedAt *time.Time  `json:"finished_at,omitempty"`
		Error      string      `json:"error,omitempty"`
		Result     interface{} `json:"result,omitempty"`
		Output     []string    `json:"output"`
	}{j.ID, j.Type, j.Target, j.Status, j.StartedAt, j.FinishedAt, j.Error, j.Result, append([]string(nil), j.Output...)}
	j.mu.Unlock()
	return json.Marshal(view)
}
