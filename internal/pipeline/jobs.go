package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/apiingest/internal/loader"
)

// JobStatus represents the state of an ingest job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusConverting JobStatus = "converting"
	StatusStoring    JobStatus = "storing"
	StatusCreated    JobStatus = "created"
	StatusExists     JobStatus = "exists"
	StatusFailed     JobStatus = "failed"
)

// Done reports whether s is final.
func (s JobStatus) Done() bool {
	return s == StatusCreated || s == StatusExists || s == StatusFailed
}

// Job tracks the state of a single spec ingest.
type Job struct {
	mu sync.Mutex

	ID     string `json:"job_id"`
	SpecID int64  `json:"spec_id,omitempty"`

	Status   JobStatus     `json:"status"`
	Phase    string        `json:"phase"`
	Filename string        `json:"filename"`
	Format   loader.Format `json:"format,omitempty"`

	// Catalogue fields supplied with the upload.
	Name        string   `json:"name,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	fileData []byte
	errors   []string
}

// Progress counts what the conversion produced.
type Progress struct {
	Operations  int      `json:"operations"`
	Schemas     int      `json:"schemas"`
	Diagnostics int      `json:"diagnostics"`
	Tokens      int      `json:"tokens"`
	Warnings    []string `json:"warnings"`
	Errors      []string `json:"errors"`
}

// NewJob returns a queued job owning data.
func NewJob(filename string, format loader.Format, data []byte) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Phase:     "queued",
		Filename:  filename,
		Format:    format,
		CreatedAt: now,
		UpdatedAt: now,
		fileData:  data,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes finished jobs not updated within the TTL. Jobs still in
// flight are kept.
func (s *JobStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Done() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
	if status.Done() {
		j.fileData = nil
	}
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetResult records the conversion counts and diagnostic summary.
func (j *Job) SetResult(operations, schemas, diagnostics, tokens int, warnings []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Operations = operations
	j.Progress.Schemas = schemas
	j.Progress.Diagnostics = diagnostics
	j.Progress.Tokens = tokens
	j.Progress.Warnings = warnings
	j.UpdatedAt = time.Now()
}

// SetSpecID records the stored spec.
func (j *Job) SetSpecID(id int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.SpecID = id
	j.UpdatedAt = time.Now()
}

// SetContentHash records the hash of the uploaded bytes.
func (j *Job) SetContentHash(h string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ContentHash = h
}

// FileData returns the raw upload.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	SpecID      int64     `json:"spec_id,omitempty"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	Filename    string    `json:"filename"`
	Name        string    `json:"name,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	Progress    Progress  `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	p := j.Progress
	p.Errors = copyOrEmpty(p.Errors)
	p.Warnings = copyOrEmpty(p.Warnings)
	return JobSnapshot{
		ID:          j.ID,
		SpecID:      j.SpecID,
		Status:      j.Status,
		Phase:       j.Phase,
		Filename:    j.Filename,
		Name:        j.Name,
		ContentHash: j.ContentHash,
		Progress:    p,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

func copyOrEmpty(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
