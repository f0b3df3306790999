package cron

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateJob is returned when Add is given an ID that already exists.
var ErrDuplicateJob = errors.New("duplicate job ID")

// Store keeps jobs in memory and mirrors them to a JSON file. A Store with
// an empty path never touches disk.
type Store struct {
	path string
	now  func() time.Time

	mu   sync.Mutex
	jobs []*Job
}

// NewStore opens the store at path. A missing or unreadable file yields an
// empty store.
func NewStore(path string) *Store {
	s := &Store{path: path, now: time.Now}
	s.load()
	return s
}

func (s *Store) load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return
	}
	s.jobs = jobs
}

// save writes the job list through a temp file and rename. Callers hold mu.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cron dir: %w", err)
	}
	data, err := json.MarshalIndent(s.jobs, "", "\t")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cron store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// List returns copies of all jobs in insertion order.
func (s *Store) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

// Get returns the job with id.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.find(id); j != nil {
		return *j, true
	}
	return Job{}, false
}

func (s *Store) find(id string) *Job {
	for _, j := range s.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

// Add creates an enabled job.
func (s *Store) Add(opts AddOptions) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	if s.find(id) != nil {
		return Job{}, fmt.Errorf("%w: %s", ErrDuplicateJob, id)
	}
	job := &Job{
		ID:        id,
		Label:     opts.Label,
		Task:      opts.Task,
		Schedule:  opts.Schedule,
		Enabled:   true,
		CreatedAt: s.now().UTC(),
	}
	s.jobs = append(s.jobs, job)
	if err := s.save(); err != nil {
		return Job{}, err
	}
	return *job, nil
}

// Remove deletes the job with id and reports whether it existed.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.jobs {
		if j.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return true, s.save()
		}
	}
	return false, nil
}

// Update applies patch to the job with id. ok is false when no such job
// exists.
func (s *Store) Update(id string, patch Patch) (job Job, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.find(id)
	if j == nil {
		return Job{}, false, nil
	}
	if patch.Label != nil {
		j.Label = *patch.Label
	}
	if patch.Task != nil {
		j.Task = *patch.Task
	}
	if patch.Schedule != nil {
		j.Schedule = *patch.Schedule
	}
	if patch.Enabled != nil {
		j.Enabled = *patch.Enabled
	}
	return *j, true, s.save()
}
