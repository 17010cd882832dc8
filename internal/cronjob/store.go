package cronjob

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/gg/gslice"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/tgifai/butler/internal/pkg/logs"
	"github.com/tgifai/butler/internal/pkg/utils"
)

const storeVersion = 1

// storeDocument is the on-disk layout; the whole document is rewritten on
// every mutation.
type storeDocument struct {
	Version     int   `json:"version"`
	Jobs        []Job `json:"jobs"`
	LastUpdated int64 `json:"lastUpdated"`
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store's notion of now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store provides thread-safe persistence of jobs to a JSON file and owns
// next-run computation.
type Store struct {
	path string
	now  func() time.Time

	mu      sync.RWMutex
	jobs    map[string]Job // keyed by Job.ID
	modTime time.Time      // of the file as last read or written by this process
}

// NewStore creates a Store backed by path and loads whatever is already there.
// A missing file is an empty store; it is created on the first mutation.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path: path,
		now:  time.Now,
		jobs: make(map[string]Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Reload()
	return s
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Reload replaces the in-memory jobs with the file's content. Read and parse
// failures are logged and leave the store empty.
func (s *Store) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs, s.modTime = s.readDocument()
}

// ReloadIfChanged reloads when another process (e.g. the CLI) rewrote the
// file since this store last read or wrote it.
func (s *Store) ReloadIfChanged() bool {
	info, err := os.Stat(s.path)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if info.ModTime().Equal(s.modTime) {
		return false
	}
	s.jobs, s.modTime = s.readDocument()
	logs.Info("[cronjob] store %s changed on disk, reloaded %d jobs", s.path, len(s.jobs))
	return true
}

func (s *Store) readDocument() (map[string]Job, time.Time) {
	jobs := make(map[string]Job)

	var modTime time.Time
	if info, err := os.Stat(s.path); err == nil {
		modTime = info.ModTime()
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logs.Warn("[cronjob] read store %s: %v", s.path, err)
		}
		return jobs, modTime
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return jobs, modTime
	}

	var doc storeDocument
	if err := sonic.Unmarshal(data, &doc); err != nil {
		logs.Warn("[cronjob] parse store %s: %v", s.path, err)
		return jobs, modTime
	}
	if doc.Version != storeVersion {
		logs.Warn("[cronjob] store %s has version %d, expected %d; loading anyway", s.path, doc.Version, storeVersion)
	}

	for _, j := range doc.Jobs {
		if j.ID == "" {
			logs.Warn("[cronjob] store %s: dropping job without id (%q)", s.path, j.Name)
			continue
		}
		jobs[j.ID] = j
	}
	return jobs, modTime
}

// GetAll returns jobs ordered by creation time. Disabled jobs are included
// only when includeDisabled is set.
func (s *Store) GetAll(includeDisabled bool) []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sortedLocked()
	if includeDisabled {
		return all
	}
	return gslice.Filter(all, func(j Job) bool { return j.Enabled })
}

// Get returns a copy of the job with the given id.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return cloneJob(j), true
}

// Add creates a job from input, assigning its id and first next-run. The job
// is kept even when persisting fails; the returned error then wraps ErrStoreIO.
func (s *Store) Add(input JobInput) (Job, error) {
	if err := ValidateSchedule(input.Schedule); err != nil {
		return Job{}, err
	}
	if err := input.Delivery.validate(); err != nil {
		return Job{}, err
	}

	nowMs := s.now().UnixMilli()
	job := Job{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(input.Name),
		Description:    strings.TrimSpace(input.Description),
		Enabled:        input.Enabled == nil || *input.Enabled,
		DeleteAfterRun: cloneBool(input.DeleteAfterRun),
		CreatedAtMs:    nowMs,
		UpdatedAtMs:    nowMs,
		Schedule:       input.Schedule,
		Message:        input.Message,
		Delivery:       cloneDelivery(input.Delivery),
	}
	if job.Name == "" {
		job.Name = defaultJobName(job.Message)
	}
	job.State.NextRunAtMs = CalcNextRun(job, nowMs)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job
	logs.Info("[cronjob] added job %s (%s), next run %s", job.ID, job.Name, formatMs(job.State.NextRunAtMs))
	return cloneJob(job), s.persistLocked()
}

// Update applies patch to the job. The id never changes, and next-run is
// recomputed only when the schedule itself changes.
func (s *Store) Update(id string, patch JobPatch) (Job, error) {
	if patch.Schedule != nil {
		if err := ValidateSchedule(*patch.Schedule); err != nil {
			return Job{}, err
		}
	}
	if err := patch.Delivery.validate(); err != nil {
		return Job{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	nowMs := s.now().UnixMilli()
	if patch.Name != nil {
		job.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		job.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Enabled != nil {
		job.Enabled = *patch.Enabled
	}
	if patch.DeleteAfterRun != nil {
		job.DeleteAfterRun = cloneBool(patch.DeleteAfterRun)
	}
	if patch.Message != nil {
		job.Message = *patch.Message
	}
	switch {
	case patch.ClearDelivery:
		job.Delivery = nil
	case patch.Delivery != nil:
		job.Delivery = cloneDelivery(patch.Delivery)
	}
	if patch.Schedule != nil && *patch.Schedule != job.Schedule {
		job.Schedule = *patch.Schedule
		job.State.NextRunAtMs = CalcNextRun(job, nowMs)
	}
	job.UpdatedAtMs = nowMs

	s.jobs[id] = job
	return cloneJob(job), s.persistLocked()
}

// Remove deletes the job with the given id.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	delete(s.jobs, id)
	logs.Info("[cronjob] removed job %s", id)
	return s.persistLocked()
}

// GetDueJobs returns enabled jobs whose next run is at or before now.
func (s *Store) GetDueJobs() []Job {
	nowMs := s.now().UnixMilli()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return gslice.Filter(s.sortedLocked(), func(j Job) bool {
		return j.Enabled && j.HasNextRun() && j.State.NextRunAtMs <= nowMs
	})
}

// MarkRun records the outcome of a run. One-shot jobs are then deleted
// (whatever the status) unless DeleteAfterRun is explicitly false; every other
// job gets its next run recomputed. Persist failures are only logged.
func (s *Store) MarkRun(id string, status RunStatus, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		logs.Debug("[cronjob] mark run: job %s no longer exists", id)
		return
	}

	nowMs := s.now().UnixMilli()
	job.State.RunCount++
	job.State.LastRunAtMs = nowMs
	job.State.LastStatus = status
	job.State.LastError = errMsg

	if job.deletesAfterRun() {
		delete(s.jobs, id)
		logs.Info("[cronjob] one-shot job %s (%s) finished with %s, deleted", id, job.Name, status)
	} else {
		job.State.NextRunAtMs = CalcNextRun(job, nowMs)
		s.jobs[id] = job
	}

	if err := s.persistLocked(); err != nil {
		logs.Warn("[cronjob] persist after run of %s: %v", id, err)
	}
}

// Count returns the number of jobs and how many of them are enabled.
func (s *Store) Count() (total, enabled int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, j := range s.jobs {
		total++
		if j.Enabled {
			enabled++
		}
	}
	return total, enabled
}

func (s *Store) sortedLocked() []Job {
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAtMs != out[b].CreatedAtMs {
			return out[a].CreatedAtMs < out[b].CreatedAtMs
		}
		return out[a].ID < out[b].ID
	})
	return out
}

// persistLocked writes the whole document atomically (tmp + rename). Callers
// hold s.mu.
func (s *Store) persistLocked() error {
	doc := storeDocument{
		Version:     storeVersion,
		Jobs:        s.sortedLocked(),
		LastUpdated: s.now().UnixMilli(),
	}

	data, err := sonic.ConfigStd.MarshalIndent(doc, "", "  ")
	if err != nil {
		return s.ioError("marshal store", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return s.ioError("create store directory", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return s.ioError("create tmp store", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return s.ioError("write tmp store", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return s.ioError("close tmp store", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return s.ioError("rename store", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.modTime = info.ModTime()
	}
	return nil
}

func (s *Store) ioError(op string, err error) error {
	logs.Error("[cronjob] %s %s: %v", op, s.path, err)
	return fmt.Errorf("%w: %s: %v", ErrStoreIO, op, err)
}

func cloneJob(j Job) Job {
	j.DeleteAfterRun = cloneBool(j.DeleteAfterRun)
	j.Delivery = cloneDelivery(j.Delivery)
	return j
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func cloneDelivery(d *Delivery) *Delivery {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func defaultJobName(message string) string {
	name := strings.TrimSpace(message)
	if name == "" {
		return "reminder"
	}
	return utils.Truncate(utils.FirstLine(name), 32)
}

func formatMs(ms int64) string {
	if ms <= 0 {
		return "never"
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}
