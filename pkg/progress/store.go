// Package progress tracks running index and scan tasks: per-task state,
// publish/subscribe fan-out for observers, and cooperative cancellation.
package progress

import (
	"sync"
	"time"
)

// TaskType distinguishes index runs from scans.
type TaskType string

const (
	TaskIndex TaskType = "index"
	TaskScan  TaskType = "scan"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCounting   Status = "counting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
	StatusError      Status = "error"
)

// TaskProgress is the state of one task. Snapshot copies are handed to
// subscribers; the store holds the only mutable instance.
type TaskProgress struct {
	TaskID         string
	TaskType       TaskType
	Status         Status
	TotalFiles     int
	FilesProcessed int
	FilesIndexed   int // index tasks
	MatchesFound   int // scan tasks
	AccessDenied   int
	CurrentFile    string
	StartedAt      time.Time
	CompletedAt    time.Time
	ErrorMessage   string
}

// ProgressPercent returns completion in [0, 100].
func (p *TaskProgress) ProgressPercent() float64 {
	if p.TotalFiles == 0 {
		return 0
	}
	pct := float64(p.FilesProcessed) / float64(p.TotalFiles) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Terminal reports whether the task has finished.
func (p *TaskProgress) Terminal() bool {
	switch p.Status {
	case StatusCompleted, StatusCancelled, StatusError:
		return true
	}
	return false
}

// subscriberBuffer bounds each subscriber channel; publishes drop when the
// buffer is full, so subscribers also poll Get on a heartbeat.
const subscriberBuffer = 16

// Store is the process-wide task registry. Safe for many concurrent
// publishers and subscribers.
type Store struct {
	mu          sync.Mutex
	tasks       map[string]*TaskProgress
	subscribers map[string][]chan TaskProgress
	cancelled   map[string]struct{}
}

// NewStore creates an empty progress store.
func NewStore() *Store {
	return &Store{
		tasks:       make(map[string]*TaskProgress),
		subscribers: make(map[string][]chan TaskProgress),
		cancelled:   make(map[string]struct{}),
	}
}

// Create registers a new task in the pending state.
func (s *Store) Create(taskID string, taskType TaskType) TaskProgress {
	s.mu.Lock()
	defer s.mu.Unlock()

	progress := &TaskProgress{
		TaskID:    taskID,
		TaskType:  taskType,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}
	s.tasks[taskID] = progress
	return *progress
}

// Get returns a snapshot of the task, or false when unknown.
func (s *Store) Get(taskID string) (TaskProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	progress, ok := s.tasks[taskID]
	if !ok {
		return TaskProgress{}, false
	}
	return *progress, true
}

// Update mutates the task under the store lock and publishes a snapshot to
// every subscriber without blocking; slow subscribers miss updates.
func (s *Store) Update(taskID string, mutate func(*TaskProgress)) (TaskProgress, bool) {
	s.mu.Lock()

	progress, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return TaskProgress{}, false
	}
	mutate(progress)
	snapshot := *progress
	subs := s.subscribers[taskID]
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
	return snapshot, true
}

// Subscribe returns a bounded channel of task snapshots.
func (s *Store) Subscribe(taskID string) chan TaskProgress {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan TaskProgress, subscriberBuffer)
	s.subscribers[taskID] = append(s.subscribers[taskID], ch)
	return ch
}

// Unsubscribe removes a channel registered with Subscribe.
func (s *Store) Unsubscribe(taskID string, ch chan TaskProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[taskID]
	for i, sub := range subs {
		if sub == ch {
			s.subscribers[taskID] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Cancel flags the task for cancellation and moves it to cancelling.
// Returns false when the task is unknown.
func (s *Store) Cancel(taskID string) bool {
	s.mu.Lock()
	_, ok := s.tasks[taskID]
	if ok {
		s.cancelled[taskID] = struct{}{}
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.Update(taskID, func(p *TaskProgress) { p.Status = StatusCancelling })
	return true
}

// IsCancelled is the pipelines' polling point.
func (s *Store) IsCancelled(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancelled[taskID]
	return ok
}

// ClearCancelled removes the cancellation flag once the pipeline has
// drained.
func (s *Store) ClearCancelled(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancelled, taskID)
}

// Cleanup drops a finished task and its subscribers.
func (s *Store) Cleanup(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, taskID)
	delete(s.subscribers, taskID)
	delete(s.cancelled, taskID)
}

// Tasks returns snapshots of all known tasks.
func (s *Store) Tasks() []TaskProgress {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskProgress, 0, len(s.tasks))
	for _, p := range s.tasks {
		out = append(out, *p)
	}
	return out
}
