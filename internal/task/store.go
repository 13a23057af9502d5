// Package task tracks asynchronous processing jobs and chunked upload
// sessions in memory. Every processing request gets a task ID whose status,
// progress, and eventual result are polled by clients; uploads additionally
// get a session that enforces in-order chunk delivery and expires when
// abandoned.
package task

import (
	"sync"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Info is the client-visible snapshot of a task.
type Info struct {
	TaskID   string `json:"task_id"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Store is an in-memory task registry safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*Info
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{tasks: make(map[string]*Info)}
}

// Create registers a new pending task and returns its ID.
func (s *Store) Create() string {
	id := uuid.NewString()
	s.mu.Lock()
	s.tasks[id] = &Info{
		TaskID:  id,
		Status:  StatusPending,
		Message: "Waiting to start...",
	}
	s.mu.Unlock()
	return id
}

// Get returns a copy of the task's current state.
func (s *Store) Get(id string) (Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.tasks[id]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// Update sets status, progress, and message. Unknown IDs are ignored.
func (s *Store) Update(id string, status Status, progress int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.tasks[id]
	if !ok {
		return
	}
	info.Status = status
	info.Progress = progress
	info.Message = message
}

// SetMessage updates only the message, leaving status and progress alone.
func (s *Store) SetMessage(id string, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.tasks[id]; ok {
		info.Message = message
	}
}

// Complete marks the task completed with its final result.
func (s *Store) Complete(id string, result any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.tasks[id]
	if !ok {
		return
	}
	info.Status = StatusCompleted
	info.Progress = 100
	info.Message = "Completed"
	info.Result = result
}

// Fail marks the task failed with a user-facing message and error detail.
func (s *Store) Fail(id string, message string, errDetail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.tasks[id]
	if !ok {
		return
	}
	info.Status = StatusFailed
	info.Progress = 0
	info.Message = message
	info.Error = errDetail
}
