package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Upload session errors. Handlers map these onto HTTP status codes.
var (
	ErrSessionNotFound   = errors.New("task: upload session not found")
	ErrUploadCompleted   = errors.New("task: upload already completed")
	ErrInvalidChunkIndex = errors.New("task: invalid chunk index")
	ErrChunkBeyondTotal  = errors.New("task: chunk index exceeds declared total")
	ErrUploadIncomplete  = errors.New("task: upload incomplete")
	ErrChunksMismatch    = errors.New("task: total chunks mismatch")
	ErrSizeMismatch      = errors.New("task: upload size mismatch")
)

// OutOfOrderError reports a chunk arriving ahead of the append cursor.
type OutOfOrderError struct {
	Expected int
	Got      int
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("task: out-of-order chunk: expected %d, got %d", e.Expected, e.Got)
}

// Session is one chunked upload in progress. Chunks must arrive strictly in
// order; duplicates of already-written chunks are acknowledged so clients
// can retry safely.
type Session struct {
	taskID       string
	filename     string
	tempFile     string
	subtitlePath string

	nextIndex   int
	totalChunks int
	totalSize   int64

	updatedAt time.Time
	completed bool

	mu sync.Mutex
}

// Sessions manages upload sessions and expires abandoned ones.
type Sessions struct {
	dir   string
	ttl   time.Duration
	sweep time.Duration
	store *Store

	// OnExpire, when set, is called with each expired task ID. Set it
	// before calling [Sessions.Run].
	OnExpire func(taskID string)

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates a session manager writing uploads into dir. Sessions
// idle longer than ttl are failed and removed by [Sessions.Run].
func NewSessions(dir string, ttl, sweep time.Duration, store *Store) (*Sessions, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("task: create upload dir: %w", err)
	}
	return &Sessions{
		dir:      dir,
		ttl:      ttl,
		sweep:    sweep,
		store:    store,
		sessions: make(map[string]*Session),
	}, nil
}

// Init opens a new session for taskID, creating an empty temp file named
// after the task. totalChunks and totalSize are re-checked at completion.
func (s *Sessions) Init(taskID string, filename string, totalChunks int, totalSize int64) error {
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".bin"
	}
	tempFile := filepath.Join(s.dir, taskID+ext)

	f, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("task: create upload file: %w", err)
	}
	f.Close()

	s.mu.Lock()
	s.sessions[taskID] = &Session{
		taskID:      taskID,
		filename:    filename,
		tempFile:    tempFile,
		totalChunks: totalChunks,
		totalSize:   totalSize,
		updatedAt:   time.Now(),
	}
	s.mu.Unlock()

	slog.Info("upload initialized", "task_id", taskID, "filename", filename, "chunks", totalChunks)
	return nil
}

// Filename returns the client-provided filename for the session, or "" when
// the session does not exist.
func (s *Sessions) Filename(taskID string) string {
	sess, ok := s.get(taskID)
	if !ok {
		return ""
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.filename
}

func (s *Sessions) get(taskID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[taskID]
	return sess, ok
}

// AppendChunk writes chunk index to the session's temp file. An index below
// the cursor is a retried duplicate and succeeds without writing; an index
// above it returns *OutOfOrderError.
func (s *Sessions) AppendChunk(taskID string, index int, r io.Reader) error {
	if index < 0 {
		return ErrInvalidChunkIndex
	}
	sess, ok := s.get(taskID)
	if !ok {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.completed {
		return ErrUploadCompleted
	}
	if index >= sess.totalChunks {
		return ErrChunkBeyondTotal
	}
	if index < sess.nextIndex {
		return nil
	}
	if index > sess.nextIndex {
		return &OutOfOrderError{Expected: sess.nextIndex, Got: index}
	}

	f, err := os.OpenFile(sess.tempFile, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("task: open upload file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("task: write chunk %d: %w", index, err)
	}

	sess.nextIndex++
	sess.updatedAt = time.Now()

	if s.store != nil {
		s.store.SetMessage(taskID, fmt.Sprintf("Uploading... (%d/%d chunks)", sess.nextIndex, sess.totalChunks))
	}
	return nil
}

// SaveSubtitle stores a subtitle sidecar for the session and returns its
// path. Later uploads replace earlier ones.
func (s *Sessions) SaveSubtitle(taskID string, filename string, r io.Reader) (string, error) {
	sess, ok := s.get(taskID)
	if !ok {
		return "", ErrSessionNotFound
	}

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".srt"
	}
	path := filepath.Join(s.dir, taskID+"_subtitle"+ext)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.completed {
		return "", ErrUploadCompleted
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("task: create subtitle file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("task: write subtitle: %w", err)
	}

	sess.subtitlePath = path
	sess.updatedAt = time.Now()
	return path, nil
}

// Complete validates the finished upload against the declared chunk count
// and byte size, marks the session done, and returns the audio and optional
// subtitle paths.
func (s *Sessions) Complete(taskID string, totalChunks int, totalSize int64) (audioPath, subtitlePath string, err error) {
	sess, ok := s.get(taskID)
	if !ok {
		return "", "", ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.completed {
		return "", "", ErrUploadCompleted
	}
	if sess.totalChunks != totalChunks {
		return "", "", ErrChunksMismatch
	}
	if sess.totalSize != totalSize {
		return "", "", ErrSizeMismatch
	}
	if sess.nextIndex != sess.totalChunks {
		return "", "", ErrUploadIncomplete
	}

	info, err := os.Stat(sess.tempFile)
	if err != nil {
		return "", "", fmt.Errorf("task: stat upload file: %w", err)
	}
	if info.Size() != sess.totalSize {
		return "", "", ErrSizeMismatch
	}

	sess.completed = true
	return sess.tempFile, sess.subtitlePath, nil
}

// Release drops the session from the manager. Files are left in place; the
// pipeline owns them after completion.
func (s *Sessions) Release(taskID string) {
	s.mu.Lock()
	delete(s.sessions, taskID)
	s.mu.Unlock()
}

// Run sweeps expired sessions until ctx is cancelled.
func (s *Sessions) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expire(time.Now())
		}
	}
}

// expire fails and removes every incomplete session idle longer than the TTL.
func (s *Sessions) expire(now time.Time) {
	s.mu.Lock()
	var expired []*Session
	for _, sess := range s.sessions {
		sess.mu.Lock()
		if !sess.completed && now.Sub(sess.updatedAt) > s.ttl {
			expired = append(expired, sess)
			delete(s.sessions, sess.taskID)
		}
		sess.mu.Unlock()
	}
	s.mu.Unlock()

	for _, sess := range expired {
		slog.Info("upload session expired", "task_id", sess.taskID)
		if s.store != nil {
			s.store.Fail(sess.taskID, "Upload expired", "Upload expired (TTL exceeded).")
		}
		removeIfExists(sess.tempFile)
		removeIfExists(sess.subtitlePath)
		if s.OnExpire != nil {
			s.OnExpire(sess.taskID)
		}
	}
}

func removeIfExists(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove expired upload file", "path", path, "err", err)
	}
}
