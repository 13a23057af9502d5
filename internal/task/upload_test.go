package task

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func newTestSessions(t *testing.T) (*Sessions, *Store) {
	t.Helper()
	store := NewStore()
	sessions, err := NewSessions(t.TempDir(), time.Minute, time.Second, store)
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	return sessions, store
}

func TestUploadRoundTrip(t *testing.T) {
	t.Parallel()

	sessions, _ := newTestSessions(t)

	chunks := []string{"hello ", "chunked ", "world"}
	var total int64
	for _, c := range chunks {
		total += int64(len(c))
	}

	if err := sessions.Init("task1", "video.mp4", len(chunks), total); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for i, c := range chunks {
		if err := sessions.AppendChunk("task1", i, strings.NewReader(c)); err != nil {
			t.Fatalf("AppendChunk %d: %v", i, err)
		}
	}

	audioPath, subtitlePath, err := sessions.Complete("task1", len(chunks), total)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if subtitlePath != "" {
		t.Errorf("unexpected subtitle path %q", subtitlePath)
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		t.Fatalf("read assembled file: %v", err)
	}
	if string(data) != "hello chunked world" {
		t.Errorf("assembled content = %q", data)
	}
}

func TestUploadDuplicateChunkAcknowledged(t *testing.T) {
	t.Parallel()

	sessions, _ := newTestSessions(t)
	if err := sessions.Init("task1", "a.mp4", 2, 4); err != nil {
		t.Fatal(err)
	}
	if err := sessions.AppendChunk("task1", 0, strings.NewReader("ab")); err != nil {
		t.Fatal(err)
	}
	// Retry of chunk 0 succeeds without writing again.
	if err := sessions.AppendChunk("task1", 0, strings.NewReader("ab")); err != nil {
		t.Errorf("duplicate chunk rejected: %v", err)
	}
	if err := sessions.AppendChunk("task1", 1, strings.NewReader("cd")); err != nil {
		t.Fatal(err)
	}

	path, _, err := sessions.Complete("task1", 2, 4)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "abcd" {
		t.Errorf("assembled content = %q, want abcd", data)
	}
}

func TestUploadChunkProgressMessage(t *testing.T) {
	t.Parallel()

	sessions, store := newTestSessions(t)
	id := store.Create()
	if err := sessions.Init(id, "video.mp4", 3, 6); err != nil {
		t.Fatal(err)
	}

	if err := sessions.AppendChunk(id, 0, strings.NewReader("ab")); err != nil {
		t.Fatal(err)
	}
	info, _ := store.Get(id)
	if info.Message != "Uploading... (1/3 chunks)" {
		t.Errorf("message after first chunk = %q", info.Message)
	}

	if err := sessions.AppendChunk(id, 1, strings.NewReader("cd")); err != nil {
		t.Fatal(err)
	}
	info, _ = store.Get(id)
	if info.Message != "Uploading... (2/3 chunks)" {
		t.Errorf("message after second chunk = %q", info.Message)
	}

	// A retried duplicate does not move the counter.
	if err := sessions.AppendChunk(id, 0, strings.NewReader("ab")); err != nil {
		t.Fatal(err)
	}
	info, _ = store.Get(id)
	if info.Message != "Uploading... (2/3 chunks)" {
		t.Errorf("message after duplicate chunk = %q", info.Message)
	}
}

func TestUploadOutOfOrderChunk(t *testing.T) {
	t.Parallel()

	sessions, _ := newTestSessions(t)
	if err := sessions.Init("task1", "a.mp4", 3, 6); err != nil {
		t.Fatal(err)
	}

	err := sessions.AppendChunk("task1", 2, strings.NewReader("xx"))
	var ooo *OutOfOrderError
	if !errors.As(err, &ooo) {
		t.Fatalf("got %v, want OutOfOrderError", err)
	}
	if ooo.Expected != 0 || ooo.Got != 2 {
		t.Errorf("OutOfOrderError = %+v", ooo)
	}
}

func TestUploadChunkValidation(t *testing.T) {
	t.Parallel()

	sessions, _ := newTestSessions(t)
	if err := sessions.Init("task1", "a.mp4", 1, 2); err != nil {
		t.Fatal(err)
	}

	if err := sessions.AppendChunk("task1", -1, strings.NewReader("x")); !errors.Is(err, ErrInvalidChunkIndex) {
		t.Errorf("negative index: got %v", err)
	}
	if err := sessions.AppendChunk("task1", 5, strings.NewReader("x")); !errors.Is(err, ErrChunkBeyondTotal) {
		t.Errorf("index beyond total: got %v", err)
	}
	if err := sessions.AppendChunk("nope", 0, strings.NewReader("x")); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session: got %v", err)
	}
}

func TestUploadCompleteValidation(t *testing.T) {
	t.Parallel()

	sessions, _ := newTestSessions(t)
	if err := sessions.Init("task1", "a.mp4", 2, 4); err != nil {
		t.Fatal(err)
	}
	if err := sessions.AppendChunk("task1", 0, strings.NewReader("ab")); err != nil {
		t.Fatal(err)
	}

	if _, _, err := sessions.Complete("task1", 3, 4); !errors.Is(err, ErrChunksMismatch) {
		t.Errorf("chunks mismatch: got %v", err)
	}
	if _, _, err := sessions.Complete("task1", 2, 9); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("size mismatch: got %v", err)
	}
	if _, _, err := sessions.Complete("task1", 2, 4); !errors.Is(err, ErrUploadIncomplete) {
		t.Errorf("incomplete upload: got %v", err)
	}

	if err := sessions.AppendChunk("task1", 1, strings.NewReader("cd")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := sessions.Complete("task1", 2, 4); err != nil {
		t.Errorf("valid complete failed: %v", err)
	}
	// Completing twice is rejected.
	if _, _, err := sessions.Complete("task1", 2, 4); !errors.Is(err, ErrUploadCompleted) {
		t.Errorf("second complete: got %v", err)
	}
	// So are further chunks.
	if err := sessions.AppendChunk("task1", 1, strings.NewReader("x")); !errors.Is(err, ErrUploadCompleted) {
		t.Errorf("chunk after complete: got %v", err)
	}
}

func TestUploadSubtitleSidecar(t *testing.T) {
	t.Parallel()

	sessions, _ := newTestSessions(t)
	if err := sessions.Init("task1", "a.mp4", 1, 2); err != nil {
		t.Fatal(err)
	}

	path, err := sessions.SaveSubtitle("task1", "subs.srt", strings.NewReader("1\n00:00:01,000 --> 00:00:02,000\nhi\n"))
	if err != nil {
		t.Fatalf("SaveSubtitle: %v", err)
	}
	if !strings.Contains(path, "task1_subtitle.srt") {
		t.Errorf("subtitle path = %q", path)
	}

	if err := sessions.AppendChunk("task1", 0, strings.NewReader("ab")); err != nil {
		t.Fatal(err)
	}
	_, subtitlePath, err := sessions.Complete("task1", 1, 2)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if subtitlePath != path {
		t.Errorf("Complete subtitle path = %q, want %q", subtitlePath, path)
	}
}

func TestUploadExpiry(t *testing.T) {
	t.Parallel()

	store := NewStore()
	sessions, err := NewSessions(t.TempDir(), 10*time.Millisecond, time.Hour, store)
	if err != nil {
		t.Fatal(err)
	}

	id := store.Create()
	if err := sessions.Init(id, "a.mp4", 1, 2); err != nil {
		t.Fatal(err)
	}

	// Stale session expires and fails its task.
	sessions.expire(time.Now().Add(time.Second))

	if err := sessions.AppendChunk(id, 0, strings.NewReader("ab")); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("chunk after expiry: got %v", err)
	}
	info, _ := store.Get(id)
	if info.Status != StatusFailed {
		t.Errorf("task status after expiry = %v, want failed", info.Status)
	}
}

func TestUploadExpiryKeepsCompleted(t *testing.T) {
	t.Parallel()

	store := NewStore()
	sessions, err := NewSessions(t.TempDir(), 10*time.Millisecond, time.Hour, store)
	if err != nil {
		t.Fatal(err)
	}

	id := store.Create()
	if err := sessions.Init(id, "a.mp4", 1, 2); err != nil {
		t.Fatal(err)
	}
	if err := sessions.AppendChunk(id, 0, strings.NewReader("ab")); err != nil {
		t.Fatal(err)
	}
	audioPath, _, err := sessions.Complete(id, 1, 2)
	if err != nil {
		t.Fatal(err)
	}

	sessions.expire(time.Now().Add(time.Second))

	// Completed sessions survive the sweep; the pipeline owns the file.
	if _, err := os.Stat(audioPath); err != nil {
		t.Errorf("assembled file removed by sweep: %v", err)
	}
	info, _ := store.Get(id)
	if info.Status == StatusFailed {
		t.Error("completed session's task failed by sweep")
	}
}
