package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/kikitori/kikitori/pkg/stt"
	sttmock "github.com/kikitori/kikitori/pkg/stt/mock"
)

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{
		Result: &stt.Result{Segments: []stt.Segment{{Text: "primary"}}},
	}
	secondary := &sttmock.Provider{
		Result: &stt.Result{Segments: []stt.Segment{{Text: "secondary"}}},
	}

	f := NewSTTFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	res, err := f.Transcribe(context.Background(), "audio.mp3", "ja")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Segments[0].Text != "primary" {
		t.Errorf("result from %q, want primary", res.Segments[0].Text)
	}
	if len(secondary.Calls()) != 0 {
		t.Error("fallback was called despite healthy primary")
	}
}

func TestSTTFallback_FailsOver(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("api down")}
	secondary := &sttmock.Provider{
		Result: &stt.Result{Segments: []stt.Segment{{Text: "secondary"}}},
	}

	f := NewSTTFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	res, err := f.Transcribe(context.Background(), "audio.mp3", "ja")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Segments[0].Text != "secondary" {
		t.Errorf("result from %q, want secondary", res.Segments[0].Text)
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("api down")}
	secondary := &sttmock.Provider{Err: errors.New("also down")}

	f := NewSTTFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	_, err := f.Transcribe(context.Background(), "audio.mp3", "ja")
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("api down")}
	secondary := &sttmock.Provider{
		Result: &stt.Result{Segments: []stt.Segment{{Text: "secondary"}}},
	}

	f := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2},
	})
	f.AddFallback("secondary", secondary)

	// Trip the primary's breaker.
	for range 3 {
		if _, err := f.Transcribe(context.Background(), "audio.mp3", "ja"); err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
	}

	primaryCalls := len(primary.Calls())
	if primaryCalls != 2 {
		t.Errorf("primary calls = %d, want 2 (breaker open after MaxFailures)", primaryCalls)
	}
	if len(secondary.Calls()) != 3 {
		t.Errorf("secondary calls = %d, want 3", len(secondary.Calls()))
	}
}
