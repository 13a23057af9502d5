// Package mock provides a scriptable stt.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/kikitori/kikitori/pkg/stt"
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Call records a single Transcribe invocation.
type Call struct {
	AudioPath string
	Language  string
}

// Provider is a mock stt.Provider. Configure Result/Err before use; Calls
// records every invocation in order. Safe for concurrent use.
type Provider struct {
	// Result is returned by every Transcribe call when Err is nil.
	Result *stt.Result

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	mu    sync.Mutex
	calls []Call
}

// Transcribe records the call and returns the configured Result or Err.
func (p *Provider) Transcribe(_ context.Context, audioPath string, language string) (*stt.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{AudioPath: audioPath, Language: language})
	p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result != nil {
		return p.Result, nil
	}
	return &stt.Result{}, nil
}

// Calls returns a copy of all recorded invocations.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
