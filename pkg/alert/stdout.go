package alert

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Stdout writes messages to a local writer. It is the fallback sink when no
// remote channel is configured or reachable, and it always succeeds unless
// the writer fails.
type Stdout struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdout creates a sink writing to w.
func NewStdout(w io.Writer) *Stdout {
	return &Stdout{w: w}
}

func (s *Stdout) Name() string { return "stdout" }

func (s *Stdout) Send(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "\n%s\n\n", text); err != nil {
		return fmt.Errorf("write stdout: %w", err)
	}
	return nil
}

func (s *Stdout) Close() error { return nil }
