// Package initgate guards one-time environment setup behind a durable file
// marker. The marker is written only after setup fully succeeds, so a crash
// mid-setup leaves it unset and the whole sequence is retried on the next
// startup: at-least-once setup, exactly-once marker.
package initgate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Result is the outcome of EnsureInitialized.
type Result int

const (
	// AlreadyInitialized means the marker was present and setup was skipped.
	AlreadyInitialized Result = iota
	// Initialized means setup ran to completion and the marker was written.
	Initialized
	// SetupFailed means setup errored; the marker was not written.
	SetupFailed
)

func (r Result) String() string {
	switch r {
	case AlreadyInitialized:
		return "already-initialized"
	case Initialized:
		return "initialized"
	case SetupFailed:
		return "setup-failed"
	default:
		return "unknown"
	}
}

// Gate is bound to one marker file on the environment's persistent state dir.
type Gate struct {
	path string
}

// New creates a gate for the given marker path.
func New(path string) *Gate {
	return &Gate{path: path}
}

// Path returns the marker location.
func (g *Gate) Path() string {
	return g.path
}

// IsSet reports whether the marker exists.
func (g *Gate) IsSet() (bool, error) {
	_, err := os.Stat(g.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat marker %s: %w", g.path, err)
}

// EnsureInitialized runs setup at most once per marker lifecycle. When the
// marker is present, runSetup is not invoked. Otherwise runSetup executes;
// on success the marker is written as the last action and Initialized is
// returned. On failure (or context cancellation during setup) the marker
// stays unset and SetupFailed is returned alongside the error.
func (g *Gate) EnsureInitialized(ctx context.Context, runSetup func(context.Context) error) (Result, error) {
	set, err := g.IsSet()
	if err != nil {
		return SetupFailed, err
	}
	if set {
		return AlreadyInitialized, nil
	}

	if err := ctx.Err(); err != nil {
		return SetupFailed, err
	}

	if err := runSetup(ctx); err != nil {
		return SetupFailed, err
	}

	if err := g.write(); err != nil {
		return SetupFailed, err
	}
	return Initialized, nil
}

// write persists the marker. Content is informational only; existence is
// what gates setup.
func (g *Gate) write() error {
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return fmt.Errorf("failed to create marker dir: %w", err)
	}

	content := fmt.Sprintf("initialized at %s\n", time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(g.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write marker %s: %w", g.path, err)
	}
	return nil
}
