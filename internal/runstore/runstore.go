// Package runstore writes the artifacts of a finished run next to the working directory.
package runstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	// ActionCountFile receives the total number of performed computer actions.
	ActionCountFile = "steps.txt"
	// MetaFile receives the run summary as JSON.
	MetaFile = "meta.json"
)

// Meta summarises one run.
type Meta struct {
	RunID        string        `json:"run_id"`
	Task         string        `json:"task"`
	Model        string        `json:"model,omitempty"`
	State        string        `json:"state"`
	Reason       string        `json:"reason,omitempty"`
	Error        string        `json:"error,omitempty"`
	Iterations   int           `json:"iterations"`
	Actions      int           `json:"actions"`
	CursorStepID int           `json:"cursor_step_id,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// WriteActionCount stores n as plain decimal text in dir/steps.txt.
func WriteActionCount(dir string, n int) error {
	return writeAtomic(filepath.Join(dir, ActionCountFile), []byte(strconv.Itoa(n)))
}

// ReadActionCount reads back the value written by WriteActionCount.
func ReadActionCount(dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, ActionCountFile))
	if err != nil {
		return 0, fmt.Errorf("read action count: %w", err)
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("parse action count: %w", err)
	}
	return n, nil
}

// WriteMeta stores m as indented JSON in dir/meta.json.
func WriteMeta(dir string, m Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run meta: %w", err)
	}
	return writeAtomic(filepath.Join(dir, MetaFile), append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
