package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/unimath/placement-backend/internal/exam"
)

// FileRecoveryWriter stores per-attempt exam snapshots as JSON files under
// a recovery directory. The presented snapshot is written once at
// realization; the updated snapshot is overwritten before every grading
// pass so the latest answers survive a crash.
type FileRecoveryWriter struct {
	dir string
}

// NewFileRecoveryWriter creates a recovery writer rooted at dir.
func NewFileRecoveryWriter(dir string) *FileRecoveryWriter {
	return &FileRecoveryWriter{dir: filepath.Join(dir, "recovery")}
}

// WritePresented stores the exam as realized, before any answers.
func (w *FileRecoveryWriter) WritePresented(inst *exam.Instance) error {
	return w.write(inst, "presented")
}

// WriteUpdated stores the exam with the answers recorded so far.
func (w *FileRecoveryWriter) WriteUpdated(inst *exam.Instance) error {
	return w.write(inst, "updated")
}

func (w *FileRecoveryWriter) write(inst *exam.Instance, kind string) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create recovery directory: %w", err)
	}

	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal exam instance: %w", err)
	}

	name := fmt.Sprintf("%s_%d_%s.json", inst.StudentID, inst.SerialNumber, kind)
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write recovery snapshot: %w", err)
	}

	return nil
}
