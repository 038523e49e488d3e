package extract

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// =============================================================================
// ARCHIVAL
// =============================================================================

// Archiver moves file sets out of the inbox once a run is done with them.
// Moves are idempotent: a file already at its destination is skipped, so
// a re-run after a partial move completes it without failing.
type Archiver struct {
	ProcessedDir string
	ErrorDir     string
}

func NewArchiver(processedDir, errorDir string) *Archiver {
	return &Archiver{ProcessedDir: processedDir, ErrorDir: errorDir}
}

// MoveProcessed moves the file set to <processed>/<ts>/.
func (a *Archiver) MoveProcessed(set FileSet) (FileSet, error) {
	return move(set, a.ProcessedDir)
}

// MoveErrored moves the file set to <error>/<ts>/ for manual inspection.
func (a *Archiver) MoveErrored(set FileSet) (FileSet, error) {
	return move(set, a.ErrorDir)
}

func move(set FileSet, root string) (FileSet, error) {
	target := NewFileSet(filepath.Join(root, set.Timestamp), set.Timestamp)
	if err := os.MkdirAll(target.Dir, 0o755); err != nil {
		return FileSet{}, fmt.Errorf("failed to create archive directory %s: %w", target.Dir, err)
	}

	for _, suffix := range fileSuffixes {
		from, to := set.Path(suffix), target.Path(suffix)
		if from == to {
			continue
		}
		if _, err := os.Stat(from); errors.Is(err, fs.ErrNotExist) {
			if _, err := os.Stat(to); err == nil {
				continue // moved by an earlier run
			}
			return FileSet{}, fmt.Errorf("file %s is missing and was never archived", from)
		}
		if err := os.Rename(from, to); err != nil {
			return FileSet{}, fmt.Errorf("failed to move %s to %s: %w", from, to, err)
		}
	}
	return target, nil
}
