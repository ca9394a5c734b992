package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// fileState remembers one file before mutation. Files that did not exist are
// deleted again on restore.
type fileState struct {
	path    string
	existed bool
	content []byte
	mode    os.FileMode
}

// Snapshot captures the pre-change contents of a set of workspace files.
type Snapshot struct {
	files []fileState
}

// Restore puts every captured file back exactly as it was. Files created
// after the snapshot are removed.
func (s *Snapshot) Restore(root string) error {
	for _, f := range s.files {
		abs := filepath.Join(root, f.path)
		if !f.existed {
			if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", f.path, err)
			}
			continue
		}
		if err := os.WriteFile(abs, f.content, f.mode); err != nil {
			return fmt.Errorf("restore %s: %w", f.path, err)
		}
	}
	return nil
}

// Paths returns the captured relative paths in capture order.
func (s *Snapshot) Paths() []string {
	out := make([]string, len(s.files))
	for i, f := range s.files {
		out[i] = f.path
	}
	return out
}

// CreatedPaths returns the paths that did not exist when the snapshot was
// taken, so any write to them is a creation.
func (s *Snapshot) CreatedPaths() []string {
	var out []string
	for _, f := range s.files {
		if !f.existed {
			out = append(out, f.path)
		}
	}
	return out
}
