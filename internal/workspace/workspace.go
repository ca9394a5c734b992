// Package workspace owns the checked-out target repository: safe file
// access, pre-change snapshots, and the git branch lifecycle around an
// applied change.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgeline/forgeline/internal/config"
	"github.com/forgeline/forgeline/internal/git"
)

// ErrPathEscapes marks a path that resolves outside the workspace root.
var ErrPathEscapes = errors.New("workspace: path escapes root")

// branchPrefix namespaces every branch the pipeline creates.
const branchPrefix = "forge/"

// Manager mediates all filesystem and git access to the target repository.
type Manager struct {
	root       string
	baseBranch string
	git        gitRunner
}

// NewManager returns a Manager for the configured workspace.
func NewManager(cfg config.Workspace, pool *git.Pool) *Manager {
	return &Manager{
		root:       cfg.Root,
		baseBranch: cfg.BaseBranch,
		git:        &execGit{pool: pool},
	}
}

// Root returns the workspace root directory.
func (m *Manager) Root() string { return m.root }

// resolve joins rel onto the root and rejects anything that escapes it.
func (m *Manager) resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, rel)
	}
	abs := filepath.Join(m.root, rel)
	cleanRoot := filepath.Clean(m.root) + string(filepath.Separator)
	if !strings.HasPrefix(abs, cleanRoot) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, rel)
	}
	return abs, nil
}

// ReadFile returns the contents of a workspace file.
func (m *Manager) ReadFile(rel string) (string, error) {
	abs, err := m.resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

// WriteFile writes a workspace file, creating parent directories as needed.
func (m *Manager) WriteFile(rel, content string) error {
	abs, err := m.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// FileExists reports whether a workspace file exists.
func (m *Manager) FileExists(rel string) bool {
	abs, err := m.resolve(rel)
	if err != nil {
		return false
	}
	st, err := os.Stat(abs)
	return err == nil && !st.IsDir()
}

// Snapshot captures the current state of the given files so a failed batch
// can be rolled back byte for byte.
func (m *Manager) Snapshot(paths []string) (*Snapshot, error) {
	snap := &Snapshot{files: make([]fileState, 0, len(paths))}
	for _, rel := range paths {
		abs, err := m.resolve(rel)
		if err != nil {
			return nil, err
		}
		st, statErr := os.Stat(abs)
		if statErr != nil {
			if !os.IsNotExist(statErr) {
				return nil, fmt.Errorf("stat %s: %w", rel, statErr)
			}
			snap.files = append(snap.files, fileState{path: rel})
			continue
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", rel, err)
		}
		snap.files = append(snap.files, fileState{
			path:    rel,
			existed: true,
			content: data,
			mode:    st.Mode(),
		})
	}
	return snap, nil
}

// Restore rolls a snapshot back into the workspace.
func (m *Manager) Restore(snap *Snapshot) error {
	return snap.Restore(m.root)
}

// BranchName derives the work branch for a change id.
func BranchName(shortID string) string {
	return branchPrefix + shortID
}

// StartBranch moves the workspace onto a fresh work branch cut from the base
// branch. The workspace must be clean.
func (m *Manager) StartBranch(ctx context.Context, shortID string) (string, error) {
	branch := BranchName(shortID)
	if _, err := m.git.run(ctx, m.root, "checkout", m.baseBranch); err != nil {
		return "", fmt.Errorf("checkout base: %w", err)
	}
	if _, err := m.git.run(ctx, m.root, "checkout", "-b", branch); err != nil {
		return "", fmt.Errorf("create branch: %w", err)
	}
	return branch, nil
}

// FinishBranch commits everything on the work branch and returns the diff
// against the base branch.
func (m *Manager) FinishBranch(ctx context.Context, branch, message string) (string, error) {
	if _, err := m.git.run(ctx, m.root, "add", "-A"); err != nil {
		return "", fmt.Errorf("git add: %w", err)
	}
	if _, err := m.git.run(ctx, m.root, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("git commit: %w", err)
	}
	diff, err := m.git.run(ctx, m.root, "diff", m.baseBranch+"..."+branch)
	if err != nil {
		return "", fmt.Errorf("git diff: %w", err)
	}
	return diff, nil
}

// AbortBranch discards the work branch and any uncommitted edits, returning
// the workspace to the base branch.
func (m *Manager) AbortBranch(ctx context.Context, branch string) error {
	if _, err := m.git.run(ctx, m.root, "checkout", "--", "."); err != nil {
		return fmt.Errorf("discard edits: %w", err)
	}
	if _, err := m.git.run(ctx, m.root, "checkout", m.baseBranch); err != nil {
		return fmt.Errorf("checkout base: %w", err)
	}
	if _, err := m.git.run(ctx, m.root, "branch", "-D", branch); err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	return nil
}
