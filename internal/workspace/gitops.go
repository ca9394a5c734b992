package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/forgeline/forgeline/internal/git"
)

// gitRunner executes git commands in a directory. Swappable for testing.
type gitRunner interface {
	run(ctx context.Context, dir string, args ...string) (string, error)
}

// execGit runs the real git binary through a shared concurrency pool.
type execGit struct {
	pool *git.Pool
}

func (g *execGit) run(ctx context.Context, dir string, args ...string) (string, error) {
	var out string
	err := g.pool.Run(ctx, func() error {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = dir

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(stderr.String()), err)
		}
		out = stdout.String()
		return nil
	})
	return out, err
}
