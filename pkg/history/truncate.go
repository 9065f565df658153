package history

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Truncate rewrites branch so that it holds exactly depth commits: a
// synthetic parentless root carrying the tree of HEAD~(depth-1), followed by
// the depth-1 newest commits in their original order.
func (p *Pipeline) Truncate(ctx context.Context, branch string, depth int) error {
	if depth < 1 {
		return fmt.Errorf("depth must be at least 1, got %d", depth)
	}

	log := p.log.WithFields(logrus.Fields{
		"stage":  "truncate",
		"branch": branch,
		"depth":  depth,
	})

	shas, err := p.repo.Commits(ctx, branch)
	if err != nil {
		return err
	}

	if len(shas) < depth {
		return fmt.Errorf("%w: branch %s has %d commits, depth is %d",
			ErrDepthExceedsHistory, branch, len(shas), depth)
	}

	stop := shas[depth-1]
	log.WithField("stop_commit", stop).Info("Truncating history")

	steps := [][]string{
		{"checkout", "--quiet", "--orphan", rootBranch, stop},
		{"commit", "--quiet", "--allow-empty", "-m", RootMessage},
		{"rebase", "--quiet", "--onto", rootBranch, stop, branch},
		{"branch", "-D", rootBranch},
	}

	for _, args := range steps {
		if _, err := p.repo.Git(ctx, args...); err != nil {
			return fmt.Errorf("truncating %s: %w", branch, err)
		}
	}

	n, err := p.repo.CountCommits(ctx, branch)
	if err != nil {
		return err
	}

	if n != depth {
		return fmt.Errorf("%w: got %d commits, want %d", ErrNonLinearWindow, n, depth)
	}

	log.Info("History truncated")

	return nil
}
