package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/chronbench/pkg/config"
	"github.com/ethpandaops/chronbench/pkg/gitrepo"
	"github.com/sirupsen/logrus"
)

// FilterArgs builds the rewrite engine arguments that keep only fileset
// paths on branch and flatten each of them to its base name.
func FilterArgs(branch string, fileset []string) []string {
	args := make([]string, 0, 3+4*len(fileset))
	args = append(args, "--force", "--refs", branch)

	for _, p := range fileset {
		args = append(args,
			"--path-match", p,
			"--path-rename", p+":"+config.FlattenedName(p),
		)
	}

	return args
}

// Filter prunes branch to the commits touching fileset and flattens every
// surviving file to its base name. All commit hashes of branch change.
func (p *Pipeline) Filter(ctx context.Context, branch string, fileset []string) error {
	if len(fileset) == 0 {
		return fmt.Errorf("%w: fileset is empty", ErrEmptyFileset)
	}

	log := p.log.WithFields(logrus.Fields{
		"stage":  "filter",
		"branch": branch,
		"paths":  len(fileset),
	})
	log.Info("Filtering history")

	if _, err := p.repo.Run(ctx, p.filterRepoBin, FilterArgs(branch, fileset)...); err != nil {
		return fmt.Errorf("running %s: %w", p.filterRepoBin, err)
	}

	if _, err := p.repo.RevParse(ctx, branch); err != nil {
		var cmdErr *gitrepo.CommandError
		if errors.As(err, &cmdErr) {
			return fmt.Errorf("%w: branch %s no longer exists", ErrEmptyFileset, branch)
		}

		return err
	}

	n, err := p.repo.CountCommits(ctx, branch)
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("%w: branch %s is empty", ErrEmptyFileset, branch)
	}

	// The rewrite engine moves the ref without touching the checkout.
	if _, err := p.repo.Git(ctx, "reset", "--hard", "--quiet", branch); err != nil {
		return fmt.Errorf("syncing working tree: %w", err)
	}

	log.WithField("commits", n).Info("History filtered")

	return nil
}
