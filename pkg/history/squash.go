package history

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// ValidateSquashList checks squash indices against a sequence of depth
// commits where index 0 is the oldest (root) commit.
func ValidateSquashList(indices []int, depth int) error {
	for _, idx := range indices {
		switch {
		case idx < 0 || idx >= depth:
			return fmt.Errorf("%w: index %d, depth %d", ErrSquashOutOfRange, idx, depth)
		case idx == 0:
			return fmt.Errorf("%w", ErrSquashRoot)
		case idx == depth-1:
			return fmt.Errorf("%w: index %d", ErrSquashTip, idx)
		}
	}

	return nil
}

// PlanSquash returns the commits that survive a squash as groups of
// original indices, oldest first. Each squashed index is folded forward
// into the next surviving commit, so every group ends with a non-squashed
// index. For depth 5 and squash [2 3] the plan is [[0] [1] [2 3 4]].
func PlanSquash(depth int, squash []int) ([][]int, error) {
	if err := ValidateSquashList(squash, depth); err != nil {
		return nil, err
	}

	set := make(map[int]struct{}, len(squash))
	for _, idx := range squash {
		set[idx] = struct{}{}
	}

	groups := make([][]int, 0, depth-len(set))
	current := make([]int, 0, 1)

	for i := 0; i < depth; i++ {
		current = append(current, i)

		if _, squashed := set[i]; squashed {
			continue
		}

		groups = append(groups, current)
		current = make([]int, 0, 1)
	}

	return groups, nil
}

// Squash folds every commit named in indices forward into its successor.
// Indices refer to the current branch, oldest first, and are resolved to
// SHAs in a single snapshot before any commit is rewritten.
func (p *Pipeline) Squash(ctx context.Context, branch string, indices []int) error {
	if len(indices) == 0 {
		p.log.WithField("stage", "squash").Debug("Squash list empty, nothing to do")

		return nil
	}

	shas, err := p.repo.CommitsOldestFirst(ctx, branch)
	if err != nil {
		return err
	}

	if err := ValidateSquashList(indices, len(shas)); err != nil {
		return err
	}

	squashed := make(map[string]struct{}, len(indices))
	for _, idx := range indices {
		squashed[shas[idx]] = struct{}{}
	}

	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)

	log := p.log.WithFields(logrus.Fields{
		"stage":   "squash",
		"branch":  branch,
		"commits": len(shas),
		"squash":  sorted,
	})
	log.Info("Squashing commits")

	if _, err := p.repo.Git(ctx, "checkout", "--quiet", "-b", squashBranch, shas[0]); err != nil {
		return fmt.Errorf("starting squash branch: %w", err)
	}

	for i := 1; i < len(shas); i++ {
		if _, err := p.repo.Git(ctx,
			"cherry-pick", "--allow-empty", "--keep-redundant-commits", shas[i],
		); err != nil {
			return fmt.Errorf("cherry-picking %s: %w", shas[i], err)
		}

		if _, ok := squashed[shas[i-1]]; !ok {
			continue
		}

		if err := p.collapseLastTwo(ctx); err != nil {
			return fmt.Errorf("folding %s into %s: %w", shas[i-1], shas[i], err)
		}
	}

	if _, err := p.repo.Git(ctx, "branch", "-D", branch); err != nil {
		return fmt.Errorf("deleting %s: %w", branch, err)
	}

	if _, err := p.repo.Git(ctx, "branch", "-m", squashBranch, branch); err != nil {
		return fmt.Errorf("renaming squash branch: %w", err)
	}

	n, err := p.repo.CountCommits(ctx, branch)
	if err != nil {
		return err
	}

	if want := len(shas) - len(squashed); n != want {
		return fmt.Errorf("squash produced %d commits, want %d", n, want)
	}

	log.WithField("surviving", n).Info("Commits squashed")

	return nil
}

// collapseLastTwo replaces the two newest commits of the checked out branch
// with one commit carrying their combined changes.
func (p *Pipeline) collapseLastTwo(ctx context.Context) error {
	head, err := p.repo.RevParse(ctx, "HEAD")
	if err != nil {
		return err
	}

	steps := [][]string{
		{"reset", "--hard", "--quiet", "HEAD~2"},
		{"merge", "--squash", head},
		{"commit", "--quiet", "--no-edit", "--allow-empty"},
	}

	for _, args := range steps {
		if _, err := p.repo.Git(ctx, args...); err != nil {
			return err
		}
	}

	return nil
}
