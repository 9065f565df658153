// Package history rewrites a benchmark working copy into a short, linear,
// flattened commit sequence. Stages run in order (Filter, Truncate,
// Squash) and mutate the working copy in place through a gitrepo.Repo.
package history

import (
	"errors"

	"github.com/ethpandaops/chronbench/pkg/gitrepo"
	"github.com/sirupsen/logrus"
)

// Configuration and precondition errors raised by the stages.
var (
	ErrEmptyFileset        = errors.New("fileset matched no commits")
	ErrDepthExceedsHistory = errors.New("depth exceeds available history")
	ErrNonLinearWindow     = errors.New("truncated history does not have the requested depth")
	ErrSquashRoot          = errors.New("squash index 0 names the root commit")
	ErrSquashOutOfRange    = errors.New("squash index out of range")
	ErrSquashTip           = errors.New("squash index names the branch tip, which has no successor")
)

const (
	// RootMessage is the message of the synthetic root commit.
	RootMessage = "new root"

	rootBranch   = "chronbench-root"
	squashBranch = "chronbench-squash"
)

// Pipeline runs history stages against one working copy.
type Pipeline struct {
	repo          *gitrepo.Repo
	log           logrus.FieldLogger
	filterRepoBin string
}

// New creates a pipeline. filterRepoBin is the history rewrite engine
// executable.
func New(repo *gitrepo.Repo, log logrus.FieldLogger, filterRepoBin string) *Pipeline {
	return &Pipeline{
		repo:          repo,
		log:           log.WithField("component", "history"),
		filterRepoBin: filterRepoBin,
	}
}
