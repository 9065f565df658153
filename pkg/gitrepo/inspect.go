package gitrepo

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// CommitInfo describes a single commit.
type CommitInfo struct {
	SHA         string
	Parents     int
	AuthorName  string
	AuthorEmail string
	When        time.Time
	Message     string
}

// ChangeStats is the line churn of a commit relative to its first parent.
type ChangeStats struct {
	Files     int
	Additions int
	Deletions int
}

// Churn returns additions plus deletions.
func (s ChangeStats) Churn() int {
	return s.Additions + s.Deletions
}

// Inspector gives read-only access to the object database of a working
// copy without touching its checkout.
type Inspector struct {
	repo *git.Repository
}

// Inspect opens the repository at dir for read-only access.
func Inspect(dir string) (*Inspector, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", dir, err)
	}

	return &Inspector{repo: repo}, nil
}

// Resolve resolves a revision (SHA, branch, HEAD~n) to a full SHA.
func (i *Inspector) Resolve(rev string) (string, error) {
	h, err := i.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", rev, err)
	}

	return h.String(), nil
}

// Commit returns information about the commit at rev.
func (i *Inspector) Commit(rev string) (*CommitInfo, error) {
	c, err := i.commit(rev)
	if err != nil {
		return nil, err
	}

	return &CommitInfo{
		SHA:         c.Hash.String(),
		Parents:     c.NumParents(),
		AuthorName:  c.Author.Name,
		AuthorEmail: c.Author.Email,
		When:        c.Author.When,
		Message:     strings.TrimSpace(c.Message),
	}, nil
}

// History walks first parents from rev and returns commits newest first.
// A limit of zero walks to the root.
func (i *Inspector) History(rev string, limit int) ([]*CommitInfo, error) {
	c, err := i.commit(rev)
	if err != nil {
		return nil, err
	}

	var out []*CommitInfo

	for c != nil {
		out = append(out, &CommitInfo{
			SHA:         c.Hash.String(),
			Parents:     c.NumParents(),
			AuthorName:  c.Author.Name,
			AuthorEmail: c.Author.Email,
			When:        c.Author.When,
			Message:     strings.TrimSpace(c.Message),
		})

		if limit > 0 && len(out) >= limit {
			break
		}

		if c.NumParents() == 0 {
			break
		}

		c, err = c.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("walking parents of %s: %w", out[len(out)-1].SHA, err)
		}
	}

	return out, nil
}

// Files returns the sorted paths of every file in the tree of rev.
func (i *Inspector) Files(rev string) ([]string, error) {
	tree, err := i.tree(rev)
	if err != nil {
		return nil, err
	}

	var files []string

	if err := tree.Files().ForEach(func(f *object.File) error {
		files = append(files, f.Name)

		return nil
	}); err != nil {
		return nil, fmt.Errorf("listing files of %s: %w", rev, err)
	}

	sort.Strings(files)

	return files, nil
}

// Stats returns the change statistics of rev against its first parent. The
// root commit is compared against the empty tree.
func (i *Inspector) Stats(rev string) (ChangeStats, error) {
	c, err := i.commit(rev)
	if err != nil {
		return ChangeStats{}, err
	}

	fs, err := c.Stats()
	if err != nil {
		return ChangeStats{}, fmt.Errorf("computing stats of %s: %w", rev, err)
	}

	stats := ChangeStats{Files: len(fs)}

	for _, s := range fs {
		stats.Additions += s.Addition
		stats.Deletions += s.Deletion
	}

	return stats, nil
}

// Export writes the tree of rev into dst, creating it if needed.
func (i *Inspector) Export(rev, dst string) error {
	tree, err := i.tree(rev)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	return tree.Files().ForEach(func(f *object.File) error {
		return exportFile(f, dst)
	})
}

func exportFile(f *object.File, dst string) error {
	target := filepath.Join(dst, filepath.FromSlash(f.Name))

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", f.Name, err)
	}

	if f.Mode == filemode.Symlink {
		link, err := f.Contents()
		if err != nil {
			return fmt.Errorf("reading symlink %s: %w", f.Name, err)
		}

		return os.Symlink(link, target)
	}

	perm := os.FileMode(0644)
	if f.Mode == filemode.Executable {
		perm = 0755
	}

	r, err := f.Reader()
	if err != nil {
		return fmt.Errorf("reading %s: %w", f.Name, err)
	}
	defer func() { _ = r.Close() }()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}

	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()

		return fmt.Errorf("writing %s: %w", target, err)
	}

	return out.Close()
}

func (i *Inspector) commit(rev string) (*object.Commit, error) {
	h, err := i.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", rev, err)
	}

	c, err := i.repo.CommitObject(*h)
	if err != nil {
		return nil, fmt.Errorf("loading commit %s: %w", rev, err)
	}

	return c, nil
}

func (i *Inspector) tree(rev string) (*object.Tree, error) {
	c, err := i.commit(rev)
	if err != nil {
		return nil, err
	}

	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("loading tree of %s: %w", rev, err)
	}

	return tree, nil
}
