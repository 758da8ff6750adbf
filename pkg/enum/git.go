package enum

import (
	"context"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// GitEnumerator enumerates blobs from the history of a git repository. Each
// distinct blob is yielded once, attributed to the newest commit containing it.
type GitEnumerator struct {
	config Config
	// CommitRef optionally specifies where history starts (defaults to HEAD)
	CommitRef string
	// HeadOnly limits enumeration to the tree of CommitRef.
	HeadOnly bool
}

// NewGitEnumerator creates a new git enumerator.
func NewGitEnumerator(config Config) *GitEnumerator {
	return &GitEnumerator{
		config:    config,
		CommitRef: "HEAD",
	}
}

// Enumerate walks git history and yields unique blobs.
func (e *GitEnumerator) Enumerate(ctx context.Context, callback func(a *types.Artifact) error) error {
	repo, err := git.PlainOpen(e.config.Root)
	if err != nil {
		return fmt.Errorf("failed to open git repository: %w", err)
	}

	ref, err := repo.ResolveRevision(plumbing.Revision(e.CommitRef))
	if err != nil {
		return fmt.Errorf("failed to resolve ref %s: %w", e.CommitRef, err)
	}

	seen := make(map[plumbing.Hash]bool)
	visit := func(commit *object.Commit) error {
		tree, err := commit.Tree()
		if err != nil {
			return fmt.Errorf("failed to get tree of %s: %w", commit.Hash, err)
		}
		return tree.Files().ForEach(func(f *object.File) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if seen[f.Hash] {
				return nil
			}
			seen[f.Hash] = true

			if e.config.MaxFileSize > 0 && f.Size > e.config.MaxFileSize {
				return nil
			}

			content, err := blobContent(f)
			if err != nil {
				return fmt.Errorf("failed to get contents of %s: %w", f.Name, err)
			}

			a := types.NewArtifact(f.Name, content)
			a.Origin = types.Origin{
				Kind:   "git",
				Path:   e.config.Root,
				Member: f.Name,
				Commit: commit.Hash.String(),
				Author: commit.Author.Name + " <" + commit.Author.Email + ">",
			}
			return callback(a)
		})
	}

	commit, err := repo.CommitObject(*ref)
	if err != nil {
		return fmt.Errorf("failed to get commit: %w", err)
	}
	if e.HeadOnly {
		return visit(commit)
	}

	iter, err := repo.Log(&git.LogOptions{From: commit.Hash})
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	defer iter.Close()

	if err := iter.ForEach(visit); err != nil {
		return fmt.Errorf("failed to walk history: %w", err)
	}
	return nil
}

// blobContent reads the raw bytes of a blob.
func blobContent(f *object.File) ([]byte, error) {
	r, err := f.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
