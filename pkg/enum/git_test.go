package enum

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// setupTestGitRepo creates a repository with two commits. The second commit
// modifies file1.txt and deletes removed.txt.
func setupTestGitRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	commit := func(msg string) {
		_, err := wt.Add(".")
		require.NoError(t, err)
		_, err = wt.Commit(msg, &git.CommitOptions{
			All: true,
			Author: &object.Signature{
				Name:  "Test User",
				Email: "test@example.com",
				When:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			},
		})
		require.NoError(t, err)
	}

	writeFile(t, filepath.Join(dir, "file1.txt"), []byte("hello from git"))
	writeFile(t, filepath.Join(dir, "removed.txt"), []byte("old secret"))
	writeFile(t, filepath.Join(dir, "subdir", "nested.txt"), []byte("nested content"))
	commit("initial")

	writeFile(t, filepath.Join(dir, "file1.txt"), []byte("hello again"))
	require.NoError(t, os.Remove(filepath.Join(dir, "removed.txt")))
	commit("second")

	return dir
}

func gitArtifacts(t *testing.T, e *GitEnumerator) map[string][]string {
	t.Helper()
	out := make(map[string][]string)
	err := e.Enumerate(context.Background(), func(a *types.Artifact) error {
		out[a.Name] = append(out[a.Name], string(a.Streams[0].Content))
		assert.Equal(t, "git", a.Origin.Kind)
		assert.Len(t, a.Origin.Commit, 40)
		assert.Equal(t, "Test User <test@example.com>", a.Origin.Author)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestGitEnumerator_History(t *testing.T) {
	dir := setupTestGitRepo(t)

	got := gitArtifacts(t, NewGitEnumerator(Config{Root: dir}))

	assert.ElementsMatch(t, []string{"hello again", "hello from git"}, got["file1.txt"])
	assert.Equal(t, []string{"old secret"}, got["removed.txt"], "deleted files are still in history")
	assert.Equal(t, []string{"nested content"}, got["subdir/nested.txt"], "unchanged blobs are yielded once")
}

func TestGitEnumerator_HeadOnly(t *testing.T) {
	dir := setupTestGitRepo(t)

	e := NewGitEnumerator(Config{Root: dir})
	e.HeadOnly = true
	got := gitArtifacts(t, e)

	assert.Equal(t, []string{"hello again"}, got["file1.txt"])
	assert.NotContains(t, got, "removed.txt")
}

func TestGitEnumerator_MaxFileSize(t *testing.T) {
	dir := setupTestGitRepo(t)

	got := gitArtifacts(t, NewGitEnumerator(Config{Root: dir, MaxFileSize: 11}))
	assert.Equal(t, []string{"hello again"}, got["file1.txt"])
	assert.Equal(t, []string{"old secret"}, got["removed.txt"])
	assert.NotContains(t, got, "subdir/nested.txt")
}

func TestGitEnumerator_Errors(t *testing.T) {
	err := NewGitEnumerator(Config{Root: t.TempDir()}).Enumerate(context.Background(), func(*types.Artifact) error { return nil })
	assert.Error(t, err)

	e := NewGitEnumerator(Config{Root: setupTestGitRepo(t)})
	e.CommitRef = "does-not-exist"
	err = e.Enumerate(context.Background(), func(*types.Artifact) error { return nil })
	assert.Error(t, err)
}

func TestGitEnumerator_Cancelled(t *testing.T) {
	dir := setupTestGitRepo(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewGitEnumerator(Config{Root: dir}).Enumerate(ctx, func(*types.Artifact) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
