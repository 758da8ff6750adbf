package enum

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// mockEnumerator yields a fixed list of artifacts, stopping on cancellation.
type mockEnumerator struct {
	artifacts []*types.Artifact
	err       error
}

func (m *mockEnumerator) Enumerate(ctx context.Context, callback func(a *types.Artifact) error) error {
	for _, a := range m.artifacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := callback(a); err != nil {
			return err
		}
	}
	return m.err
}

func TestCombinedEnumerator_DeduplicatesByID(t *testing.T) {
	e1 := &mockEnumerator{artifacts: []*types.Artifact{types.NewArtifact("first.txt", []byte("dup"))}}
	e2 := &mockEnumerator{artifacts: []*types.Artifact{
		types.NewArtifact("second.txt", []byte("dup")),
		types.NewArtifact("unique.txt", []byte("unique")),
	}}
	combined := NewCombinedEnumerator(e1, e2)

	var names []string
	err := combined.Enumerate(context.Background(), func(a *types.Artifact) error {
		names = append(names, a.Name)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"first.txt", "unique.txt"}, names)
}

func TestCombinedEnumerator_PropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	combined := NewCombinedEnumerator(
		&mockEnumerator{err: boom},
		&mockEnumerator{artifacts: []*types.Artifact{types.NewArtifact("never", nil)}},
	)

	called := false
	err := combined.Enumerate(context.Background(), func(*types.Artifact) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, called, "later enumerators must not run after a failure")
}

func TestCombinedEnumerator_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e1 := &mockEnumerator{artifacts: []*types.Artifact{
		types.NewArtifact("a.txt", []byte("a")),
		types.NewArtifact("b.txt", []byte("b")),
	}}
	combined := NewCombinedEnumerator(e1)

	var callCount int
	err := combined.Enumerate(ctx, func(*types.Artifact) error {
		callCount++
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, callCount, "should stop after cancellation")
}

func TestChannel(t *testing.T) {
	e := &mockEnumerator{artifacts: []*types.Artifact{
		types.NewArtifact("a", []byte("a")),
		types.NewArtifact("b", []byte("b")),
		types.NewArtifact("c", []byte("c")),
	}}

	out, errc := Channel(context.Background(), e, 1)
	var names []string
	for a := range out {
		names = append(names, a.Name)
	}
	require.NoError(t, <-errc)
	assert.Equal(t, []string{"a", "b", "c"}, names)
}
