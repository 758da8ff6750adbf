package enum

import (
	"context"
	"sync"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// CombinedEnumerator runs multiple enumerators sequentially and deduplicates
// artifacts by ID (content digest) so identical content is scanned once.
type CombinedEnumerator struct {
	enumerators []Enumerator
}

// NewCombinedEnumerator creates a CombinedEnumerator that wraps the provided
// enumerators. They are run in order and duplicate artifacts are suppressed.
func NewCombinedEnumerator(enumerators ...Enumerator) *CombinedEnumerator {
	return &CombinedEnumerator{enumerators: enumerators}
}

// Enumerate runs each child enumerator in sequence, passing unique artifacts
// to callback.
func (c *CombinedEnumerator) Enumerate(ctx context.Context, callback func(a *types.Artifact) error) error {
	var mu sync.Mutex
	seen := make(map[string]bool)

	for _, e := range c.enumerators {
		err := e.Enumerate(ctx, func(a *types.Artifact) error {
			mu.Lock()
			if seen[a.ID] {
				mu.Unlock()
				return nil
			}
			seen[a.ID] = true
			mu.Unlock()

			return callback(a)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Channel runs e in a goroutine and delivers its artifacts on the returned
// channel, which is closed when enumeration ends. The error channel receives
// the enumeration result exactly once.
func Channel(ctx context.Context, e Enumerator, buffer int) (<-chan *types.Artifact, <-chan error) {
	out := make(chan *types.Artifact, buffer)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		errc <- e.Enumerate(ctx, func(a *types.Artifact) error {
			select {
			case out <- a:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return out, errc
}
