// Package enum discovers artifacts to scan: files on disk, blobs in git
// history, and the members of archives found among them.
package enum

import (
	"context"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// Enumerator discovers artifacts from a source.
type Enumerator interface {
	// Enumerate yields artifacts from the source. The callback may be called
	// concurrently.
	Enumerate(ctx context.Context, callback func(a *types.Artifact) error) error
}

// Config for enumeration.
type Config struct {
	// Root is the starting path for enumeration.
	Root string

	// IncludeHidden includes hidden files/directories (starting with .).
	IncludeHidden bool

	// MaxFileSize is the maximum file size to process (0 = no limit).
	MaxFileSize int64

	// FollowSymlinks follows symbolic links.
	FollowSymlinks bool

	// Extract splits containers into member streams (comma-separated:
	// zip,7z,pdf or 'all').
	Extract string

	// ExtractLimits bounds archive expansion.
	ExtractLimits ExtractLimits
}
