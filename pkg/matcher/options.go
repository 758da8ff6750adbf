package matcher

import (
	"time"

	"github.com/rs/zerolog"
)

// Options configures matcher compilation and scanning.
type Options struct {
	// ChunkSize is the number of bytes each literal pass covers before the
	// context is checked again. Default: 1MB.
	ChunkSize int

	// MaxOffsets is the number of offsets recorded per pattern. Counts are
	// never limited by it. Default: 16.
	MaxOffsets int

	// MaxMatchesPerPattern stops counting a pattern once it is reached and
	// marks the pattern truncated (0 = unlimited). Default: unlimited.
	MaxMatchesPerPattern int

	// BacktrackingFallback compiles regexes RE2 rejects (look-around,
	// back-references) with a backtracking engine instead of failing.
	BacktrackingFallback bool

	// RegexTimeout bounds a single backtracking regex search.
	// Default: 5 seconds.
	RegexTimeout time.Duration

	// RegexCheckInterval is the number of regex matches between context
	// checks. The context is also checked after every RegexCheckBytes of
	// input. Default: 256.
	RegexCheckInterval int

	// RegexCheckBytes is the number of bytes a regex may advance through the
	// buffer between context checks. Default: 64KB.
	RegexCheckBytes int

	// Logger receives warnings such as regex timeouts.
	Logger zerolog.Logger
}

// DefaultOptions returns the default options for the matcher
func DefaultOptions() Options {
	return Options{
		ChunkSize:          1 << 20,
		MaxOffsets:         16,
		RegexTimeout:       5 * time.Second,
		RegexCheckInterval: 256,
		RegexCheckBytes:    64 << 10,
		Logger:             zerolog.Nop(),
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.MaxOffsets < 0 {
		o.MaxOffsets = 0
	} else if o.MaxOffsets == 0 {
		o.MaxOffsets = d.MaxOffsets
	}
	if o.MaxMatchesPerPattern < 0 {
		o.MaxMatchesPerPattern = 0
	}
	if o.RegexTimeout <= 0 {
		o.RegexTimeout = d.RegexTimeout
	}
	if o.RegexCheckInterval <= 0 {
		o.RegexCheckInterval = d.RegexCheckInterval
	}
	if o.RegexCheckBytes <= 0 {
		o.RegexCheckBytes = d.RegexCheckBytes
	}
	return o
}
