package matcher

import (
	"fmt"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// ValidatePattern compiles p on its own and reports why it cannot be matched:
// invalid hex, empty literals, regexes RE2 rejects (unless
// opts.BacktrackingFallback is set) and regexes that match the empty string.
func ValidatePattern(p *types.Pattern, opts Options) error {
	opts = opts.withDefaults()
	if p.Kind == types.KindRegex {
		_, err := compileRegex(p, opts)
		return err
	}
	encs, err := p.Encodings()
	if err != nil {
		return err
	}
	if len(encs) == 0 {
		return fmt.Errorf("pattern has no encodings")
	}
	for _, enc := range encs {
		if len(enc) == 0 {
			return fmt.Errorf("empty literal")
		}
	}
	return nil
}

// PatternCheck returns ValidatePattern bound to opts, in the shape rule
// validation expects.
func PatternCheck(opts Options) func(*types.Pattern) error {
	return func(p *types.Pattern) error {
		return ValidatePattern(p, opts)
	}
}
