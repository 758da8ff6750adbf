package types

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf16"
)

// PatternKind classifies how a pattern is matched.
type PatternKind int

const (
	// KindText is a literal string, matched as UTF-8 and/or UTF-16LE bytes.
	KindText PatternKind = iota
	// KindHex is a literal byte sequence written as hex pairs.
	KindHex
	// KindRegex is a regular expression.
	KindRegex
)

var patternKindNames = []string{"literal-text", "literal-bytes", "regex"}

func (k PatternKind) String() string {
	if int(k) < len(patternKindNames) {
		return patternKindNames[k]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k PatternKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PatternKind) UnmarshalText(b []byte) error {
	for i, name := range patternKindNames {
		if name == string(b) {
			*k = PatternKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown pattern kind %q", string(b))
}

// Modifiers adjust how a pattern is matched.
type Modifiers struct {
	Nocase    bool `json:"nocase,omitempty" yaml:"nocase,omitempty"`
	Wide      bool `json:"wide,omitempty" yaml:"wide,omitempty"`
	Ascii     bool `json:"ascii,omitempty" yaml:"ascii,omitempty"`
	Fullword  bool `json:"fullword,omitempty" yaml:"fullword,omitempty"`
	Dotall    bool `json:"dotall,omitempty" yaml:"dotall,omitempty"`
	Multiline bool `json:"multiline,omitempty" yaml:"multiline,omitempty"`
}

// String renders the modifiers in declaration syntax, e.g. "nocase wide".
func (m Modifiers) String() string {
	var parts []string
	for _, f := range []struct {
		on   bool
		name string
	}{
		{m.Nocase, "nocase"},
		{m.Wide, "wide"},
		{m.Ascii, "ascii"},
		{m.Fullword, "fullword"},
		{m.Dotall, "dotall"},
		{m.Multiline, "multiline"},
	} {
		if f.on {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, " ")
}

// Pattern is a named search pattern declared by a rule.
type Pattern struct {
	Name      string      `json:"name"` // without the leading "$"
	Kind      PatternKind `json:"kind"`
	Raw       string      `json:"raw"` // text, hex digits or regex source as written
	Modifiers Modifiers   `json:"modifiers"`
}

// Encodings returns the byte sequences a literal pattern matches. Text
// patterns yield UTF-8 unless only wide is set, plus UTF-16LE when wide is set.
// Hex patterns yield their decoded bytes. Regex patterns yield nil.
func (p *Pattern) Encodings() ([][]byte, error) {
	switch p.Kind {
	case KindText:
		var out [][]byte
		if !p.Modifiers.Wide || p.Modifiers.Ascii {
			out = append(out, []byte(p.Raw))
		}
		if p.Modifiers.Wide {
			out = append(out, EncodeUTF16LE(p.Raw))
		}
		return out, nil
	case KindHex:
		b, err := ParseHex(p.Raw)
		if err != nil {
			return nil, err
		}
		return [][]byte{b}, nil
	}
	return nil, nil
}

// EncodeUTF16LE encodes s as little-endian UTF-16.
func EncodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(units)*2)
	for _, u := range units {
		out = append(out, byte(u), byte(u>>8))
	}
	return out
}

// ParseHex decodes a hex byte string such as "E2 96 93". Whitespace between
// pairs is ignored. Wildcards and jumps are not supported.
func ParseHex(s string) ([]byte, error) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			continue
		case r == '?' || r == '[' || r == '(' || r == '|':
			return nil, fmt.Errorf("hex wildcards and jumps are not supported")
		}
		b.WriteRune(r)
	}
	digits := b.String()
	if digits == "" {
		return nil, fmt.Errorf("empty hex sequence")
	}
	if len(digits)%2 != 0 {
		return nil, fmt.Errorf("odd number of hex digits")
	}
	out, err := hex.DecodeString(digits)
	if err != nil {
		return nil, fmt.Errorf("invalid hex sequence: %w", err)
	}
	return out, nil
}
