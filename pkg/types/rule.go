package types

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tagcheck/tagcheck/pkg/condition"
)

// MetaEntry is one key/value pair of rule metadata.
type MetaEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Metadata is an ordered list of metadata pairs. Order is preserved from the
// rule source. Keys may repeat.
type Metadata []MetaEntry

// Get returns the first value for key.
func (m Metadata) Get(key string) (string, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// MarshalJSON renders metadata as an object with keys in source order.
// Repeated keys are all emitted.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object back, keeping the key order of the input.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metadata: expected object")
	}
	var out Metadata
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		out = append(out, MetaEntry{Key: key, Value: fmt.Sprint(value)})
	}
	*m = out
	return nil
}

// Source locates a rule definition for diagnostics.
type Source struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

func (s Source) String() string {
	switch {
	case s.File == "":
		return fmt.Sprintf("line %d", s.Line)
	case s.Line == 0:
		return s.File
	default:
		return fmt.Sprintf("%s:%d", s.File, s.Line)
	}
}

// Rule is a detection rule: patterns plus a condition over them, facts and
// other rules. Rules are immutable once loaded.
type Rule struct {
	ID        string         `json:"id"`
	Private   bool           `json:"private,omitempty"` // only usable as a dependency
	Tags      []string       `json:"tags,omitempty"`
	Meta      Metadata       `json:"meta,omitempty"`
	Patterns  []Pattern      `json:"patterns,omitempty"`
	Condition condition.Node `json:"-"`
	Source    Source         `json:"source"`
}

// PatternIndex returns the position of the named pattern, or -1.
func (r *Rule) PatternIndex(name string) int {
	for i := range r.Patterns {
		if r.Patterns[i].Name == name {
			return i
		}
	}
	return -1
}

// ConditionString renders the condition in rule syntax.
func (r *Rule) ConditionString() string {
	if r.Condition == nil {
		return ""
	}
	return r.Condition.String()
}
