package types

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Digest is a SHA-256 content hash used as the default artifact ID.
type Digest [32]byte

// ComputeDigest hashes the concatenation of the given streams.
func ComputeDigest(streams ...[]byte) Digest {
	h := sha256.New()
	for _, s := range streams {
		h.Write(s)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Hex returns the 64-character hex form.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}

// ParseDigest parses a 64-character hex string.
func ParseDigest(s string) (Digest, error) {
	if len(s) != 64 {
		return Digest{}, fmt.Errorf("invalid digest length: expected 64, got %d", len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid hex string: %w", err)
	}
	var d Digest
	copy(d[:], decoded)
	return d, nil
}

// MarshalJSON implements json.Marshaler.
func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Hex())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Digest) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDigest(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer.
func (d Digest) Value() (driver.Value, error) {
	return d.Hex(), nil
}

// Scan implements sql.Scanner.
func (d *Digest) Scan(value interface{}) error {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan type %T into Digest", value)
	}
	parsed, err := ParseDigest(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Stream is one logical content stream of an artifact, e.g. the file itself
// or one archive member.
type Stream struct {
	Name    string
	Content []byte
}

// Origin records where an artifact was found.
type Origin struct {
	Kind   string `json:"kind"`             // "file", "git", "archive", "inline"
	Path   string `json:"path,omitempty"`   // file or repository path
	Member string `json:"member,omitempty"` // path inside an archive or commit tree
	Commit string `json:"commit,omitempty"`
	Author string `json:"author,omitempty"`
}

// Artifact is the unit being scanned.
type Artifact struct {
	ID      string
	Name    string
	Streams []Stream
	Facts   Facts
	Origin  Origin
}

// NewArtifact builds a single-stream artifact whose ID is the content digest.
func NewArtifact(name string, content []byte) *Artifact {
	return &Artifact{
		ID:      ComputeDigest(content).Hex(),
		Name:    name,
		Streams: []Stream{{Name: "", Content: content}},
		Facts:   Facts{},
		Origin:  Origin{Kind: "inline", Path: name},
	}
}

// Size returns the total content length over all streams.
func (a *Artifact) Size() int64 {
	var n int64
	for _, s := range a.Streams {
		n += int64(len(s.Content))
	}
	return n
}

// Facts maps canonical fact keys to values. A fact may be multi-valued; an
// absent key means the fact is unknown for the artifact.
type Facts map[string][]string

// CanonicalField normalizes a fact name: lower case, dots become underscores
// and an "al_" prefix is dropped, so "network.static_domain",
// "network_static_domain" and "al_network_static_domain" are the same fact.
func CanonicalField(field string) string {
	key := strings.ToLower(strings.TrimSpace(field))
	key = strings.ReplaceAll(key, ".", "_")
	return strings.TrimPrefix(key, "al_")
}

// Add appends values to a fact.
func (f Facts) Add(field string, values ...string) {
	key := CanonicalField(field)
	f[key] = append(f[key], values...)
}

// Set replaces the values of a fact.
func (f Facts) Set(field string, values ...string) {
	f[CanonicalField(field)] = append([]string(nil), values...)
}

// Lookup returns the values of a fact.
func (f Facts) Lookup(field string) ([]string, bool) {
	v, ok := f[CanonicalField(field)]
	return v, ok
}

// Merge adds every fact of other to f.
func (f Facts) Merge(other Facts) {
	for k, v := range other {
		f.Add(k, v...)
	}
}

// Clone returns an independent copy.
func (f Facts) Clone() Facts {
	out := make(Facts, len(f))
	for k, v := range f {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Keys returns the fact keys in sorted order.
func (f Facts) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
