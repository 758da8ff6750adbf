package scanner

import (
	"encoding/base64"
	"fmt"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// ContentItem is an artifact submitted by a request/response caller.
type ContentItem struct {
	Name       string              `json:"name"`                  // e.g. "upload/invoice.js"
	Content    string              `json:"content,omitempty"`     // content as text
	ContentB64 string              `json:"content_b64,omitempty"` // content as base64, for binary data
	Facts      map[string][]string `json:"facts,omitempty"`       // extracted facts, by field
}

// Artifact converts the item into an artifact.
func (it ContentItem) Artifact() (*types.Artifact, error) {
	content := []byte(it.Content)
	if it.ContentB64 != "" {
		if it.Content != "" {
			return nil, fmt.Errorf("item %q sets both content and content_b64", it.Name)
		}
		b, err := base64.StdEncoding.DecodeString(it.ContentB64)
		if err != nil {
			return nil, fmt.Errorf("item %q: invalid content_b64: %w", it.Name, err)
		}
		content = b
	}
	a := types.NewArtifact(it.Name, content)
	for field, values := range it.Facts {
		a.Facts.Add(field, values...)
	}
	return a, nil
}

// BatchScanResult represents batch scan results
type BatchScanResult struct {
	Reports []*types.Report `json:"reports"`
	Matched int             `json:"matched"` // reports with at least one entry
}
