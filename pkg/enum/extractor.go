package enum

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode"

	"github.com/bodgit/sevenzip"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// Archive kinds understood by ExtractStreams.
const (
	KindZip      = "zip"
	KindSevenZip = "7z"
	KindPDF      = "pdf"
)

// ExtractLimits bounds archive expansion.
type ExtractLimits struct {
	MaxMembers    int   // members read per archive (0 = default)
	MaxMemberSize int64 // bytes read per member (0 = default)
	MaxTotalSize  int64 // bytes read per archive (0 = default)
}

// DefaultExtractLimits returns the limits used when a field is zero.
func DefaultExtractLimits() ExtractLimits {
	return ExtractLimits{
		MaxMembers:    10000,
		MaxMemberSize: 64 << 20,
		MaxTotalSize:  256 << 20,
	}
}

func (l ExtractLimits) withDefaults() ExtractLimits {
	d := DefaultExtractLimits()
	if l.MaxMembers <= 0 {
		l.MaxMembers = d.MaxMembers
	}
	if l.MaxMemberSize <= 0 {
		l.MaxMemberSize = d.MaxMemberSize
	}
	if l.MaxTotalSize <= 0 {
		l.MaxTotalSize = d.MaxTotalSize
	}
	return l
}

// archiveKind detects the container kind of content, or "" when it is not a
// container. Office documents, jars and apks are zips.
func archiveKind(name string, content []byte) string {
	for m := mimetype.Detect(content); m != nil; m = m.Parent() {
		switch {
		case m.Is("application/zip"):
			return KindZip
		case m.Is("application/x-7z-compressed"):
			return KindSevenZip
		case m.Is("application/pdf"):
			return KindPDF
		}
	}
	// mimetype needs the leading bytes; fall back to the extension.
	switch strings.ToLower(path.Ext(name)) {
	case ".zip":
		return KindZip
	case ".7z":
		return KindSevenZip
	case ".pdf":
		return KindPDF
	}
	return ""
}

// ExtractStreams splits a container into named member streams.
func ExtractStreams(kind string, content []byte, limits ExtractLimits) ([]types.Stream, error) {
	limits = limits.withDefaults()
	switch kind {
	case KindZip:
		return extractZip(content, limits)
	case KindSevenZip:
		return extractSevenZip(content, limits)
	case KindPDF:
		return extractPDF(content)
	default:
		return nil, fmt.Errorf("unsupported archive kind: %s", kind)
	}
}

type member struct {
	name string
	dir  bool
	open func() (io.ReadCloser, error)
}

// readMembers reads members up to the limits. Unreadable members are skipped.
func readMembers(members []member, limits ExtractLimits) []types.Stream {
	var streams []types.Stream
	var total int64
	for _, m := range members {
		if m.dir {
			continue
		}
		if len(streams) >= limits.MaxMembers || total >= limits.MaxTotalSize {
			break
		}
		rc, err := m.open()
		if err != nil {
			continue
		}
		n := min(limits.MaxMemberSize, limits.MaxTotalSize-total)
		data, err := io.ReadAll(io.LimitReader(rc, n))
		rc.Close()
		if err != nil {
			continue
		}
		total += int64(len(data))
		streams = append(streams, types.Stream{Name: m.name, Content: data})

		if isOfficeText(m.name) {
			if text := extractXMLText(data); text != "" {
				streams = append(streams, types.Stream{Name: m.name + "#text", Content: []byte(text)})
			}
		}
	}
	return streams
}

// extractZip reads zip members (including office documents).
func extractZip(content []byte, limits ExtractLimits) ([]types.Stream, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	members := make([]member, 0, len(zr.File))
	for _, f := range zr.File {
		members = append(members, member{name: f.Name, dir: f.FileInfo().IsDir(), open: f.Open})
	}
	return readMembers(members, limits), nil
}

// extractSevenZip reads 7z members using bodgit/sevenzip.
func extractSevenZip(content []byte, limits ExtractLimits) ([]types.Stream, error) {
	zr, err := sevenzip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open 7z: %w", err)
	}
	members := make([]member, 0, len(zr.File))
	for _, f := range zr.File {
		members = append(members, member{name: f.Name, dir: f.FileInfo().IsDir(), open: f.Open})
	}
	return readMembers(members, limits), nil
}

// extractPDF extracts the text of every page using ledongthuc/pdf, one stream
// per page.
func extractPDF(content []byte) ([]types.Stream, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	var streams []types.Stream
	for pageNum := 1; pageNum <= r.NumPage(); pageNum++ {
		page := r.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil || strings.TrimSpace(text) == "" {
			// Continue on error to extract what we can
			continue
		}
		streams = append(streams, types.Stream{
			Name:    fmt.Sprintf("page/%d", pageNum),
			Content: []byte(text),
		})
	}
	return streams, nil
}

// isOfficeText reports whether a zip member holds the text of an office
// document.
func isOfficeText(name string) bool {
	switch {
	case name == "word/document.xml", name == "xl/sharedStrings.xml":
		return true
	case strings.HasPrefix(name, "xl/worksheets/sheet") && strings.HasSuffix(name, ".xml"):
		return true
	case strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml"):
		return true
	}
	return false
}

// extractXMLText collects the non-blank text nodes of XML data.
func extractXMLText(data []byte) string {
	var text strings.Builder
	decoder := xml.NewDecoder(bytes.NewReader(data))

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		if cd, ok := token.(xml.CharData); ok {
			content := string(cd)
			if strings.TrimSpace(content) != "" {
				if text.Len() > 0 {
					text.WriteString(" ")
				}
				text.WriteString(cleanText(content))
			}
		}
	}

	return text.String()
}

// cleanText collapses whitespace and drops non-printable characters.
func cleanText(s string) string {
	var result strings.Builder
	lastSpace := false

	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastSpace {
				result.WriteRune(' ')
				lastSpace = true
			}
		} else if unicode.IsPrint(r) {
			result.WriteRune(r)
			lastSpace = false
		}
	}

	return strings.TrimSpace(result.String())
}
