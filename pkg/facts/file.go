package facts

import (
	"context"
	"path"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tagcheck/tagcheck/pkg/types"
)

// Fact fields produced by FileCollector.
const (
	FieldFileName      = "file_name"
	FieldFileExtension = "file_extension"
	FieldFileSize      = "file_size"
	FieldFileType      = "file_type"
	FieldMime          = "mime"
)

// FileCollector derives facts from an artifact's name and content:
// file_name, file_extension, file_size (bytes over all streams), mime (as
// detected from the first stream) and file_type, a coarse class of mime.
type FileCollector struct{}

// Name implements Collector.
func (FileCollector) Name() string { return "file" }

// Collect implements Collector.
func (FileCollector) Collect(_ context.Context, a *types.Artifact) (types.Facts, error) {
	f := types.Facts{}
	if a.Name != "" {
		f.Set(FieldFileName, a.Name)
		if ext := strings.ToLower(strings.TrimPrefix(path.Ext(a.Name), ".")); ext != "" {
			f.Set(FieldFileExtension, ext)
		}
	}
	f.Set(FieldFileSize, strconv.FormatInt(a.Size(), 10))

	if len(a.Streams) > 0 && len(a.Streams[0].Content) > 0 {
		m := mimetype.Detect(a.Streams[0].Content)
		mime, _, _ := strings.Cut(m.String(), ";")
		f.Set(FieldMime, mime)
		f.Set(FieldFileType, classify(m))
	}
	return f, nil
}

// classify maps a detected type to a coarse file_type value.
func classify(m *mimetype.MIME) string {
	for t := m; t != nil; t = t.Parent() {
		switch t.String() {
		case "application/zip", "application/x-7z-compressed", "application/gzip",
			"application/x-tar", "application/x-rar-compressed", "application/x-xz",
			"application/x-bzip2":
			return "archive"
		case "application/x-executable", "application/x-elf", "application/x-mach-binary",
			"application/vnd.microsoft.portable-executable", "application/x-msdownload":
			return "executable"
		case "application/pdf", "application/msword", "application/rtf",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
			return "document"
		}
	}
	mime, _, _ := strings.Cut(m.String(), ";")
	switch {
	case strings.HasPrefix(mime, "text/"):
		return "text"
	case strings.HasPrefix(mime, "image/"):
		return "image"
	case strings.HasPrefix(mime, "audio/"), strings.HasPrefix(mime, "video/"):
		return "media"
	}
	return "binary"
}
