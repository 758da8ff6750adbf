package matcher

// ChunkConfig configures buffer chunking behavior
type ChunkConfig struct {
	MaxChunkSize int // Bytes owned by each chunk
	Overlap      int // Bytes each chunk reads past its end (longest literal - 1)
}

// Chunk represents a window of the buffer. Matches are attributed to the
// chunk whose [StartOffset, EndOffset) range contains their first byte; the
// trailing overlap only lets matches that start near the end complete.
type Chunk struct {
	Content     []byte // Window content, including the overlap
	StartOffset int    // Byte offset in the buffer where this chunk starts
	EndOffset   int    // Byte offset in the buffer where this chunk's own range ends
	Index       int    // Chunk number (0-indexed)
}

// Owns reports whether a match starting at the window-relative offset start
// belongs to this chunk.
func (c Chunk) Owns(start int) bool {
	return c.StartOffset+start < c.EndOffset
}

// ChunkContent splits content into consecutive chunks of MaxChunkSize bytes,
// each extended by Overlap bytes. Content no larger than MaxChunkSize is a
// single chunk. Empty content yields no chunks.
func ChunkContent(content []byte, config ChunkConfig) []Chunk {
	if len(content) == 0 {
		return nil
	}
	size := config.MaxChunkSize
	if size <= 0 || len(content) <= size {
		return []Chunk{{
			Content:     content,
			StartOffset: 0,
			EndOffset:   len(content),
			Index:       0,
		}}
	}
	overlap := config.Overlap
	if overlap < 0 {
		overlap = 0
	}

	chunks := make([]Chunk, 0, len(content)/size+1)
	for start := 0; start < len(content); start += size {
		end := min(start+size, len(content))
		windowEnd := min(end+overlap, len(content))
		chunks = append(chunks, Chunk{
			Content:     content[start:windowEnd],
			StartOffset: start,
			EndOffset:   end,
			Index:       len(chunks),
		})
	}
	return chunks
}
