package fileset

// Chunk is the internal mapping from a segment_id to a byte range in one
// of the payload's files (spec.md §3 FileChunk).
type Chunk struct {
	SegmentID  int64
	Ordinal    int
	ByteOffset int64
	Length     int
}

// BuildChunks lays files end to end in ordinal order and slices them into
// blockSize-sized spans, per spec.md §3: "a deterministic function of the
// FileHeader list and block_size." The final chunk of each file may be
// shorter than blockSize; a zero-length file still yields one empty chunk
// so every FileHeader participates in at least one segment.
func BuildChunks(headers []FileHeader, blockSize int) []Chunk {
	var chunks []Chunk
	segID := int64(0)
	for _, h := range headers {
		if h.Length == 0 {
			chunks = append(chunks, Chunk{SegmentID: segID, Ordinal: h.Ordinal, ByteOffset: 0, Length: 0})
			segID++
			continue
		}
		for offset := int64(0); offset < h.Length; offset += int64(blockSize) {
			remaining := h.Length - offset
			length := int64(blockSize)
			if remaining < length {
				length = remaining
			}
			chunks = append(chunks, Chunk{
				SegmentID:  segID,
				Ordinal:    h.Ordinal,
				ByteOffset: offset,
				Length:     int(length),
			})
			segID++
		}
	}
	return chunks
}
