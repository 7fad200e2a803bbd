package fileset

import (
	"encoding/base64"
	"fmt"

	"github.com/zeebo/blake3"
)

// Descriptor is the per-chunk integrity record kept alongside the chunk
// layout: a BLAKE3 hash of the chunk's plaintext bytes, grounded on the
// teacher's internal/chunker.ComputeManifest. Unlike the teacher's
// Manifest, this carries none of the domain-specific profile fields
// (media/medical/engineering/telemetry) — no SPEC_FULL component reads
// them.
type Descriptor struct {
	SegmentID int64
	Hash      string // base64 BLAKE3
	Length    int
}

// ComputeDescriptors hashes every chunk's on-disk bytes under root,
// producing the per-chunk integrity list the Merkle root is built from.
// The list itself is never sent: spec.md's message set carries the files
// themselves, not per-chunk hashes, so it stays sender-side (and
// receiver-side, when VerifyMerkleRoot recomputes it from disk).
func ComputeDescriptors(root string, headers []FileHeader, chunks []Chunk) ([]Descriptor, error) {
	byOrdinal := make(map[int]FileHeader, len(headers))
	for _, h := range headers {
		byOrdinal[h.Ordinal] = h
	}

	out := make([]Descriptor, len(chunks))
	for i, c := range chunks {
		h, ok := byOrdinal[c.Ordinal]
		if !ok {
			return nil, fmt.Errorf("fileset: no header for ordinal %d", c.Ordinal)
		}
		var data []byte
		var err error
		if c.Length > 0 {
			data, err = ReadAt(root, h, c.ByteOffset, c.Length)
			if err != nil {
				return nil, err
			}
		}
		sum := blake3.Sum256(data)
		out[i] = Descriptor{SegmentID: c.SegmentID, Hash: base64.StdEncoding.EncodeToString(sum[:]), Length: c.Length}
	}
	return out, nil
}
