package fileset

import (
	"encoding/base64"

	"github.com/zeebo/blake3"
)

// ComputeMerkleRoot builds a bottom-up binary Merkle tree over base64
// BLAKE3 chunk hashes, duplicating the last element of an odd level,
// kept near-verbatim from the teacher's internal/chunker/merkle.go (the
// only change is the package it lives in).
func ComputeMerkleRoot(chunkHashes []string) (string, error) {
	if len(chunkHashes) == 0 {
		return "", nil
	}

	hashes := make([][]byte, len(chunkHashes))
	for i, hashStr := range chunkHashes {
		decoded, err := base64.StdEncoding.DecodeString(hashStr)
		if err != nil {
			return "", err
		}
		hashes[i] = decoded
	}

	for len(hashes) > 1 {
		var nextLevel [][]byte
		for i := 0; i < len(hashes); i += 2 {
			var combined []byte
			if i+1 < len(hashes) {
				combined = append(append([]byte{}, hashes[i]...), hashes[i+1]...)
			} else {
				combined = append(append([]byte{}, hashes[i]...), hashes[i]...)
			}
			sum := blake3.Sum256(combined)
			nextLevel = append(nextLevel, sum[:])
		}
		hashes = nextLevel
	}

	return base64.StdEncoding.EncodeToString(hashes[0]), nil
}

// DescriptorHashes extracts the ordered hash list a Merkle root is computed
// over.
func DescriptorHashes(descs []Descriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Hash
	}
	return out
}
