package pack

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cbergoon/merkletree"
	"github.com/multiformats/go-multihash"

	"github.com/saworbit/callflight/pkg/trace"
)

// ManifestVersion is bumped when the pack layout changes.
const ManifestVersion = 1

// ChunkRef identifies one event chunk inside a pack.
type ChunkRef struct {
	Name   string `json:"name"`
	CID    string `json:"cid"`
	Events int    `json:"events"`
}

// Manifest is the integrity and provenance record stored alongside the
// event chunks. The merkle root over the chunk CIDs lets a verifier
// detect both corrupted chunks and a tampered chunk list.
type Manifest struct {
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	Source    string         `json:"source"`
	Capacity  uint32         `json:"capacity"`
	Written   uint64         `json:"events_written"`
	Dropped   uint64         `json:"events_dropped"`
	StartNS   uint64         `json:"start_unix_ns"`
	Chunks    []ChunkRef     `json:"chunks"`
	Root      string         `json:"merkle_root"`
	Summary   *trace.Summary `json:"summary,omitempty"`
}

// computeCID returns the multihash content identifier for a chunk's
// raw bytes.
func computeCID(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("failed to compute multihash: %w", err)
	}
	return mh.B58String(), nil
}

// chunkContent implements merkletree.Content over a chunk CID.
type chunkContent struct {
	cid string
}

func (c chunkContent) CalculateHash() ([]byte, error) {
	h := sha256.New()
	if _, err := h.Write([]byte(c.cid)); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func (c chunkContent) Equals(other merkletree.Content) (bool, error) {
	oc, ok := other.(chunkContent)
	if !ok {
		return false, fmt.Errorf("type mismatch")
	}
	return c.cid == oc.cid, nil
}

// merkleRoot builds a tree over the chunk CIDs and returns its root in
// hex.
func merkleRoot(chunks []ChunkRef) (string, error) {
	if len(chunks) == 0 {
		return "", nil
	}

	contents := make([]merkletree.Content, 0, len(chunks))
	for _, c := range chunks {
		contents = append(contents, chunkContent{cid: c.CID})
	}

	tree, err := merkletree.NewTree(contents)
	if err != nil {
		return "", fmt.Errorf("failed to build merkle tree: %w", err)
	}

	return hex.EncodeToString(tree.MerkleRoot()), nil
}
