// Package pack exports decoded trace runs as compressed, integrity-
// checked archives for sharing and long-term storage, and verifies
// them on the way back in.
//
// A pack is a tar stream wrapped in zstd or xz. It holds manifest.json
// followed by the event chunks it describes; every chunk is addressed
// by a multihash CID and the manifest pins a merkle root over the
// chunk CIDs.
package pack

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/saworbit/callflight/pkg/trace"
)

// DefaultChunkEvents is how many events one chunk holds.
const DefaultChunkEvents = 4096

// Options configures pack creation.
type Options struct {
	// Compression is "zstd" (default) or "xz".
	Compression string

	// ChunkEvents overrides the events-per-chunk split.
	ChunkEvents int
}

// Write exports run into a pack at path and returns the manifest it
// stored.
func Write(path string, run *trace.Run, opts Options) (*Manifest, error) {
	if opts.ChunkEvents <= 0 {
		opts.ChunkEvents = DefaultChunkEvents
	}
	if opts.Compression == "" {
		opts.Compression = "zstd"
	}

	chunks, blobs, err := chunkEvents(run.Events, opts.ChunkEvents)
	if err != nil {
		return nil, err
	}

	root, err := merkleRoot(chunks)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		Version:   ManifestVersion,
		CreatedAt: time.Now().UTC(),
		Source:    run.Path,
		Capacity:  run.Capacity,
		Written:   run.Written,
		Dropped:   run.Dropped,
		StartNS:   run.StartNS,
		Chunks:    chunks,
		Root:      root,
		Summary:   trace.Summarize(run),
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pack file: %w", err)
	}

	cw, err := newCompressor(f, opts.Compression)
	if err != nil {
		f.Close()
		return nil, err
	}

	tw := tar.NewWriter(cw)

	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	if err := writeTarFile(tw, "manifest.json", manifestBytes); err != nil {
		f.Close()
		return nil, err
	}
	for i, blob := range blobs {
		if err := writeTarFile(tw, chunks[i].Name, blob); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		f.Close()
		return nil, fmt.Errorf("finish pack archive: %w", err)
	}
	if err := cw.Close(); err != nil {
		f.Close()
		return nil, fmt.Errorf("finish pack compression: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close pack file: %w", err)
	}

	return manifest, nil
}

// Read loads a pack, returning its manifest and the decoded events in
// manifest chunk order.
func Read(path string) (*Manifest, []trace.Event, error) {
	manifest, blobs, err := readArchive(path)
	if err != nil {
		return nil, nil, err
	}

	var events []trace.Event
	for _, ref := range manifest.Chunks {
		blob, ok := blobs[ref.Name]
		if !ok {
			return nil, nil, fmt.Errorf("pack %s: missing chunk %s", path, ref.Name)
		}
		var chunk []trace.Event
		if err := json.Unmarshal(blob, &chunk); err != nil {
			return nil, nil, fmt.Errorf("pack %s: decode chunk %s: %w", path, ref.Name, err)
		}
		events = append(events, chunk...)
	}

	return manifest, events, nil
}

// VerifyReport is the outcome of an integrity check.
type VerifyReport struct {
	OK           bool     `json:"ok"`
	Chunks       int      `json:"chunks"`
	BadChunks    []string `json:"bad_chunks,omitempty"`
	RootMismatch bool     `json:"root_mismatch,omitempty"`
}

// Verify recomputes every chunk CID and the merkle root and compares
// them against the manifest.
func Verify(path string) (*VerifyReport, error) {
	manifest, blobs, err := readArchive(path)
	if err != nil {
		return nil, err
	}

	rep := &VerifyReport{OK: true, Chunks: len(manifest.Chunks)}

	recomputed := make([]ChunkRef, 0, len(manifest.Chunks))
	for _, ref := range manifest.Chunks {
		blob, ok := blobs[ref.Name]
		if !ok {
			rep.OK = false
			rep.BadChunks = append(rep.BadChunks, ref.Name)
			continue
		}
		cid, err := computeCID(blob)
		if err != nil {
			return nil, err
		}
		if cid != ref.CID {
			rep.OK = false
			rep.BadChunks = append(rep.BadChunks, ref.Name)
		}
		recomputed = append(recomputed, ChunkRef{Name: ref.Name, CID: cid})
	}

	root, err := merkleRoot(recomputed)
	if err != nil {
		return nil, err
	}
	if root != manifest.Root {
		rep.OK = false
		rep.RootMismatch = true
	}

	return rep, nil
}

func chunkEvents(events []trace.Event, per int) ([]ChunkRef, [][]byte, error) {
	var (
		chunks []ChunkRef
		blobs  [][]byte
	)

	for start := 0; start < len(events); start += per {
		end := start + per
		if end > len(events) {
			end = len(events)
		}

		blob, err := json.Marshal(events[start:end])
		if err != nil {
			return nil, nil, fmt.Errorf("marshal event chunk: %w", err)
		}

		cid, err := computeCID(blob)
		if err != nil {
			return nil, nil, err
		}

		chunks = append(chunks, ChunkRef{
			Name:   fmt.Sprintf("chunks/chunk_%06d.json", len(chunks)),
			CID:    cid,
			Events: end - start,
		})
		blobs = append(blobs, blob)
	}

	return chunks, blobs, nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write pack header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write pack entry %s: %w", name, err)
	}
	return nil
}

func newCompressor(w io.Writer, codec string) (io.WriteCloser, error) {
	switch codec {
	case "zstd":
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("init zstd writer: %w", err)
		}
		return enc, nil
	case "xz":
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("init xz writer: %w", err)
		}
		return xw, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s (must be 'zstd' or 'xz')", codec)
	}
}

// Compression magics: zstd frame and the xz stream header.
var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

func newDecompressor(r io.Reader, head []byte) (io.ReadCloser, error) {
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("init zstd reader: %w", err)
		}
		// Closing the wrapper releases the decoder's worker goroutines.
		return dec.IOReadCloser(), nil
	case bytes.HasPrefix(head, xzMagic):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("init xz reader: %w", err)
		}
		return io.NopCloser(xr), nil
	default:
		return nil, fmt.Errorf("unrecognized pack compression (neither zstd nor xz)")
	}
}

func readArchive(path string) (*Manifest, map[string][]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read pack file: %w", err)
	}

	dr, err := newDecompressor(bytes.NewReader(raw), raw)
	if err != nil {
		return nil, nil, fmt.Errorf("pack %s: %w", path, err)
	}
	defer dr.Close()

	var manifest *Manifest
	blobs := make(map[string][]byte)

	tr := tar.NewReader(dr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("pack %s: read archive: %w", path, err)
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, nil, fmt.Errorf("pack %s: read entry %s: %w", path, hdr.Name, err)
		}

		if hdr.Name == "manifest.json" {
			var m Manifest
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, nil, fmt.Errorf("pack %s: decode manifest: %w", path, err)
			}
			if m.Version != ManifestVersion {
				return nil, nil, fmt.Errorf("pack %s: unsupported manifest version %d", path, m.Version)
			}
			manifest = &m
			continue
		}
		blobs[hdr.Name] = data
	}

	if manifest == nil {
		return nil, nil, fmt.Errorf("pack %s: no manifest.json", path)
	}

	return manifest, blobs, nil
}
