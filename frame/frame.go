// Package frame builds the per-frame offset directory from a single
// streaming pass over a vologram sequence, and parses an individual
// frame's payload sections (vertices, normals, indices, UVs, texture)
// once its bytes have been loaded.
package frame

import (
	"github.com/pkg/errors"

	"github.com/volograms/volgeom/header"
	"github.com/volograms/volgeom/internal/byteio"
)

// Keyframe values of the on-disk frame header.
const (
	Tracked         uint8 = 0
	Keyframe        uint8 = 1
	BackwardTracked uint8 = 2 // only valid in version >= 12.
)

// MaxFrameTotalSize is the sanity cap on any single frame's total size
// (header + corrected payload + trailing size word). A directory entry
// larger than this is treated as corruption, not a legitimately huge frame.
const MaxFrameTotalSize = 1 << 30 // 1 GiB

// frameHdrSize is the constant on-disk size of a frame header: frame_number
// (4) + mesh_data_sz (4) + keyframe (1). Kept as an explicit constant
// rather than inlined, for forward compatibility the way the directory
// entry carries its own HdrSz field.
const frameHdrSize = 9

// Header mirrors the on-disk per-frame header, excluding the trailing
// redundant size word that follows the payload.
type Header struct {
	FrameNumber uint32
	MeshDataSz  uint32
	Keyframe    uint8
}

// IsKeyframe reports whether h carries its own indices/UVs (values 1 or 2).
func (h Header) IsKeyframe() bool { return h.Keyframe != Tracked }

// DirectoryEntry records where a frame lives in the sequence stream and
// how large its various parts are, derived once during the directory
// build and never persisted to disk.
type DirectoryEntry struct {
	OffsetSz           int64 // byte offset where the frame's header begins
	HdrSz              int64 // size of the on-disk frame header, always 9
	CorrectedPayloadSz int64 // effective payload size after version normalization
	TotalSz            int64 // HdrSz + CorrectedPayloadSz + 4 (trailing size word)
}

// Directory is the result of a one-pass scan of a sequence stream.
type Directory struct {
	Entries          []DirectoryEntry
	Headers          []Header
	BiggestTotalSz   int64
	BiggestFrameIdx  int
}

// Build scans frameCount consecutive frame records starting at r's
// current cursor position, validating each against the invariants in
// §4 of the format spec and the version-dependent payload-size
// correction table in §4.3.
func Build(r *byteio.Reader, hdr header.FileHeader, frameCount uint32) (Directory, error) {
	dir := Directory{
		Entries:         make([]DirectoryEntry, frameCount),
		Headers:         make([]Header, frameCount),
		BiggestFrameIdx: -1,
	}

	seqSize := r.Size()

	for i := uint32(0); i < frameCount; i++ {
		startOffset := r.Pos()

		frameNumber, err := r.U32LE()
		if err != nil {
			return Directory{}, errors.Wrapf(byteio.ErrTruncated, "frame %d: reading frame_number: %v", i, err)
		}
		if frameNumber != i {
			return Directory{}, errors.Wrapf(byteio.ErrMalformed, "frame %d: frame_number was %d", i, frameNumber)
		}

		meshDataSz, err := r.U32LE()
		if err != nil {
			return Directory{}, errors.Wrapf(byteio.ErrTruncated, "frame %d: reading mesh_data_sz: %v", i, err)
		}
		if int64(meshDataSz) > seqSize {
			return Directory{}, errors.Wrapf(byteio.ErrMalformed, "frame %d: mesh_data_sz %d exceeds sequence size %d", i, meshDataSz, seqSize)
		}

		keyframe, err := r.U8()
		if err != nil {
			return Directory{}, errors.Wrapf(byteio.ErrTruncated, "frame %d: reading keyframe: %v", i, err)
		}
		if keyframe == BackwardTracked && hdr.Version < header.V12 {
			return Directory{}, errors.Wrapf(byteio.ErrMalformed, "frame %d: backward-tracked keyframe value requires version >= 12", i)
		}

		hdrSz := r.Pos() - startOffset

		correctedPayloadSz := correctPayloadSize(hdr, keyframe, int64(meshDataSz))
		if correctedPayloadSz > seqSize {
			return Directory{}, errors.Wrapf(byteio.ErrMalformed, "frame %d: corrected_payload_sz %d exceeds sequence size %d", i, correctedPayloadSz, seqSize)
		}

		// Skip past the payload and the trailing redundant size word.
		r.Seek(r.Pos() + correctedPayloadSz + 4)
		if r.Pos() > seqSize {
			return Directory{}, errors.Wrapf(byteio.ErrTruncated, "frame %d: not enough bytes for frame contents", i)
		}

		totalSz := r.Pos() - startOffset
		if totalSz > seqSize {
			return Directory{}, errors.Wrapf(byteio.ErrMalformed, "frame %d: total_sz %d exceeds sequence size %d", i, totalSz, seqSize)
		}

		dir.Entries[i] = DirectoryEntry{
			OffsetSz:           startOffset,
			HdrSz:              hdrSz,
			CorrectedPayloadSz: correctedPayloadSz,
			TotalSz:            totalSz,
		}
		dir.Headers[i] = Header{FrameNumber: frameNumber, MeshDataSz: meshDataSz, Keyframe: keyframe}

		if totalSz > dir.BiggestTotalSz {
			dir.BiggestTotalSz = totalSz
			dir.BiggestFrameIdx = int(i)
		}
	}

	if dir.BiggestTotalSz >= MaxFrameTotalSize {
		return Directory{}, errors.Wrapf(byteio.ErrMalformed, "biggest frame size %d looks corrupt (>= 1 GiB cap)", dir.BiggestTotalSz)
	}

	return dir, nil
}

// correctPayloadSize implements the §4.3 correction table: pre-v1.2
// mesh_data_sz excludes some array-size prefixes that v1.2+ already
// includes.
func correctPayloadSize(hdr header.FileHeader, keyframe uint8, meshDataSz int64) int64 {
	sz := meshDataSz
	if hdr.Version >= header.V12 {
		return sz
	}
	if keyframe == Keyframe {
		sz += 8 // indices + UVs size prefixes
	}
	if hdr.Version == header.V11 {
		if hdr.HasNormals {
			sz += 4 // normals size prefix
		}
		if hdr.IsTextured {
			sz += 4 // texture size prefix
		}
	}
	return sz
}

// PayloadView holds the offsets (into whatever scratch buffer the caller
// loaded a frame's bytes into) and sizes of each sub-section present for
// that frame's version and keyframe flag. Sections not present for this
// frame are left at their zero value.
type PayloadView struct {
	VerticesOffset int64
	VerticesSz     uint32

	NormalsOffset int64
	NormalsSz     uint32

	IndicesOffset int64
	IndicesSz     uint32

	UVsOffset int64
	UVsSz     uint32

	TextureOffset int64
	TextureSz     uint32
}

// ParsePayload walks the successive (size, payload) sections of a
// frame's already-loaded bytes (block, spanning exactly
// DirectoryEntry.CorrectedPayloadSz bytes, starting right after the
// on-disk frame header) and returns the offsets/sizes of each section
// present for hdr's version and fh's keyframe flag.
func ParsePayload(block []byte, hdr header.FileHeader, fh Header) (PayloadView, error) {
	var view PayloadView
	var cursor int64

	readSection := func(name string, offset *int64, size *uint32) error {
		if cursor+4 > int64(len(block)) {
			return errors.Wrapf(byteio.ErrMalformed, "%s: size prefix runs past end of frame blob", name)
		}
		sz := uint32(block[cursor]) | uint32(block[cursor+1])<<8 | uint32(block[cursor+2])<<16 | uint32(block[cursor+3])<<24
		cursor += 4
		if cursor+int64(sz) > int64(len(block)) {
			return errors.Wrapf(byteio.ErrMalformed, "%s: payload of %d bytes runs past end of frame blob", name, sz)
		}
		*offset = cursor
		*size = sz
		cursor += int64(sz)
		return nil
	}

	if err := readSection("vertices", &view.VerticesOffset, &view.VerticesSz); err != nil {
		return PayloadView{}, err
	}

	if hdr.HasNormals && hdr.Version >= header.V11 {
		if err := readSection("normals", &view.NormalsOffset, &view.NormalsSz); err != nil {
			return PayloadView{}, err
		}
	}

	hasIndicesAndUVs := fh.Keyframe == Keyframe || (hdr.Version >= header.V12 && fh.Keyframe == BackwardTracked)
	if hasIndicesAndUVs {
		if err := readSection("indices", &view.IndicesOffset, &view.IndicesSz); err != nil {
			return PayloadView{}, err
		}
		if err := readSection("uvs", &view.UVsOffset, &view.UVsSz); err != nil {
			return PayloadView{}, err
		}
	}

	if hdr.Version >= header.V11 && hdr.IsTextured {
		if err := readSection("texture", &view.TextureOffset, &view.TextureSz); err != nil {
			return PayloadView{}, err
		}
	}

	return view, nil
}
