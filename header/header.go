// Package header parses the version-tagged .vols file header (versions
// 1.0 through 1.3) into a normalized in-memory descriptor.
package header

import (
	"github.com/pkg/errors"

	"github.com/volograms/volgeom/internal/byteio"
)

// MinSize is the minimum number of bytes a valid header can occupy:
// "VOLS" short string (5 bytes) + version + compression + frame_count
// (4 bytes each) + an empty-ish tail. Anything shorter is rejected before
// any field is read.
const MinSize = 24

// TextureCompression identifies how v1.3 texture payloads are compressed.
type TextureCompression uint8

const (
	TextureMP4   TextureCompression = 0
	TextureETC1S TextureCompression = 1
	TextureUASTC TextureCompression = 2
)

// TextureContainerFormat identifies the container wrapping v1.3 texture data.
type TextureContainerFormat uint8

const (
	ContainerRaw   TextureContainerFormat = 0
	ContainerBasis TextureContainerFormat = 1
	ContainerKTX2  TextureContainerFormat = 2
)

// Version is the decimal-packed .vols format version (10 -> v1.0, etc).
type Version uint32

const (
	V10 Version = 10
	V11 Version = 11
	V12 Version = 12
	V13 Version = 13
)

func (v Version) Valid() bool {
	switch v {
	case V10, V11, V12, V13:
		return true
	default:
		return false
	}
}

// FileHeader is the normalized descriptor produced for any supported
// version. Fields not present in a given version keep their zero value.
type FileHeader struct {
	Version     Version
	Compression uint32

	// Pre-v1.3 only.
	MeshName byteio.ShortString
	Material byteio.ShortString
	Shader   byteio.ShortString
	Topology uint32

	FrameCount uint32

	// v1.1+.
	HasNormals    bool
	IsTextured    bool
	TextureWidth  uint32
	TextureHeight uint32
	TextureFormat uint16 // v1.1/v1.2 only; follows UnityEngine.TextureFormat.

	// v1.2 only.
	Translation [3]float32
	Rotation    [4]float32 // w, x, y, z; identity is (1, 0, 0, 0).
	Scale       float32

	// v1.3 only.
	TextureCompression     TextureCompression
	TextureContainerFormat TextureContainerFormat
	FPS                    float32
	HasAudio               bool
	AudioStart             uint32
	FrameBodyStart         uint32
}

// Parse reads a FileHeader from the start of r and returns it along with
// the number of bytes consumed (hdrSz).
func Parse(r *byteio.Reader) (FileHeader, int64, error) {
	if r.Size() < MinSize {
		return FileHeader{}, 0, errors.Wrapf(byteio.ErrTruncated, "header needs at least %d bytes, have %d", MinSize, r.Size())
	}

	var hdr FileHeader

	if err := r.Magic4("VOLS"); err != nil {
		return FileHeader{}, 0, errors.Wrap(err, "reading format tag")
	}

	version, err := r.U32LE()
	if err != nil {
		return FileHeader{}, 0, errors.Wrap(err, "reading version")
	}
	hdr.Version = Version(version)
	if !hdr.Version.Valid() {
		return FileHeader{}, 0, errors.Wrapf(byteio.ErrMalformed, "unsupported version %d", version)
	}

	if hdr.Compression, err = r.U32LE(); err != nil {
		return FileHeader{}, 0, errors.Wrap(err, "reading compression")
	}

	if hdr.Version < V13 {
		if err := parsePreV13Strings(r, &hdr); err != nil {
			return FileHeader{}, 0, err
		}
	}

	if hdr.FrameCount, err = r.U32LE(); err != nil {
		return FileHeader{}, 0, errors.Wrap(err, "reading frame_count")
	}

	switch {
	case hdr.Version == V13:
		if err := parseV13Tail(r, &hdr); err != nil {
			return FileHeader{}, 0, err
		}
	case hdr.Version >= V11:
		if err := parseV11Tail(r, &hdr); err != nil {
			return FileHeader{}, 0, err
		}
		if hdr.Version == V12 {
			if err := parseV12Tail(r, &hdr); err != nil {
				return FileHeader{}, 0, err
			}
		}
	}

	return hdr, r.Pos(), nil
}

func parsePreV13Strings(r *byteio.Reader, hdr *FileHeader) error {
	var err error
	if hdr.MeshName, err = r.ShortString(); err != nil {
		return errors.Wrap(err, "reading mesh_name")
	}
	if hdr.Material, err = r.ShortString(); err != nil {
		return errors.Wrap(err, "reading material")
	}
	if hdr.Shader, err = r.ShortString(); err != nil {
		return errors.Wrap(err, "reading shader")
	}
	if hdr.Topology, err = r.U32LE(); err != nil {
		return errors.Wrap(err, "reading topology")
	}
	return nil
}

func parseV11Tail(r *byteio.Reader, hdr *FileHeader) error {
	var err error
	if hdr.HasNormals, err = r.Bool(); err != nil {
		return errors.Wrap(err, "reading has_normals")
	}
	if hdr.IsTextured, err = r.Bool(); err != nil {
		return errors.Wrap(err, "reading is_textured")
	}
	w, err := r.U16LE()
	if err != nil {
		return errors.Wrap(err, "reading texture_width")
	}
	hdr.TextureWidth = uint32(w)
	h, err := r.U16LE()
	if err != nil {
		return errors.Wrap(err, "reading texture_height")
	}
	hdr.TextureHeight = uint32(h)
	if hdr.TextureFormat, err = r.U16LE(); err != nil {
		return errors.Wrap(err, "reading texture_format")
	}
	return nil
}

func parseV12Tail(r *byteio.Reader, hdr *FileHeader) error {
	for i := range hdr.Translation {
		v, err := r.F32LE()
		if err != nil {
			return errors.Wrap(err, "reading translation")
		}
		hdr.Translation[i] = v
	}
	for i := range hdr.Rotation {
		v, err := r.F32LE()
		if err != nil {
			return errors.Wrap(err, "reading rotation")
		}
		hdr.Rotation[i] = v
	}
	v, err := r.F32LE()
	if err != nil {
		return errors.Wrap(err, "reading scale")
	}
	hdr.Scale = v
	return nil
}

func parseV13Tail(r *byteio.Reader, hdr *FileHeader) error {
	var err error
	if hdr.HasNormals, err = r.Bool(); err != nil {
		return errors.Wrap(err, "reading has_normals")
	}
	if hdr.IsTextured, err = r.Bool(); err != nil {
		return errors.Wrap(err, "reading is_textured")
	}
	tc, err := r.U8()
	if err != nil {
		return errors.Wrap(err, "reading texture_compression")
	}
	hdr.TextureCompression = TextureCompression(tc)
	cf, err := r.U8()
	if err != nil {
		return errors.Wrap(err, "reading texture_container_format")
	}
	hdr.TextureContainerFormat = TextureContainerFormat(cf)
	if hdr.TextureWidth, err = r.U32LE(); err != nil {
		return errors.Wrap(err, "reading texture_width")
	}
	if hdr.TextureHeight, err = r.U32LE(); err != nil {
		return errors.Wrap(err, "reading texture_height")
	}
	if hdr.FPS, err = r.F32LE(); err != nil {
		return errors.Wrap(err, "reading fps")
	}
	hasAudio, err := r.U32LE()
	if err != nil {
		return errors.Wrap(err, "reading has_audio")
	}
	hdr.HasAudio = hasAudio != 0
	if hdr.AudioStart, err = r.U32LE(); err != nil {
		return errors.Wrap(err, "reading audio_start")
	}
	if hdr.AudioStart != 44 {
		return errors.Wrapf(byteio.ErrMalformed, "v1.3 audio_start must be 44, got %d", hdr.AudioStart)
	}
	if hdr.FrameBodyStart, err = r.U32LE(); err != nil {
		return errors.Wrap(err, "reading frame_body_start")
	}

	if r.Pos() != 44 {
		return errors.Wrapf(byteio.ErrMalformed, "v1.3 header must consume exactly 44 bytes, consumed %d", r.Pos())
	}
	return nil
}
