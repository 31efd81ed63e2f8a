// Package volgeom decodes vologram (.vols) geometry containers: a
// per-frame 3D mesh sequence across format versions 1.0-1.3, in either
// split (separate header/sequence files) or unified (single file, with
// optional embedded audio) layout.
//
// A Session is opened once with OpenSplit or OpenUnified, queried for
// frame count and keyframe information, and read frame-by-frame with
// ReadFrame. Video texture decoding, Basis transcoding, and audio
// decoding are the caller's responsibility; this package only locates
// those blobs.
package volgeom

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/volograms/volgeom/frame"
	"github.com/volograms/volgeom/header"
	"github.com/volograms/volgeom/internal/byteio"
)

type sessionState int

const (
	stateUninitialized sessionState = iota
	stateOpen
	stateClosed
)

// FramePayloadView is the set of offsets (into Session's scratch buffer,
// see Session.Scratch) and sizes for the sub-sections present in a
// single decoded frame. Only sections valid for the frame's version and
// keyframe flag are populated; the rest remain zero. A view is only
// valid until the next call to ReadFrame on the same session.
type FramePayloadView = frame.PayloadView

// Option configures a Session at Open time.
type Option func(*Session)

// WithLogger supplies a per-session logging sink. Passing nil installs a
// no-op sink.
func WithLogger(l Logger) Option {
	return func(s *Session) {
		if l == nil {
			l = noopLogger{}
		}
		s.log = l
	}
}

// Session is the lifecycle object owning everything needed to play back
// a vologram: its parsed header, frame directory, scratch buffer, and
// (depending on open mode) a preloaded sequence blob or a live file
// handle. A Session is not safe for concurrent ReadFrame calls; callers
// must serialize access to a single Session.
type Session struct {
	state sessionState
	log   Logger

	hdr header.FileHeader
	dir frame.Directory

	scratch []byte

	preloaded []byte // non-nil when the sequence was fully preloaded
	seqFile   *os.File
	seqPath   string
	seqOffset int64 // byte offset of the sequence chunk within its file

	audioBlob []byte

	largestFrameIdx int
}

// OpenSplit opens a vologram whose header and frame sequence live in
// separate files. When streaming is false the entire sequence file is
// read into memory at open time to avoid per-frame I/O; when true,
// frames are read from disk on demand.
func OpenSplit(headerPath, seqPath string, streaming bool, opts ...Option) (*Session, error) {
	s := newSession(opts...)

	headerBytes, err := os.ReadFile(headerPath)
	if err != nil {
		return nil, wrapErr(KindIO, errors.Wrapf(err, "reading header file %q", headerPath))
	}

	hdr, _, err := header.Parse(byteio.NewSliceReader(headerBytes))
	if err != nil {
		return nil, wrapClassified(errors.Wrapf(err, "parsing header file %q", headerPath))
	}
	s.hdr = hdr

	seqFile, err := os.Open(seqPath)
	if err != nil {
		return nil, wrapErr(KindIO, errors.Wrapf(err, "opening sequence file %q", seqPath))
	}
	defer func() {
		if s.state != stateOpen {
			seqFile.Close()
		}
	}()

	seqSize, err := fileSize(seqFile)
	if err != nil {
		return nil, wrapErr(KindIO, err)
	}

	dir, err := frame.Build(byteio.NewFileReader(seqFile, seqSize), hdr, hdr.FrameCount)
	if err != nil {
		return nil, wrapClassified(errors.Wrap(err, "building frame directory"))
	}
	s.dir = dir
	s.largestFrameIdx = dir.BiggestFrameIdx
	s.seqOffset = 0

	if err := s.allocateScratch(); err != nil {
		return nil, err
	}

	if streaming {
		s.seqFile = seqFile
		s.seqPath = seqPath
	} else {
		if _, err := seqFile.Seek(0, io.SeekStart); err != nil {
			return nil, wrapErr(KindIO, errors.Wrap(err, "rewinding sequence file"))
		}
		blob := make([]byte, seqSize)
		if _, err := io.ReadFull(seqFile, blob); err != nil {
			return nil, wrapErr(KindIO, errors.Wrap(err, "preloading sequence file"))
		}
		s.preloaded = blob
		seqFile.Close()
	}

	s.state = stateOpen
	s.log.Infof("opened split vologram: %d frames, version %d", hdr.FrameCount, hdr.Version)
	return s, nil
}

// OpenUnified opens a single-file vologram. Header and sequence share
// the file; for v1.3 files with HasAudio set, the embedded audio chunk
// is slurped into memory at open time.
func OpenUnified(volsPath string, opts ...Option) (*Session, error) {
	s := newSession(opts...)

	f, err := os.Open(volsPath)
	if err != nil {
		return nil, wrapErr(KindIO, errors.Wrapf(err, "opening vologram file %q", volsPath))
	}
	defer func() {
		if s.state != stateOpen {
			f.Close()
		}
	}()

	fSize, err := fileSize(f)
	if err != nil {
		return nil, wrapErr(KindIO, err)
	}

	headerBuf := make([]byte, fSize)
	if _, err := io.ReadFull(f, headerBuf); err != nil {
		return nil, wrapErr(KindIO, errors.Wrap(err, "reading vologram file"))
	}

	hdr, hdrSz, err := header.Parse(byteio.NewSliceReader(headerBuf))
	if err != nil {
		return nil, wrapClassified(errors.Wrapf(err, "parsing unified header %q", volsPath))
	}
	s.hdr = hdr

	var seqOffset int64
	if hdr.Version == header.V13 {
		seqOffset = int64(hdr.FrameBodyStart)
		if hdr.HasAudio {
			audioReader := byteio.NewSliceReader(headerBuf)
			audioReader.Seek(int64(hdr.AudioStart))
			audioSz, err := audioReader.U32LE()
			if err != nil {
				return nil, wrapClassified(errors.Wrap(err, "reading audio chunk size"))
			}
			audioBytes, err := audioReader.Bytes(int64(audioSz))
			if err != nil {
				return nil, wrapClassified(errors.Wrap(err, "reading audio chunk payload"))
			}
			blob := make([]byte, len(audioBytes))
			copy(blob, audioBytes)
			s.audioBlob = blob
		}
	} else {
		seqOffset = hdrSz
	}
	s.seqOffset = seqOffset

	if seqOffset > fSize {
		return nil, wrapErr(KindMalformed, errors.Errorf("frame body start %d is past end of file (%d bytes)", seqOffset, fSize))
	}

	// Directory offsets are always relative to the start of the sequence
	// chunk (matching split-mode, where the sequence is its own file), so
	// Build scans a sub-slice rather than the full buffer seeked forward.
	seqReader := byteio.NewSliceReader(headerBuf[seqOffset:])
	dir, err := frame.Build(seqReader, hdr, hdr.FrameCount)
	if err != nil {
		return nil, wrapClassified(errors.Wrap(err, "building frame directory"))
	}
	s.dir = dir
	s.largestFrameIdx = dir.BiggestFrameIdx

	if err := s.allocateScratch(); err != nil {
		return nil, err
	}

	s.preloaded = headerBuf
	f.Close()

	s.state = stateOpen
	s.log.Infof("opened unified vologram: %d frames, version %d, audio=%v", hdr.FrameCount, hdr.Version, hdr.HasAudio)
	return s, nil
}

func newSession(opts ...Option) *Session {
	s := &Session{log: defaultLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) allocateScratch() error {
	if s.dir.BiggestTotalSz >= frame.MaxFrameTotalSize {
		return wrapErr(KindMalformed, errors.Errorf("biggest frame size %d exceeds 1 GiB cap", s.dir.BiggestTotalSz))
	}
	s.scratch = make([]byte, s.dir.BiggestTotalSz)
	return nil
}

func fileSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat")
	}
	return fi.Size(), nil
}

// Close releases every buffer and file handle owned by the session. It
// is idempotent; calling it more than once, or on a session that failed
// to open, is a no-op.
func (s *Session) Close() error {
	if s == nil || s.state == stateClosed {
		return nil
	}
	if s.seqFile != nil {
		s.seqFile.Close()
		s.seqFile = nil
	}
	s.preloaded = nil
	s.scratch = nil
	s.audioBlob = nil
	s.state = stateClosed
	return nil
}

// Header returns the parsed file header.
func (s *Session) Header() header.FileHeader { return s.hdr }

// FrameCount returns the number of frames in the sequence.
func (s *Session) FrameCount() uint32 { return s.hdr.FrameCount }

// LargestFrameIndex returns the index of the frame with the largest
// on-disk total size, the same value the reference implementation
// tracks purely for its diagnostic log line.
func (s *Session) LargestFrameIndex() int { return s.largestFrameIdx }

// IsKeyframe reports whether frame i carries its own indices/UVs
// (keyframe value 1 or 2). Returns false for an out-of-range index.
func (s *Session) IsKeyframe(i uint32) bool {
	if i >= s.hdr.FrameCount {
		return false
	}
	return s.dir.Headers[i].IsKeyframe()
}

// FindPreviousKeyframe returns the greatest j <= i such that IsKeyframe(j)
// is true, or -1 if none exists or i is out of range.
func (s *Session) FindPreviousKeyframe(i uint32) int32 {
	if i >= s.hdr.FrameCount {
		return -1
	}
	for j := int64(i); j >= 0; j-- {
		if s.dir.Headers[j].IsKeyframe() {
			return int32(j)
		}
	}
	return -1
}

// Audio returns the embedded audio chunk's bytes, or nil if the
// vologram has no audio (split-layout volograms never do; unified
// v1.3 volograms do only when HasAudio is set).
func (s *Session) Audio() []byte { return s.audioBlob }

// ReadFrame fetches frame i into the session's scratch buffer — either
// by copying from the preloaded sequence blob or by seeking and reading
// from the sequence file — then parses its payload sections. The
// returned view's offsets point into Scratch() and remain valid only
// until the next call to ReadFrame.
func (s *Session) ReadFrame(i uint32) (FramePayloadView, error) {
	if s.state != stateOpen {
		return FramePayloadView{}, wrapErr(KindInternal, errors.New("session is not open"))
	}
	if i >= s.hdr.FrameCount {
		return FramePayloadView{}, wrapErr(KindOutOfRange, errors.Errorf("frame %d out of range [0, %d)", i, s.hdr.FrameCount))
	}

	entry := s.dir.Entries[i]
	if entry.TotalSz > int64(len(s.scratch)) {
		return FramePayloadView{}, wrapErr(KindInternal, errors.Errorf("frame %d total_sz %d exceeds scratch buffer %d", i, entry.TotalSz, len(s.scratch)))
	}

	if s.preloaded != nil {
		srcOffset := s.seqOffset + entry.OffsetSz
		if srcOffset+entry.TotalSz > int64(len(s.preloaded)) {
			return FramePayloadView{}, wrapErr(KindTruncated, errors.Errorf("frame %d runs past preloaded sequence (was the file truncated after open?)", i))
		}
		copy(s.scratch[:entry.TotalSz], s.preloaded[srcOffset:srcOffset+entry.TotalSz])
	} else {
		f := s.seqFile
		if f == nil {
			var err error
			f, err = os.Open(s.seqPath)
			if err != nil {
				return FramePayloadView{}, wrapErr(KindIO, errors.Wrapf(err, "opening sequence file %q", s.seqPath))
			}
			defer f.Close()
		}

		fsz, err := fileSize(f)
		if err != nil {
			return FramePayloadView{}, wrapErr(KindIO, err)
		}
		if s.seqOffset+entry.OffsetSz+entry.TotalSz > fsz {
			return FramePayloadView{}, wrapErr(KindTruncated, errors.Errorf("frame %d: sequence file is too short (was it truncated after open?)", i))
		}

		if _, err := f.Seek(s.seqOffset+entry.OffsetSz, io.SeekStart); err != nil {
			return FramePayloadView{}, wrapErr(KindIO, errors.Wrapf(err, "seeking to frame %d", i))
		}
		if _, err := io.ReadFull(f, s.scratch[:entry.TotalSz]); err != nil {
			return FramePayloadView{}, wrapErr(KindTruncated, errors.Wrapf(err, "reading frame %d", i))
		}
	}

	block := s.scratch[entry.HdrSz : entry.HdrSz+entry.CorrectedPayloadSz]
	view, err := frame.ParsePayload(block, s.hdr, s.dir.Headers[i])
	if err != nil {
		return FramePayloadView{}, wrapClassified(errors.Wrapf(err, "parsing frame %d payload", i))
	}

	// Offsets from ParsePayload are relative to block; rebase them to be
	// relative to the full scratch buffer, since callers index into
	// Scratch() directly.
	rebase := func(off *int64, sz uint32) {
		if sz > 0 || *off != 0 {
			*off += entry.HdrSz
		}
	}
	rebase(&view.VerticesOffset, view.VerticesSz)
	rebase(&view.NormalsOffset, view.NormalsSz)
	rebase(&view.IndicesOffset, view.IndicesSz)
	rebase(&view.UVsOffset, view.UVsSz)
	rebase(&view.TextureOffset, view.TextureSz)

	return view, nil
}

// Scratch returns the session's scratch buffer. Its contents are valid
// only for the section ranges named by the FramePayloadView most
// recently returned by ReadFrame, and are overwritten by the next
// ReadFrame call.
func (s *Session) Scratch() []byte { return s.scratch }
