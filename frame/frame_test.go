package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/volograms/volgeom/header"
	"github.com/volograms/volgeom/internal/byteio"
)

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// appendSized writes a u32 length prefix followed by payload.
func appendSized(buf *bytes.Buffer, payload []byte) {
	buf.Write(u32(uint32(len(payload))))
	buf.Write(payload)
}

// buildV12Frame writes one v1.2+-style frame record (no size correction
// needed): frame_number, mesh_data_sz, keyframe, then the section bytes
// sized to make mesh_data_sz self-consistent, then the trailing word.
func buildV12Frame(frameNumber uint32, keyframe uint8, vertices, normals, indices, uvs, texture []byte) []byte {
	var body bytes.Buffer
	appendSized(&body, vertices)
	if normals != nil {
		appendSized(&body, normals)
	}
	if indices != nil {
		appendSized(&body, indices)
		appendSized(&body, uvs)
	}
	if texture != nil {
		appendSized(&body, texture)
	}

	var rec bytes.Buffer
	rec.Write(u32(frameNumber))
	rec.Write(u32(uint32(body.Len())))
	rec.WriteByte(keyframe)
	rec.Write(body.Bytes())
	rec.Write(u32(0)) // trailing redundant size word
	return rec.Bytes()
}

func v12HeaderWithFlags(hasNormals, isTextured bool, frameCount uint32) header.FileHeader {
	return header.FileHeader{
		Version:    header.V12,
		FrameCount: frameCount,
		HasNormals: hasNormals,
		IsTextured: isTextured,
	}
}

func TestBuildSingleTrackedFrame(t *testing.T) {
	hdr := v12HeaderWithFlags(false, false, 1)
	rec := buildV12Frame(0, Tracked, []byte{1, 2, 3, 4}, nil, nil, nil, nil)

	dir, err := Build(byteio.NewSliceReader(rec), hdr, 1)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(dir.Entries) != 1 || dir.Entries[0].TotalSz != int64(len(rec)) {
		t.Fatalf("Build() entries = %+v; want total_sz %d", dir.Entries, len(rec))
	}
	if dir.Headers[0].IsKeyframe() {
		t.Fatalf("tracked frame reported as keyframe")
	}
}

func TestBuildRejectsFrameNumberMismatch(t *testing.T) {
	hdr := v12HeaderWithFlags(false, false, 2)
	var seq bytes.Buffer
	seq.Write(buildV12Frame(0, Tracked, []byte{1}, nil, nil, nil, nil))
	seq.Write(buildV12Frame(99, Tracked, []byte{1}, nil, nil, nil, nil))

	_, err := Build(byteio.NewSliceReader(seq.Bytes()), hdr, 2)
	if !errors.Is(err, byteio.ErrMalformed) {
		t.Fatalf("Build() with mismatched frame_number = %v; want ErrMalformed", err)
	}
}

func TestBuildRejectsBackwardTrackedBeforeV12(t *testing.T) {
	hdr := header.FileHeader{Version: header.V11, FrameCount: 1}
	rec := buildV12Frame(0, BackwardTracked, []byte{1}, nil, nil, nil, nil)

	_, err := Build(byteio.NewSliceReader(rec), hdr, 1)
	if !errors.Is(err, byteio.ErrMalformed) {
		t.Fatalf("Build() with keyframe=2 on v1.1 = %v; want ErrMalformed", err)
	}
}

func TestBuildTracksBiggestFrame(t *testing.T) {
	hdr := v12HeaderWithFlags(false, false, 3)
	var seq bytes.Buffer
	seq.Write(buildV12Frame(0, Tracked, []byte{1, 2}, nil, nil, nil, nil))
	seq.Write(buildV12Frame(1, Tracked, make([]byte, 100), nil, nil, nil, nil))
	seq.Write(buildV12Frame(2, Tracked, []byte{1}, nil, nil, nil, nil))

	dir, err := Build(byteio.NewSliceReader(seq.Bytes()), hdr, 3)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if dir.BiggestFrameIdx != 1 {
		t.Fatalf("BiggestFrameIdx = %d; want 1", dir.BiggestFrameIdx)
	}
}

func TestCorrectPayloadSizeV10KeyframeAddsEight(t *testing.T) {
	hdr := header.FileHeader{Version: header.V10}
	got := correctPayloadSize(hdr, Keyframe, 100)
	if got != 108 {
		t.Fatalf("correctPayloadSize() = %d; want 108", got)
	}
}

func TestCorrectPayloadSizeV11TexturedTrackedAddsEight(t *testing.T) {
	hdr := header.FileHeader{Version: header.V11, HasNormals: true, IsTextured: true}
	got := correctPayloadSize(hdr, Tracked, 100)
	if got != 108 {
		t.Fatalf("correctPayloadSize() = %d; want 108 (normals+texture prefixes)", got)
	}
}

func TestCorrectPayloadSizeV12Unchanged(t *testing.T) {
	hdr := header.FileHeader{Version: header.V12}
	got := correctPayloadSize(hdr, Keyframe, 100)
	if got != 100 {
		t.Fatalf("correctPayloadSize() = %d; want 100 (no correction at v1.2+)", got)
	}
}

func TestParsePayloadVerticesOnly(t *testing.T) {
	var block bytes.Buffer
	appendSized(&block, []byte{9, 9, 9})

	hdr := header.FileHeader{Version: header.V12}
	fh := Header{Keyframe: Tracked}

	view, err := ParsePayload(block.Bytes(), hdr, fh)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if view.VerticesSz != 3 || view.VerticesOffset != 4 {
		t.Fatalf("ParsePayload() vertices = offset %d sz %d; want offset 4 sz 3", view.VerticesOffset, view.VerticesSz)
	}
	if view.IndicesSz != 0 || view.UVsSz != 0 {
		t.Fatalf("ParsePayload() on tracked frame should have no indices/uvs: %+v", view)
	}
}

func TestParsePayloadKeyframeHasIndicesAndUVs(t *testing.T) {
	var block bytes.Buffer
	appendSized(&block, []byte{1, 2, 3, 4})    // vertices
	appendSized(&block, []byte{5, 6, 7, 8})    // indices
	appendSized(&block, []byte{9, 10})         // uvs

	hdr := header.FileHeader{Version: header.V12}
	fh := Header{Keyframe: Keyframe}

	view, err := ParsePayload(block.Bytes(), hdr, fh)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if view.IndicesSz != 4 || view.UVsSz != 2 {
		t.Fatalf("ParsePayload() = %+v; want indices_sz 4, uvs_sz 2", view)
	}
}

func TestParsePayloadRejectsOversizedSection(t *testing.T) {
	var block bytes.Buffer
	block.Write(u32(1000)) // claims 1000 bytes but provides none

	hdr := header.FileHeader{Version: header.V12}
	fh := Header{Keyframe: Tracked}

	_, err := ParsePayload(block.Bytes(), hdr, fh)
	if !errors.Is(err, byteio.ErrMalformed) {
		t.Fatalf("ParsePayload() with oversized section = %v; want ErrMalformed", err)
	}
}

func TestParsePayloadNormalsAndTexture(t *testing.T) {
	var block bytes.Buffer
	appendSized(&block, []byte{1, 2})       // vertices
	appendSized(&block, []byte{3, 4, 5})    // normals
	appendSized(&block, []byte{6})          // texture

	hdr := header.FileHeader{Version: header.V11, HasNormals: true, IsTextured: true}
	fh := Header{Keyframe: Tracked}

	view, err := ParsePayload(block.Bytes(), hdr, fh)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if view.NormalsSz != 3 || view.TextureSz != 1 {
		t.Fatalf("ParsePayload() = %+v; want normals_sz 3, texture_sz 1", view)
	}
}

func FuzzParsePayload(f *testing.F) {
	var seed bytes.Buffer
	appendSized(&seed, []byte{1, 2, 3})
	f.Add(seed.Bytes(), true, true, uint8(Keyframe))

	f.Fuzz(func(t *testing.T, data []byte, hasNormals, isTextured bool, keyframe uint8) {
		hdr := header.FileHeader{Version: header.V12, HasNormals: hasNormals, IsTextured: isTextured}
		fh := Header{Keyframe: keyframe}
		_, _ = ParsePayload(data, hdr, fh) //nolint:errcheck
	})
}
