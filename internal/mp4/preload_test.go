package mp4

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strconv"
	"testing"

	"github.com/metalalive/transcoder-core/internal/domain"
)

// testBackend serves fixed byte slices keyed by chunk sequence, for
// deterministic exercise of the chunk-spanning reader. It implements
// ports.StorageBackend but only ReadChunk is exercised by the pre-loader.
type testBackend struct {
	chunks map[string][]byte
}

func (f *testBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.chunks[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *testBackend) ReadChunk(ctx context.Context, key string, off int64, buf []byte) (int, error) {
	data, ok := f.chunks[key]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(buf, data[off:])
	if int64(n)+off >= int64(len(data)) {
		return n, io.EOF
	}
	return n, nil
}

func (f *testBackend) Write(ctx context.Context, key string, r io.Reader) error {
	return errors.New("not implemented")
}
func (f *testBackend) Mkdir(ctx context.Context, dir string) error { return nil }
func (f *testBackend) Scandir(ctx context.Context, dir string) ([]string, error) {
	return nil, nil
}
func (f *testBackend) Unlink(ctx context.Context, key string) error { return nil }
func (f *testBackend) Alias() string                                { return "fake" }

func itoa(seq uint32) string { return strconv.FormatUint(uint64(seq), 10) }

func atomBytes(size uint32, typ [4]byte, body []byte) []byte {
	buf := make([]byte, 8+len(body))
	binary.BigEndian.PutUint32(buf[0:4], size)
	copy(buf[4:8], typ[:])
	copy(buf[8:], body)
	return buf
}

func TestPreloadSingleChunkMdatBeforeMoov(t *testing.T) {
	ftypBody := bytes.Repeat([]byte{0xAA}, 16)
	ftyp := atomBytes(24, domain.AtomTypeFtyp, ftypBody)

	mdatBody := bytes.Repeat([]byte{0xCC}, 40)
	mdat := atomBytes(48, domain.AtomTypeMdat, mdatBody)

	moovBody := bytes.Repeat([]byte{0xBB}, 46)
	moov := atomBytes(54, domain.AtomTypeMoov, moovBody)

	chunk := append(append(append([]byte{}, ftyp...), mdat...), moov...)

	backend := &testBackend{chunks: map[string][]byte{"1": chunk}}
	var out bytes.Buffer
	p := NewPreloader(backend, itoa, []uint32{uint32(len(chunk))}, 4096, &out)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if p.State() != PreloadDone {
		t.Fatalf("expected Done state, got %v", p.State())
	}

	wantLen := len(ftyp) + len(moov) + domain.AtomHeaderSize
	if out.Len() != wantLen {
		t.Fatalf("local temp length = %d, want %d", out.Len(), wantLen)
	}
	got := out.Bytes()
	if !bytes.Equal(got[:len(ftyp)], ftyp) {
		t.Fatalf("ftyp prefix mismatch")
	}
	if !bytes.Equal(got[len(ftyp):len(ftyp)+len(moov)], moov) {
		t.Fatalf("moov section mismatch")
	}
	mdatHdr := got[len(ftyp)+len(moov):]
	if binary.BigEndian.Uint32(mdatHdr[0:4]) != 48 {
		t.Fatalf("mdat header size mismatch: got %d", binary.BigEndian.Uint32(mdatHdr[0:4]))
	}
	if !bytes.Equal(mdatHdr[4:8], domain.AtomTypeMdat[:]) {
		t.Fatalf("mdat header type mismatch")
	}

	if p.Mdat() == nil {
		t.Fatalf("expected mdat locator to be recorded")
	}
	if p.Mdat().Size != 40 {
		t.Fatalf("mdat.Size = %d, want 40", p.Mdat().Size)
	}
	if p.Mdat().FChunkSeq != 1 {
		t.Fatalf("mdat.FChunkSeq = %d, want 1", p.Mdat().FChunkSeq)
	}
}

func TestPreloadRejectsUnknownAtom(t *testing.T) {
	bogus := atomBytes(16, [4]byte{'x', 'y', 'z', 'w'}, bytes.Repeat([]byte{0}, 8))
	backend := &testBackend{chunks: map[string][]byte{"1": bogus}}
	var out bytes.Buffer
	p := NewPreloader(backend, itoa, []uint32{uint32(len(bogus))}, 4096, &out)

	if err := p.Run(context.Background()); err == nil {
		t.Fatalf("expected error for unrecognized atom type")
	}
}

func TestPreloadSpansMultipleChunksForHeader(t *testing.T) {
	ftypBody := bytes.Repeat([]byte{0x01}, 4)
	ftyp := atomBytes(12, domain.AtomTypeFtyp, ftypBody)
	moovBody := bytes.Repeat([]byte{0x02}, 2)
	moov := atomBytes(10, domain.AtomTypeMoov, moovBody)

	full := append(append([]byte{}, ftyp...), moov...)
	// Split so that moov's 8-byte header straddles the chunk boundary.
	splitAt := len(ftyp) + 3
	chunk1 := full[:splitAt]
	chunk2 := full[splitAt:]

	backend := &testBackend{chunks: map[string][]byte{
		"1": chunk1,
		"2": chunk2,
	}}
	var out bytes.Buffer
	p := NewPreloader(backend, itoa, []uint32{uint32(len(chunk1)), uint32(len(chunk2))}, 4096, &out)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !bytes.Equal(out.Bytes(), full) {
		t.Fatalf("local temp mismatch across chunk boundary:\ngot  %x\nwant %x", out.Bytes(), full)
	}
}
