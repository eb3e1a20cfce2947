package hlsseeker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/metalalive/transcoder-core/internal/domain"
)

type memBackend struct {
	files map[string][]byte
	dirs  map[string][]string
}

func newMemBackend() *memBackend {
	return &memBackend{files: make(map[string][]byte), dirs: make(map[string][]string)}
}

func (b *memBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := b.files[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBackend) ReadChunk(ctx context.Context, key string, off int64, buf []byte) (int, error) {
	return 0, domain.ErrUnsupported
}

func (b *memBackend) Write(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.files[key] = data
	return nil
}

func (b *memBackend) Mkdir(ctx context.Context, path string) error { return nil }

func (b *memBackend) Scandir(ctx context.Context, path string) ([]string, error) {
	return b.dirs[path], nil
}

func (b *memBackend) Unlink(ctx context.Context, key string) error {
	delete(b.files, key)
	return nil
}

func (b *memBackend) Alias() string { return "mem" }

func TestBuildMasterPlaylistRateLimited(t *testing.T) {
	backend := newMemBackend()
	backend.dirs["committed/res1"] = []string{"v1"}
	backend.files["committed/res1/v1/master.m3u8"] = []byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=100\n")

	seeker := NewSeeker(backend, "cdn.example.com", URLLabels{}, time.Hour)
	dir := t.TempDir()
	aggregate := filepath.Join(dir, "master.m3u8")

	if _, err := seeker.BuildMasterPlaylist(context.Background(), "committed/res1", "res1", aggregate); err != nil {
		t.Fatalf("first build failed: %v", err)
	}

	_, err := seeker.BuildMasterPlaylist(context.Background(), "committed/res1", "res1", aggregate)
	if err == nil {
		t.Fatalf("expected rate-limit error on immediate second build")
	}
	var kerr *domain.KindError
	if !errors.As(err, &kerr) || kerr.Kind != domain.ErrKindCapacity {
		t.Fatalf("expected capacity-kind error, got %v", err)
	}
	if kerr.Kind.HTTPStatus() != 429 {
		t.Fatalf("expected 429, got %d", kerr.Kind.HTTPStatus())
	}
}

func TestBuildMasterPlaylistMissingStreamInf(t *testing.T) {
	backend := newMemBackend()
	backend.dirs["committed/res1"] = []string{"v1"}
	backend.files["committed/res1/v1/master.m3u8"] = []byte("#EXTM3U\n")

	seeker := NewSeeker(backend, "cdn.example.com", URLLabels{}, time.Hour)
	aggregate := filepath.Join(t.TempDir(), "master.m3u8")

	_, err := seeker.BuildMasterPlaylist(context.Background(), "committed/res1", "res1", aggregate)
	if err == nil {
		t.Fatalf("expected error for missing #EXT-X-STREAM-INF")
	}
}

func validSecondaryPlaylist() []byte {
	return []byte("#EXTM3U\n" +
		"#EXT-X-VERSION:7\n" +
		"#EXT-X-TARGETDURATION:6\n" +
		"#EXT-X-PLAYLIST-TYPE:VOD\n" +
		"#EXT-X-MAP:URI=\"init.mp4\"\n" +
		"#EXTINF:6.0,\n" +
		"segment-000.m4s\n" +
		"#EXT-X-ENDLIST\n")
}

func TestBuildSecondaryPlaylistRewritesURLsAndInjectsKey(t *testing.T) {
	backend := newMemBackend()
	backend.files["staging/res1/v1/playlist.m3u8"] = validSecondaryPlaylist()

	seeker := NewSeeker(backend, "cdn.example.com", URLLabels{}, time.Hour)
	ring := NewKeyRing(time.Hour, "https://cdn.example.com/keys")
	if _, err := ring.Rotate(time.Now()); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	out, err := seeker.BuildSecondaryPlaylist(context.Background(), "staging/res1/v1/playlist.m3u8", "res1", "v1", ring)
	if err != nil {
		t.Fatalf("build secondary failed: %v", err)
	}
	text := string(out)
	if !bytes.Contains(out, []byte("#EXT-X-KEY:METHOD=AES-128")) {
		t.Fatalf("expected injected EXT-X-KEY tag, got:\n%s", text)
	}
	if !bytes.Contains(out, []byte("cdn.example.com")) {
		t.Fatalf("expected rewritten segment URL, got:\n%s", text)
	}
}

func TestBuildSecondaryPlaylistRejectsMissingMap(t *testing.T) {
	backend := newMemBackend()
	backend.files["staging/res1/v1/playlist.m3u8"] = []byte("#EXTM3U\n" +
		"#EXT-X-VERSION:7\n" +
		"#EXT-X-TARGETDURATION:6\n" +
		"#EXT-X-PLAYLIST-TYPE:VOD\n" +
		"#EXTINF:6.0,\n" +
		"segment-000.m4s\n")

	seeker := NewSeeker(backend, "cdn.example.com", URLLabels{}, time.Hour)
	_, err := seeker.BuildSecondaryPlaylist(context.Background(), "staging/res1/v1/playlist.m3u8", "res1", "v1", nil)
	if err == nil {
		t.Fatalf("expected validation error for missing #EXT-X-MAP")
	}
}

func TestKeyRingRotatesAfterInterval(t *testing.T) {
	ring := NewKeyRing(10*time.Millisecond, "https://cdn.example.com/keys")
	base := time.Now()

	first, err := ring.Rotate(base)
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	second, err := ring.Rotate(base.Add(1 * time.Millisecond))
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if second.KeyID != first.KeyID {
		t.Fatalf("expected no rotation within interval")
	}

	third, err := ring.Rotate(base.Add(20 * time.Millisecond))
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if third.KeyID == first.KeyID {
		t.Fatalf("expected new key id after interval elapsed")
	}
}

func TestKeyRingEvictsOldEntries(t *testing.T) {
	ring := NewKeyRing(10*time.Millisecond, "https://cdn.example.com/keys")
	base := time.Now()

	oldest, err := ring.Rotate(base)
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if _, err := ring.Rotate(base.Add(50 * time.Millisecond)); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	if _, ok := ring.EntryByID(oldest.KeyID); ok {
		t.Fatalf("expected oldest entry to be evicted after 4x interval elapsed")
	}
}

func TestEncryptDecryptSegmentRoundTrips(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 16)
	iv := bytes.Repeat([]byte{0x22}, 16)
	plaintext := []byte("hello hls segment body, not block aligned")

	ciphertext, err := EncryptSegment(key, iv, plaintext)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if len(ciphertext)%16 != 0 {
		t.Fatalf("expected ciphertext aligned to 16 bytes, got %d", len(ciphertext))
	}

	decrypted, err := DecryptSegment(key, iv, ciphertext)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("round trip mismatch: got %q", decrypted)
	}
}

func TestFlockRoundTrip(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "lock")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	defer f.Close()

	if err := flockExclusive(f); err != nil {
		t.Fatalf("flock: %v", err)
	}
	if err := funlock(f); err != nil {
		t.Fatalf("funlock: %v", err)
	}
}
