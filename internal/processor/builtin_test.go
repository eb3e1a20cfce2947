package processor

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/metalalive/transcoder-core/internal/domain/ports"
)

type noopBackend struct{}

func (noopBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}
func (noopBackend) ReadChunk(ctx context.Context, key string, off int64, buf []byte) (int, error) {
	return 0, errors.New("not implemented")
}
func (noopBackend) Write(ctx context.Context, key string, r io.Reader) error { return nil }
func (noopBackend) Mkdir(ctx context.Context, dir string) error             { return nil }
func (noopBackend) Scandir(ctx context.Context, dir string) ([]string, error) {
	return nil, nil
}
func (noopBackend) Unlink(ctx context.Context, key string) error { return nil }
func (noopBackend) Alias() string                                { return "noop" }

func newTestRegistry() *Registry {
	reg := NewRegistry()
	RegisterBuiltins(reg)
	return reg
}

func TestRegisterBuiltinsWiresExpectedLabels(t *testing.T) {
	reg := newTestRegistry()

	for _, label := range []string{"mp4"} {
		if _, ok := reg.Lookup(ports.RoleSource, label); !ok {
			t.Errorf("expected source constructor registered for %q", label)
		}
	}
	for _, label := range []string{"mp4", "video/mp4", "mov", "hls", "application/vnd.apple.mpegurl", "image", "image/jpeg", "image/png"} {
		if _, ok := reg.Lookup(ports.RoleDestination, label); !ok {
			t.Errorf("expected destination constructor registered for %q", label)
		}
	}
}

func TestInstantiateMP4SourceRequiresBackendAndLocalWriter(t *testing.T) {
	reg := newTestRegistry()

	if _, err := reg.Instantiate(ports.RoleSource, "mp4", Options{}); err == nil {
		t.Fatal("expected error with no backend or local writer")
	}
	if _, err := reg.Instantiate(ports.RoleSource, "mp4", Options{Backend: noopBackend{}}); err == nil {
		t.Fatal("expected error with no local writer")
	}

	var out bytesWriter
	proc, err := reg.Instantiate(ports.RoleSource, "mp4", Options{
		Backend:     noopBackend{},
		PartsSize:   []uint32{10},
		LocalWriter: &out,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proc == nil {
		t.Fatal("expected a non-nil processor")
	}
}

func TestInstantiateHLSDestinationRequiresReadLocal(t *testing.T) {
	reg := newTestRegistry()
	if _, err := reg.Instantiate(ports.RoleDestination, "hls", Options{Backend: noopBackend{}}); err == nil {
		t.Fatal("expected error with no local reader")
	}

	proc, err := reg.Instantiate(ports.RoleDestination, "hls", Options{
		Backend:    noopBackend{},
		ReadLocal:  func() ([]byte, bool, error) { return nil, true, nil },
		SourceDone: func() bool { return true },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proc == nil {
		t.Fatal("expected a non-nil processor")
	}
}

func TestInstantiateImageDestinationRequiresFilterGraph(t *testing.T) {
	reg := newTestRegistry()
	if _, err := reg.Instantiate(ports.RoleDestination, "image", Options{
		Backend:   noopBackend{},
		ReadLocal: func() ([]byte, bool, error) { return nil, true, nil },
	}); err == nil {
		t.Fatal("expected error with no filter graph")
	}
}

func TestLookupUnknownLabelFails(t *testing.T) {
	reg := newTestRegistry()
	if _, err := reg.Instantiate(ports.RoleDestination, "does-not-exist", Options{}); err == nil {
		t.Fatal("expected error for unregistered label")
	}
}

type bytesWriter struct{ n int }

func (w *bytesWriter) Write(p []byte) (int, error) {
	w.n += len(p)
	return len(p), nil
}
