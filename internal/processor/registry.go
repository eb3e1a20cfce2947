// Package processor implements dynamic dispatch over container/codec
// backends: a static registry of (label, constructor) pairs, with
// construction chosen either by explicit container name or by MIME sniff
// of the first bytes of a source.
package processor

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/metalalive/transcoder-core/internal/domain/ports"
	"github.com/metalalive/transcoder-core/internal/hls"
)

// Constructor builds a fresh Processor instance. opts carries
// backend-specific construction parameters (request spec, error-info,
// version label, local-tmp path, ...).
type Constructor func(opts Options) (ports.Processor, error)

// Options bundles the construction parameters every backend accepts.
// Backends that don't need a field simply ignore it.
type Options struct {
	UserID        uint32
	UploadReqID   uint32
	VersionLabel  string
	LocalTmpDir   string
	StagingDir    string
	Backend       ports.StorageBackend
	RequestSpec   map[string]any
	ErrorCallback func(kind, message string)

	// Fields below are only consumed by this build's registered
	// constructors (see builtin.go); a constructor that doesn't need one
	// simply ignores it.

	// PartsSize and SourceKeyFn are source-role only: they drive the MP4
	// pre-loader's chunked read pattern.
	PartsSize      []uint32
	SourceKeyFn    func(chunkSeq uint32) string
	PreloadBufSize int

	// LocalWriter is where the source-role pre-loader writes; ReadLocal is
	// how a destination-role processor drains those same bytes.
	LocalWriter io.Writer
	ReadLocal   func() ([]byte, bool, error)

	// SourceDone reports whether the source processor for this job has
	// finished, used by destination-role processors to switch into their
	// flush states.
	SourceDone func() bool

	// DestKey is the destination backend object key (or key prefix) a
	// destination-role processor writes under.
	DestKey string

	// FilterGraph configures the image-destination's still-image filter
	// graph; ignored by every other destination.
	FilterGraph *hls.FilterGraphSpec
}

type registration struct {
	labels []string
	role   ports.ProcessorRole
	ctor   Constructor
}

// Registry maps labels (MIME types or short aliases such as "mp4", "mov",
// "hls") to constructors. Source and destination roles may share a backend
// implementation but are looked up independently so the same label never
// accidentally serves the wrong role.
type Registry struct {
	mu    sync.RWMutex
	byKey map[ports.ProcessorRole]map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{
		byKey: map[ports.ProcessorRole]map[string]Constructor{
			ports.RoleSource:      {},
			ports.RoleDestination: {},
		},
	}
}

// Register binds a constructor to every label in labels, for the given
// role. Labels are matched case-insensitively.
func (r *Registry) Register(role ports.ProcessorRole, ctor Constructor, labels ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, label := range labels {
		r.byKey[role][strings.ToLower(label)] = ctor
	}
}

// Lookup resolves a label (container name or MIME type) to a constructor
// for the given role.
func (r *Registry) Lookup(role ports.ProcessorRole, label string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.byKey[role][strings.ToLower(label)]
	return ctor, ok
}

// Instantiate resolves and constructs in one call.
func (r *Registry) Instantiate(role ports.ProcessorRole, label string, opts Options) (ports.Processor, error) {
	ctor, ok := r.Lookup(role, label)
	if !ok {
		return nil, fmt.Errorf("processor: no constructor registered for role=%d label=%q", role, label)
	}
	return ctor(opts)
}

// SniffSourceLabel inspects the first bytes of a chunk (per spec.md §2,
// "MIME sniff of the first 64 bytes of the first chunk") and returns the
// container label to look up in the source registry. It recognizes the
// ISO-BMFF `ftyp` box signature at offset 4; anything else reports
// "unknown".
func SniffSourceLabel(head []byte) string {
	if len(head) >= 8 && string(head[4:8]) == "ftyp" {
		return "mp4"
	}
	return "unknown"
}
