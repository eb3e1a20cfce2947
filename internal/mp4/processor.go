package mp4

import (
	"context"
	"io"

	"github.com/metalalive/transcoder-core/internal/domain/ports"
)

// SourceProcessor adapts a Preloader to ports.Processor, the source-side
// half of the fan-out the storage-map coordinator drives. One Processing
// call advances the pre-loader's state machine by exactly one atom.
type SourceProcessor struct {
	preloader *Preloader
	label     string
}

// NewSourceProcessor wraps preloader for storagemap registration. label is
// the source container name ("mp4") used by LabelMatch.
func NewSourceProcessor(preloader *Preloader, label string) *SourceProcessor {
	return &SourceProcessor{preloader: preloader, label: label}
}

func (p *SourceProcessor) Init(ctx context.Context) error { return nil }

func (p *SourceProcessor) Deinit(ctx context.Context) error { return nil }

// Processing advances the pre-loader by one atom. The pre-loader never
// suspends on its own goroutine (spec.md §5: storage calls are the
// suspension point, not this method), so every call reports Suspended=false.
func (p *SourceProcessor) Processing(ctx context.Context) (ports.ProcessingResult, error) {
	if p.preloader.State() == PreloadDone {
		return ports.ProcessingResult{Done: true}, nil
	}
	if err := p.preloader.step(ctx); err != nil {
		return ports.ProcessingResult{}, err
	}
	return ports.ProcessingResult{Done: p.preloader.State() == PreloadDone}, nil
}

func (p *SourceProcessor) HasDoneProcessing() bool {
	return p.preloader.State() == PreloadDone
}

func (p *SourceProcessor) LabelMatch(label string) bool {
	return label == p.label
}

// PassthroughProcessor implements the plain MP4 destination: it copies the
// pre-loaded local-temp bytes straight to the destination backend without
// any filter/encode stage, per spec.md §4.2's "plain MP4 dest" backend.
//
// ports.StorageBackend.Write replaces an object's full content on every
// call rather than appending, so each round re-writes the whole buffer
// accumulated so far instead of just the newest chunk.
type PassthroughProcessor struct {
	backend ports.StorageBackend
	key     string
	source  func() ([]byte, bool, error) // returns next chunk, sourceDone, err
	label   string

	buf  []byte
	done bool
}

// NewPassthroughProcessor builds the plain MP4 destination processor.
// source yields the next chunk of pre-loaded bytes (typically backed by
// the same local-temp reader the HLS destination reads from); it reports
// sourceDone=true once the upstream pre-loader has nothing further to
// offer.
func NewPassthroughProcessor(backend ports.StorageBackend, key, label string, source func() ([]byte, bool, error)) *PassthroughProcessor {
	return &PassthroughProcessor{backend: backend, key: key, label: label, source: source}
}

func (p *PassthroughProcessor) Init(ctx context.Context) error { return nil }

func (p *PassthroughProcessor) Deinit(ctx context.Context) error { return nil }

func (p *PassthroughProcessor) Processing(ctx context.Context) (ports.ProcessingResult, error) {
	if p.done {
		return ports.ProcessingResult{Done: true}, nil
	}
	chunk, sourceDone, err := p.source()
	if err != nil {
		return ports.ProcessingResult{}, err
	}
	if len(chunk) > 0 {
		p.buf = append(p.buf, chunk...)
		if err := p.backend.Write(ctx, p.key, &byteReader{p.buf}); err != nil {
			return ports.ProcessingResult{}, err
		}
	}
	if sourceDone {
		p.done = true
	}
	return ports.ProcessingResult{Done: p.done}, nil
}

func (p *PassthroughProcessor) HasDoneProcessing() bool { return p.done }

func (p *PassthroughProcessor) LabelMatch(label string) bool { return label == p.label }

type byteReader struct{ b []byte }

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}
