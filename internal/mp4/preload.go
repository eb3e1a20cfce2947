// Package mp4 implements the atom-aware incremental pre-loader and the
// av-context packet pump described in spec.md §4.3–§4.4.
package mp4

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/metalalive/transcoder-core/internal/domain"
	"github.com/metalalive/transcoder-core/internal/domain/ports"
	"github.com/metalalive/transcoder-core/internal/metrics"
)

// PreloadState is the explicit state-machine enum replacing the original
// callback-chain design, per spec.md §9.
type PreloadState int

const (
	AwaitingOpen PreloadState = iota
	AwaitingHeaderRead
	AwaitingBodyRead
	AwaitingSwitchChunk
	EmittingMdatHeader
	PreloadDone
)

func (s PreloadState) String() string {
	switch s {
	case AwaitingOpen:
		return "awaiting_open"
	case AwaitingHeaderRead:
		return "awaiting_header_read"
	case AwaitingBodyRead:
		return "awaiting_body_read"
	case AwaitingSwitchChunk:
		return "awaiting_switch_chunk"
	case EmittingMdatHeader:
		return "emitting_mdat_header"
	case PreloadDone:
		return "done"
	default:
		return "unknown"
	}
}

// KeyFunc builds the source storage key for a 1-based chunk sequence
// number, per spec.md §6's source storage layout.
type KeyFunc func(chunkSeq uint32) string

// Preloader drives the atom vocabulary state machine across a chunked
// source, producing `ftyp || free? || moov || mdat_header` in localOut and
// recording the mdat body's location without ever copying its bytes.
type Preloader struct {
	backend   ports.StorageBackend
	keyFn     KeyFunc
	partsSize []uint32
	bufMax    int
	localOut  io.Writer

	state     PreloadState
	chunkSeq  uint32 // 1-based
	offset    uint64 // byte offset within chunkSeq
	written   uint64 // bytes written to localOut so far

	mdat        *domain.MdatLocator
	mdatPending bool
}

// NewPreloader constructs a pre-loader over a chunked source. bufMax bounds
// each body-copy operation (the read buffer mentioned throughout spec.md
// §4.3).
func NewPreloader(backend ports.StorageBackend, keyFn KeyFunc, partsSize []uint32, bufMax int, localOut io.Writer) *Preloader {
	if bufMax <= 0 {
		bufMax = 64 * 1024
	}
	return &Preloader{
		backend:   backend,
		keyFn:     keyFn,
		partsSize: partsSize,
		bufMax:    bufMax,
		localOut:  localOut,
		state:     AwaitingOpen,
		chunkSeq:  1,
	}
}

// setState records a state transition and reassigns p.state, keeping
// PreloadStateTransitionsTotal's from/to labels in step with every place
// the state machine advances.
func (p *Preloader) setState(next PreloadState) {
	metrics.PreloadStateTransitionsTotal.WithLabelValues(p.state.String(), next.String()).Inc()
	p.state = next
}

func (p *Preloader) State() PreloadState   { return p.state }
func (p *Preloader) Written() uint64       { return p.written }
func (p *Preloader) Mdat() *domain.MdatLocator { return p.mdat }

// totalSourceBytes sums parts_size, the source length derived from the
// request envelope per spec.md §3's mdat-bound invariant.
func (p *Preloader) totalSourceBytes() uint64 {
	var total uint64
	for _, sz := range p.partsSize {
		total += uint64(sz)
	}
	return total
}

// EstimateSrcFileChunkIdx maps a whole-file byte offset onto a (chunkSeq,
// offset-within-chunk) pair, per spec.md's estimate_src_filechunk_idx.
func (p *Preloader) EstimateSrcFileChunkIdx(posWholeFile uint64) (chunkSeq uint32, offset uint64, ok bool) {
	remaining := posWholeFile
	for idx, sz := range p.partsSize {
		if remaining < uint64(sz) {
			return uint32(idx + 1), remaining, true
		}
		remaining -= uint64(sz)
	}
	if remaining == 0 {
		// exactly at end-of-source: one-past-the-last-chunk, valid EOF position.
		return uint32(len(p.partsSize) + 1), 0, true
	}
	return 0, 0, false
}

func (p *Preloader) wholeFileOffset(chunkSeq uint32, offset uint64) uint64 {
	var total uint64
	for i := uint32(1); i < chunkSeq; i++ {
		total += uint64(p.partsSize[i-1])
	}
	return total + offset
}

// readExact reads n bytes starting at the preloader's current position,
// transparently spanning chunk boundaries (the tail-byte reassembly
// described in spec.md step 1). Returns io.EOF only when the source is
// exhausted before n bytes were available.
func (p *Preloader) readExact(ctx context.Context, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if int(p.chunkSeq) > len(p.partsSize) {
			return out, io.EOF
		}
		chunkSize := uint64(p.partsSize[p.chunkSeq-1])
		remaining := chunkSize - p.offset
		if remaining == 0 {
			p.setState(AwaitingSwitchChunk)
			p.chunkSeq++
			p.offset = 0
			continue
		}
		want := uint64(n - len(out))
		toRead := remaining
		if want < toRead {
			toRead = want
		}
		tmp := make([]byte, toRead)
		key := p.keyFn(p.chunkSeq)
		nread, err := p.backend.ReadChunk(ctx, key, int64(p.offset), tmp)
		if err != nil && err != io.EOF {
			return out, err
		}
		out = append(out, tmp[:nread]...)
		p.offset += uint64(nread)
		if nread < len(tmp) {
			p.chunkSeq++
			p.offset = 0
		}
	}
	return out, nil
}

// skipBytes advances the current position by n bytes without reading them
// into memory, used to jump over an mdat body without copying it.
func (p *Preloader) skipBytes(n uint64) error {
	chunkSeq, offset, ok := p.EstimateSrcFileChunkIdx(p.wholeFileOffset(p.chunkSeq, p.offset) + n)
	if !ok {
		return io.EOF
	}
	p.chunkSeq, p.offset = chunkSeq, offset
	return nil
}

// Run drives the state machine to completion, writing the synthetic
// container prefix to localOut and populating Mdat().
func (p *Preloader) Run(ctx context.Context) error {
	for p.state != PreloadDone {
		if err := p.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Preloader) step(ctx context.Context) error {
	p.setState(AwaitingHeaderRead)
	header, err := p.readExact(ctx, domain.AtomHeaderSize)
	if err == io.EOF {
		if p.mdatPending {
			return p.emitMdatHeader()
		}
		p.setState(PreloadDone)
		return nil
	}
	if err != nil {
		return domain.NewKindError(domain.ErrKindStorage, "mp4 preload: header read failed: %v", err)
	}

	var atom domain.Atom
	atom.Size = binary.BigEndian.Uint32(header[0:4])
	copy(atom.Type[:], header[4:8])

	if !domain.IsRecognizedAtomType(atom.Type) {
		metrics.PreloadAtomsRejectedTotal.Inc()
		return domain.NewKindError(domain.ErrKindFormat, "mp4 preload: unrecognized atom type %q", atom.TypeString())
	}

	if atom.Type == domain.AtomTypeMdat {
		if atom.Size < domain.AtomHeaderSize {
			return domain.NewKindError(domain.ErrKindFormat, "mp4 preload: mdat size %d smaller than header", atom.Size)
		}
		bodySize := uint64(atom.Size) - domain.AtomHeaderSize
		p.mdat = &domain.MdatLocator{
			Header:       atom,
			FChunkSeq:    p.chunkSeq,
			Pos:          p.offset,
			PosWholeFile: p.wholeFileOffset(p.chunkSeq, p.offset),
			Size:         bodySize,
		}
		p.mdatPending = true
		if p.mdat.PosWholeFile+bodySize > p.totalSourceBytes() {
			return domain.NewKindError(domain.ErrKindFormat, "mp4 preload: mdat body exceeds declared source length")
		}
		p.setState(AwaitingSwitchChunk)
		return p.skipBytes(bodySize)
	}

	// ftyp, free, or moov: copy header then body verbatim.
	if _, err := p.localOut.Write(header); err != nil {
		return domain.NewKindError(domain.ErrKindStorage, "mp4 preload: local write failed: %v", err)
	}
	p.written += domain.AtomHeaderSize
	metrics.PreloadBytesTotal.Add(domain.AtomHeaderSize)

	bodySize := uint64(atom.Size) - domain.AtomHeaderSize
	p.setState(AwaitingBodyRead)
	for copied := uint64(0); copied < bodySize; {
		chunk := bodySize - copied
		if chunk > uint64(p.bufMax) {
			chunk = uint64(p.bufMax)
		}
		buf, err := p.readExact(ctx, int(chunk))
		if err != nil {
			return domain.NewKindError(domain.ErrKindStorage, "mp4 preload: body read failed: %v", err)
		}
		if _, err := p.localOut.Write(buf); err != nil {
			return domain.NewKindError(domain.ErrKindStorage, "mp4 preload: local write failed: %v", err)
		}
		copied += uint64(len(buf))
		p.written += uint64(len(buf))
		metrics.PreloadBytesTotal.Add(float64(len(buf)))
	}
	return nil
}

func (p *Preloader) emitMdatHeader() error {
	p.setState(EmittingMdatHeader)
	hdr := make([]byte, domain.AtomHeaderSize)
	binary.BigEndian.PutUint32(hdr[0:4], p.mdat.Header.Size)
	copy(hdr[4:8], p.mdat.Header.Type[:])
	if _, err := p.localOut.Write(hdr); err != nil {
		return domain.NewKindError(domain.ErrKindStorage, "mp4 preload: mdat header write failed: %v", err)
	}
	p.written += domain.AtomHeaderSize
	metrics.PreloadBytesTotal.Add(domain.AtomHeaderSize)
	p.mdatPending = false
	p.setState(PreloadDone)
	return nil
}

// errPreloadIncomplete is not returned by any function in this package:
// when the estimator cannot locate a further whole-file position, callers
// branch on io.EOF directly rather than on this sentinel.
var errPreloadIncomplete = fmt.Errorf("mp4 preload: incomplete source")
