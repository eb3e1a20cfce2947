// Package hls implements the destination pipeline that filters, encodes,
// and muxes a source's decoded frames into fMP4 init + media segments for
// HLS delivery.
package hls

import (
	"context"

	"github.com/metalalive/transcoder-core/internal/domain"
)

type FilterFunc func() (frame []byte, needMore bool, err error)
type FlushFilterFunc func() (frame []byte, flushed bool, err error)
type EncodeFunc func(frame []byte) (packets [][]byte, err error)
type FlushEncodeFunc func() (packets [][]byte, flushed bool, err error)
type WriteFunc func(pkt []byte) error
type FinalWriteFunc func() error
type MoveToStorageFunc func(ctx context.Context) error

// Pipeline drives the filter -> encode -> write state table described in
// spec.md §4.5, including its flush-state transition.
type Pipeline struct {
	Filter      FilterFunc
	FlushFilter FlushFilterFunc
	Encode      EncodeFunc
	FlushEncode FlushEncodeFunc
	Write       WriteFunc
	FinalWrite  FinalWriteFunc
	MoveToStorage MoveToStorageFunc

	sourceDone     bool
	filterFlushed  bool
	encoderFlushed bool
}

// SourceDone marks that the upstream source processor has no more packets;
// subsequent ticks switch the filter/encode functions to their flush
// variants per the transition table.
func (p *Pipeline) SourceDone() { p.sourceDone = true }

func (p *Pipeline) Finished() bool { return p.encoderFlushed }

// Tick runs one iteration of the nested filter/encode/write loop, then
// flushes the just-written local segment bytes to destination storage.
// It returns when the filter reports "need more data" (source not done)
// or once the final write has completed (source done, both flushed).
func (p *Pipeline) Tick(ctx context.Context) error {
	for {
		switch {
		case !p.sourceDone:
			frame, needMore, err := p.Filter()
			if err != nil {
				return domain.NewKindError(domain.ErrKindTranscoder, "hls pipeline: filter failed: %v", err)
			}
			if needMore {
				return p.moveToStorage(ctx)
			}
			if err := p.encodeAndWrite(frame); err != nil {
				return err
			}

		case !p.filterFlushed:
			frame, flushed, err := p.FlushFilter()
			if err != nil {
				return domain.NewKindError(domain.ErrKindTranscoder, "hls pipeline: flush_filter failed: %v", err)
			}
			if flushed {
				p.filterFlushed = true
				continue
			}
			if err := p.encodeAndWrite(frame); err != nil {
				return err
			}

		case !p.encoderFlushed:
			pkts, flushed, err := p.FlushEncode()
			if err != nil {
				return domain.NewKindError(domain.ErrKindTranscoder, "hls pipeline: flush_encode failed: %v", err)
			}
			if flushed {
				p.encoderFlushed = true
				continue
			}
			if err := p.writeAll(pkts); err != nil {
				return err
			}

		default:
			if p.FinalWrite != nil {
				if err := p.FinalWrite(); err != nil {
					return domain.NewKindError(domain.ErrKindStorage, "hls pipeline: final_write failed: %v", err)
				}
			}
			return p.moveToStorage(ctx)
		}
	}
}

func (p *Pipeline) encodeAndWrite(frame []byte) error {
	pkts, err := p.Encode(frame)
	if err != nil {
		return domain.NewKindError(domain.ErrKindTranscoder, "hls pipeline: encode failed: %v", err)
	}
	return p.writeAll(pkts)
}

func (p *Pipeline) writeAll(pkts [][]byte) error {
	for _, pkt := range pkts {
		if err := p.Write(pkt); err != nil {
			return domain.NewKindError(domain.ErrKindStorage, "hls pipeline: write failed: %v", err)
		}
	}
	return nil
}

func (p *Pipeline) moveToStorage(ctx context.Context) error {
	if p.MoveToStorage == nil {
		return nil
	}
	if err := p.MoveToStorage(ctx); err != nil {
		return domain.NewKindError(domain.ErrKindStorage, "hls pipeline: move_to_storage failed: %v", err)
	}
	return nil
}
