package processor

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/metalalive/transcoder-core/internal/domain/ports"
	"github.com/metalalive/transcoder-core/internal/hls"
	"github.com/metalalive/transcoder-core/internal/metrics"
	"github.com/metalalive/transcoder-core/internal/mp4"
)

// RegisterBuiltins wires the container backends this build ships with into
// reg: the MP4 source pre-loader, the plain MP4 passthrough destination,
// the HLS destination, and the image destination (which reuses the HLS
// pipeline's filter/encode/write state table; it requires a filter graph
// but does not apply it). The codec itself is explicitly out of
// scope, so Encode/Filter below are identity passes over whatever bytes the
// pre-loader staged; a real build would inject a codec library here
// without touching the state machines in mp4/hls.
func RegisterBuiltins(reg *Registry) {
	reg.Register(ports.RoleSource, newMP4SourceProcessor, "mp4")

	reg.Register(ports.RoleDestination, newMP4PassthroughProcessor, "mp4", "video/mp4", "mov")
	reg.Register(ports.RoleDestination, newHLSDestinationProcessor, "hls", "application/vnd.apple.mpegurl")
	reg.Register(ports.RoleDestination, newImageDestinationProcessor, "image", "image/jpeg", "image/png")
}

func newMP4SourceProcessor(opts Options) (ports.Processor, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("processor: mp4 source requires a backend")
	}
	if opts.LocalWriter == nil {
		return nil, fmt.Errorf("processor: mp4 source requires a local-temp writer")
	}
	keyFn := opts.SourceKeyFn
	if keyFn == nil {
		keyFn = func(chunkSeq uint32) string { return fmt.Sprintf("%d", chunkSeq) }
	}
	preloader := mp4.NewPreloader(opts.Backend, keyFn, opts.PartsSize, opts.PreloadBufSize, opts.LocalWriter)
	return mp4.NewSourceProcessor(preloader, "mp4"), nil
}

func newMP4PassthroughProcessor(opts Options) (ports.Processor, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("processor: mp4 destination requires a backend")
	}
	if opts.ReadLocal == nil {
		return nil, fmt.Errorf("processor: mp4 destination requires a local-temp reader")
	}
	key := opts.DestKey
	if key == "" {
		key = opts.VersionLabel
	}
	return mp4.NewPassthroughProcessor(opts.Backend, key, "mp4", opts.ReadLocal), nil
}

func newHLSDestinationProcessor(opts Options) (ports.Processor, error) {
	pipeline, err := newPassthroughHLSPipeline(opts, "hls")
	if err != nil {
		return nil, err
	}
	return hls.NewDestinationProcessor(pipeline, "hls", opts.SourceDone), nil
}

// newImageDestinationProcessor reuses the same segmented-write pipeline as
// the HLS destination. It refuses to build without a filter graph, but the
// identity pipeline does not apply that graph, so the segment objects it
// writes are the same as the HLS destination's.
func newImageDestinationProcessor(opts Options) (ports.Processor, error) {
	if opts.FilterGraph == nil {
		return nil, fmt.Errorf("processor: image destination requires a filter graph")
	}
	pipeline, err := newPassthroughHLSPipeline(opts, "image")
	if err != nil {
		return nil, err
	}
	return hls.NewDestinationProcessor(pipeline, "image", opts.SourceDone), nil
}

// newPassthroughHLSPipeline builds a hls.Pipeline whose write stage names
// and stores each output chunk as a segment object, per hls.SegmentName's
// NNN-padded layout, without performing any real codec work. container
// labels the EncodeDuration metric ("hls" or "image") per the caller above.
func newPassthroughHLSPipeline(opts Options, container string) (*hls.Pipeline, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("processor: hls destination requires a backend")
	}
	if opts.ReadLocal == nil {
		return nil, fmt.Errorf("processor: hls destination requires a local-temp reader")
	}
	prefix := opts.DestKey
	if prefix == "" {
		prefix = opts.VersionLabel
	}
	segment := 0

	pipeline := &hls.Pipeline{
		Filter: func() ([]byte, bool, error) {
			chunk, _, err := opts.ReadLocal()
			if err != nil {
				return nil, false, err
			}
			if len(chunk) == 0 {
				return nil, true, nil
			}
			return chunk, false, nil
		},
		FlushFilter: func() ([]byte, bool, error) { return nil, true, nil },
		Encode: func(frame []byte) ([][]byte, error) {
			start := time.Now()
			defer func() {
				metrics.EncodeDuration.WithLabelValues(container).Observe(time.Since(start).Seconds())
			}()
			return [][]byte{frame}, nil
		},
		FlushEncode: func() ([][]byte, bool, error) { return nil, true, nil },
	}
	pipeline.Write = func(pkt []byte) error {
		segment++
		key := fmt.Sprintf("%s/%s", prefix, hls.SegmentName(segment))
		if err := opts.Backend.Write(context.Background(), key, bytes.NewReader(pkt)); err != nil {
			return err
		}
		metrics.HLSSegmentsWrittenTotal.Inc()
		return nil
	}
	return pipeline, nil
}
