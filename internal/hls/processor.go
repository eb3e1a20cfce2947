package hls

import (
	"context"

	"github.com/metalalive/transcoder-core/internal/domain/ports"
)

// DestinationProcessor adapts a Pipeline to ports.Processor, letting the
// storage-map coordinator drive an HLS destination the same way it drives
// any other destination.
type DestinationProcessor struct {
	pipeline *Pipeline
	label    string

	sourceDone func() bool
}

// NewDestinationProcessor wraps pipeline for storagemap registration.
// sourceDone reports whether the upstream source processor has finished,
// which the pipeline needs to switch into its flush states.
func NewDestinationProcessor(pipeline *Pipeline, label string, sourceDone func() bool) *DestinationProcessor {
	return &DestinationProcessor{pipeline: pipeline, label: label, sourceDone: sourceDone}
}

func (p *DestinationProcessor) Init(ctx context.Context) error { return nil }

func (p *DestinationProcessor) Deinit(ctx context.Context) error { return nil }

func (p *DestinationProcessor) Processing(ctx context.Context) (ports.ProcessingResult, error) {
	if p.sourceDone != nil && p.sourceDone() {
		p.pipeline.SourceDone()
	}
	if err := p.pipeline.Tick(ctx); err != nil {
		return ports.ProcessingResult{}, err
	}
	return ports.ProcessingResult{Done: p.pipeline.Finished()}, nil
}

func (p *DestinationProcessor) HasDoneProcessing() bool { return p.pipeline.Finished() }

func (p *DestinationProcessor) LabelMatch(label string) bool { return label == p.label }
