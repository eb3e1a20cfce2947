package hls

import (
	"context"
	"errors"
	"testing"
)

func newTestPipeline(frames [][]byte) (*Pipeline, *[][]byte) {
	idx := 0
	var written [][]byte
	p := &Pipeline{
		Filter: func() ([]byte, bool, error) {
			if idx >= len(frames) {
				return nil, true, nil
			}
			f := frames[idx]
			idx++
			return f, false, nil
		},
		FlushFilter: func() ([]byte, bool, error) { return nil, true, nil },
		Encode: func(frame []byte) ([][]byte, error) {
			return [][]byte{frame}, nil
		},
		FlushEncode: func() ([][]byte, bool, error) { return nil, true, nil },
		Write: func(pkt []byte) error {
			written = append(written, pkt)
			return nil
		},
	}
	return p, &written
}

func TestDestinationProcessorTicksUntilSourceDoneThenFinishes(t *testing.T) {
	frames := [][]byte{[]byte("a"), []byte("b")}
	pipeline, written := newTestPipeline(frames)
	sourceDone := false
	proc := NewDestinationProcessor(pipeline, "hls", func() bool { return sourceDone })

	if proc.HasDoneProcessing() {
		t.Fatal("should not be done before any tick")
	}

	ctx := context.Background()
	result, err := proc.Processing(ctx)
	if err != nil {
		t.Fatalf("Processing failed: %v", err)
	}
	if result.Done {
		t.Fatal("pipeline should not finish while source is not yet done")
	}
	if len(*written) != 2 {
		t.Fatalf("expected both buffered frames written before needMore, got %d", len(*written))
	}

	sourceDone = true
	result, err = proc.Processing(ctx)
	if err != nil {
		t.Fatalf("Processing failed: %v", err)
	}
	if !result.Done || !proc.HasDoneProcessing() {
		t.Fatal("expected pipeline to finish once source is done and flush states complete")
	}
	if !proc.LabelMatch("hls") || proc.LabelMatch("image") {
		t.Fatal("LabelMatch did not behave as expected")
	}
}

func TestDestinationProcessorPropagatesPipelineError(t *testing.T) {
	boom := errors.New("boom")
	pipeline := &Pipeline{
		Filter:      func() ([]byte, bool, error) { return nil, false, boom },
		FlushFilter: func() ([]byte, bool, error) { return nil, true, nil },
		Encode:      func(frame []byte) ([][]byte, error) { return nil, nil },
		FlushEncode: func() ([][]byte, bool, error) { return nil, true, nil },
		Write:       func(pkt []byte) error { return nil },
	}
	proc := NewDestinationProcessor(pipeline, "hls", func() bool { return false })

	_, err := proc.Processing(context.Background())
	if err == nil {
		t.Fatal("expected pipeline filter error to propagate")
	}
}

func TestDestinationProcessorNilSourceDoneNeverFlushes(t *testing.T) {
	frames := [][]byte{[]byte("a")}
	pipeline, _ := newTestPipeline(frames)
	proc := NewDestinationProcessor(pipeline, "hls", nil)

	result, err := proc.Processing(context.Background())
	if err != nil {
		t.Fatalf("Processing failed: %v", err)
	}
	if result.Done {
		t.Fatal("without a sourceDone callback the pipeline must never be told the source finished")
	}
}
