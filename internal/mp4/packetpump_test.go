package mp4

import (
	"io"
	"testing"

	"github.com/metalalive/transcoder-core/internal/domain"
)

func TestNextLocalPacketNeedsMoreWhenNothingPreloaded(t *testing.T) {
	c := NewAvContext(nil, nil)
	c.StreamIdx[0] = &domain.StreamPktIndex{}

	res, err := c.NextLocalPacket(0, func(int) ([]byte, error) { return []byte{1}, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != PacketNeedMore {
		t.Fatalf("expected PacketNeedMore, got %v", res)
	}
}

func TestNextLocalPacketReadyWhenPreloadedAhead(t *testing.T) {
	c := NewAvContext(nil, nil)
	c.StreamIdx[0] = &domain.StreamPktIndex{Preloaded: 1}

	res, err := c.NextLocalPacket(0, func(int) ([]byte, error) { return []byte{1, 2, 3}, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != PacketReady {
		t.Fatalf("expected PacketReady, got %v", res)
	}
	if c.StreamIdx[0].Fetched != 1 {
		t.Fatalf("expected Fetched incremented to 1, got %d", c.StreamIdx[0].Fetched)
	}
}

func TestDecodePacketSignalsWake(t *testing.T) {
	c := NewAvContext(func(pkt []byte) ([]byte, bool, error) {
		return []byte("frame"), false, nil
	}, nil)
	c.StreamIdx[0] = &domain.StreamPktIndex{Preloaded: 1}
	if _, err := c.NextLocalPacket(0, func(int) ([]byte, error) { return []byte{9}, nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, frame, err := c.DecodePacket()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != PacketReady || string(frame) != "frame" {
		t.Fatalf("unexpected decode result: %v %q", res, frame)
	}

	select {
	case <-c.WakeChan():
	default:
		t.Fatalf("expected async-wake signal after synchronous decode")
	}
}

// sequentialEntries builds n sample-table entries of fixed size, positioned
// at pos, pos+stride, pos+2*stride, ... — a stand-in for one stream's real
// interleaved file-position layout.
func sequentialEntries(n int, pos, stride, size uint64) []domain.PacketIndexEntry {
	entries := make([]domain.PacketIndexEntry, n)
	for i := range entries {
		entries[i] = domain.PacketIndexEntry{Pos: pos, Size: size}
		pos += stride
	}
	return entries
}

func TestEstimateNbPktPreloadReturnsEOFWhenNoStreams(t *testing.T) {
	c := NewAvContext(nil, nil)
	n, err := c.EstimateNbPktPreload(AsyncLimit{})
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 packets, got %d", n)
	}
}

func TestEstimateNbPktPreloadInitialPredicate(t *testing.T) {
	c := NewAvContext(nil, nil)
	// Two streams interleaved in the source at different per-packet sizes
	// (stream 1's packets are much smaller than stream 0's), exercising
	// the farthest-position walk rather than an average-size estimate.
	c.StreamIdx[0] = &domain.StreamPktIndex{Entries: sequentialEntries(8, 0, 20, 18)}
	c.StreamIdx[1] = &domain.StreamPktIndex{Entries: sequentialEntries(8, 5, 20, 2)}

	n, err := c.EstimateNbPktPreload(AsyncLimit{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Both streams must reach DefaultNumInitPkts before the predicate stops.
	if c.StreamIdx[0].Preloaded < DefaultNumInitPkts || c.StreamIdx[1].Preloaded < DefaultNumInitPkts {
		t.Fatalf("expected both streams to reach init pkt count, got %d and %d", c.StreamIdx[0].Preloaded, c.StreamIdx[1].Preloaded)
	}
	if n == 0 {
		t.Fatalf("expected a positive number of packets estimated")
	}
}

// TestEstimateNbPktPreloadSubsequentPredicate exercises the byte-budget
// continue-predicate that applies once every stream has already cleared
// DefaultNumInitPkts: the walk must stop as soon as the accumulated bytes
// since the last round reach MaxNbytesBulk, picking up the farthest real
// position each time rather than an average packet size, so a stream with
// much larger packets than another doesn't get starved or over-counted.
func TestEstimateNbPktPreloadSubsequentPredicate(t *testing.T) {
	c := NewAvContext(nil, nil)
	c.StreamIdx[0] = &domain.StreamPktIndex{
		Entries:    sequentialEntries(20, 0, 20, 16),
		Preloading: DefaultNumInitPkts,
		Preloaded:  DefaultNumInitPkts,
	}
	c.StreamIdx[1] = &domain.StreamPktIndex{
		Entries:    sequentialEntries(20, 8, 20, 4),
		Preloading: DefaultNumInitPkts,
		Preloaded:  DefaultNumInitPkts,
	}

	n, err := c.EstimateNbPktPreload(AsyncLimit{MaxNbytesBulk: 30})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected a positive number of packets estimated")
	}
	// The walk must stop once accumulated bytes reach the bulk limit, not
	// drain every remaining entry in both streams.
	totalEntries := uint64(len(c.StreamIdx[0].Entries) + len(c.StreamIdx[1].Entries))
	if n >= totalEntries {
		t.Fatalf("expected the byte budget to cut the walk short, got n=%d of %d total entries", n, totalEntries)
	}
}

func TestMonitorProgressReportsOnlyPastInterval(t *testing.T) {
	c := NewAvContext(nil, nil)
	c.TotNumPktsFixed = 100
	c.TotNumPktsAvail = 100

	if _, shouldReport := c.MonitorProgress(); shouldReport {
		t.Fatalf("expected no report at 0%% progress")
	}

	c.TotNumPktsAvail = 80 // 20% done: the 0.20 delta is past the 0.15 interval, so this reports
	_, shouldReport := c.MonitorProgress()
	if !shouldReport {
		t.Fatalf("expected a report once delta exceeds interval")
	}

	c.TotNumPktsAvail = 78 // tiny delta, should not report again immediately
	if _, shouldReport := c.MonitorProgress(); shouldReport {
		t.Fatalf("expected no report for sub-interval delta")
	}
}
