package mp4

import (
	"context"
	"io"

	"github.com/metalalive/transcoder-core/internal/domain"
	"github.com/metalalive/transcoder-core/internal/domain/ports"
)

const (
	// DefaultNumInitPkts is ATFP_MP4__DEFAULT_NUM_INIT_PKTS: the initial
	// continue-predicate pre-loads at least this many packets per stream
	// before the estimator switches to the byte-budget predicate.
	DefaultNumInitPkts = 4
)

// AsyncLimit bounds one bulk pre-load round.
type AsyncLimit struct {
	MaxNbytesBulk uint64
}

// DecodeFunc and EncodeFunc are the injectable codec operations; the codec
// library itself is explicitly out of scope (spec.md §1).
type DecodeFunc func(packet []byte) (frame []byte, needMorePkt bool, err error)
type EncodeFunc func(frame []byte) (packets [][]byte, err error)

// PacketResult mirrors the tri-state contract of next_local_packet /
// decode_packet: 0 (ready), 1 (need more), negative (fatal) in the
// original; here expressed as an explicit enum.
type PacketResult int

const (
	PacketReady PacketResult = iota
	PacketNeedMore
	PacketFatal
)

// AvContext holds per-stream pre-load bookkeeping and the packet pump
// state for one source processor.
type AvContext struct {
	StreamIdx map[int]*domain.StreamPktIndex

	TotNumPktsAvail uint64
	TotNumPktsFixed uint64

	Decode DecodeFunc
	Encode EncodeFunc

	curPacket []byte
	curStream int

	// wake is the async-wake handle: signalling it defers continuation to
	// the next event-loop iteration instead of recursing synchronously,
	// per spec.md §4.4.
	wake chan struct{}

	lastReportedFraction float64
	reportInterval       float64
}

func NewAvContext(decode DecodeFunc, encode EncodeFunc) *AvContext {
	return &AvContext{
		StreamIdx:      make(map[int]*domain.StreamPktIndex),
		Decode:         decode,
		Encode:         encode,
		wake:           make(chan struct{}, 1),
		reportInterval: 0.15,
	}
}

// NextLocalPacket implements the next_local_packet contract: if any stream
// has preloaded > fetched, it reads one packet from the demuxer.
func (c *AvContext) NextLocalPacket(streamIdx int, read func(stream int) ([]byte, error)) (PacketResult, error) {
	idx, ok := c.StreamIdx[streamIdx]
	if !ok {
		return PacketFatal, domain.NewKindError(domain.ErrKindFormat, "mp4 avcontext: unknown stream index %d", streamIdx)
	}
	if idx.Preloaded <= idx.Fetched {
		return PacketNeedMore, nil
	}
	pkt, err := read(streamIdx)
	if err != nil {
		if err == io.EOF {
			return PacketNeedMore, nil
		}
		return PacketFatal, err
	}
	idx.Fetched++
	c.curPacket = pkt
	c.curStream = streamIdx
	if streamIdx < 0 {
		// A stream_index of -1 after read means the packet is discarded.
		c.curPacket = nil
		return PacketNeedMore, nil
	}
	return PacketReady, nil
}

// DecodePacket implements the decode_packet contract: submits the current
// packet to the codec and retrieves a frame, signalling the async-wake
// handle on success so continuation happens on the next loop tick rather
// than recursing.
func (c *AvContext) DecodePacket() (PacketResult, []byte, error) {
	if len(c.curPacket) == 0 {
		return PacketNeedMore, nil, nil
	}
	frame, needMore, err := c.Decode(c.curPacket)
	if err != nil {
		return PacketFatal, nil, domain.NewKindError(domain.ErrKindTranscoder, "mp4 avcontext: decode failed: %v", err)
	}
	if needMore {
		return PacketNeedMore, nil, nil
	}
	c.signalWake()
	return PacketReady, frame, nil
}

func (c *AvContext) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// WakeChan exposes the async-wake signal channel so the owning worker's
// event loop can select on it alongside storage-I/O completions.
func (c *AvContext) WakeChan() <-chan struct{} { return c.wake }

// MonitorProgress computes completion fraction and reports whether the
// delta since the last report exceeds the configured interval (default
// 0.15), per spec.md §4.4.
func (c *AvContext) MonitorProgress() (fraction float64, shouldReport bool) {
	if c.TotNumPktsFixed == 0 {
		return 0, false
	}
	fraction = float64(c.TotNumPktsFixed-c.TotNumPktsAvail) / float64(c.TotNumPktsFixed)
	if fraction < 0 {
		fraction = 0
	}
	if fraction-c.lastReportedFraction >= c.reportInterval || fraction == 1 {
		c.lastReportedFraction = fraction
		return fraction, true
	}
	return fraction, false
}

// EstimateNbPktPreload walks the farthest-position stream one packet at a
// time, applying the appropriate continue-predicate, and returns how many
// packets to pre-load next. "Farthest" is the stream whose next
// not-yet-preloaded sample-table entry sits at the lowest real byte
// position in the source, matching the true interleaved file-position walk
// atfp_ffmpeg__estimate_nb_pkt_preload performs over index_entries[].pos,
// rather than an average-packet-size estimate. Returns (0, io.EOF) when no
// stream has any further sample-table room — the explicit end-of-source
// signal called for by spec.md §9's "zero bytes estimated" open question,
// so callers never leave the continuation unscheduled.
func (c *AvContext) EstimateNbPktPreload(limit AsyncLimit) (uint64, error) {
	if len(c.StreamIdx) == 0 {
		return 0, io.EOF
	}

	allInitSatisfied := c.allStreamsReachedInitPkts()

	var n uint64
	var bytesAccum uint64
	for {
		farthest, entry, ok := c.farthestStream()
		if !ok {
			break
		}
		if allInitSatisfied {
			if limit.MaxNbytesBulk > 0 && bytesAccum >= limit.MaxNbytesBulk {
				break
			}
		} else if farthest.Preloading >= DefaultNumInitPkts {
			break
		}
		farthest.Preloading++
		farthest.Preloaded = farthest.Preloading
		n++
		bytesAccum += entry.Size
		if !allInitSatisfied {
			allInitSatisfied = c.allStreamsReachedInitPkts()
		}
	}

	if n == 0 {
		return 0, io.EOF
	}
	c.TotNumPktsAvail += n
	return n, nil
}

func (c *AvContext) allStreamsReachedInitPkts() bool {
	for _, idx := range c.StreamIdx {
		if idx.Preloaded < DefaultNumInitPkts {
			return false
		}
	}
	return true
}

// farthestStream returns the stream carrying the lowest-positioned
// not-yet-preloaded sample-table entry, and that entry itself, or
// (nil, _, false) once every stream has exhausted its Entries table.
// Grounded on original_source/staff_portal/media/src/transcoder/video/mp4/avcontext.c's
// index_entries[].pos/.size walk.
func (c *AvContext) farthestStream() (*domain.StreamPktIndex, domain.PacketIndexEntry, bool) {
	var farthest *domain.StreamPktIndex
	var farthestEntry domain.PacketIndexEntry
	for _, idx := range c.StreamIdx {
		if idx.Preloading >= uint64(len(idx.Entries)) {
			continue
		}
		entry := idx.Entries[idx.Preloading]
		if farthest == nil || entry.Pos < farthestEntry.Pos {
			farthest = idx
			farthestEntry = entry
		}
	}
	if farthest == nil {
		return nil, domain.PacketIndexEntry{}, false
	}
	return farthest, farthestEntry, true
}

// PreloadPacketSequence loads a contiguous byte range from the mdat body
// into the local temp file, possibly crossing chunk boundaries, updating
// mdat.NbPreloaded. The read size per operation is bounded by bufMax.
func PreloadPacketSequence(ctx context.Context, backend ports.StorageBackend, keyFn KeyFunc, partsSize []uint32, mdat *domain.MdatLocator, chunkIdxStart uint32, chunkOffset uint64, nbytesToLoad uint64, bufMax int, localOut io.Writer) error {
	p := &Preloader{
		backend:   backend,
		keyFn:     keyFn,
		partsSize: partsSize,
		bufMax:    bufMax,
		localOut:  localOut,
		chunkSeq:  chunkIdxStart,
		offset:    chunkOffset,
	}
	for loaded := uint64(0); loaded < nbytesToLoad; {
		want := nbytesToLoad - loaded
		if bufMax > 0 && want > uint64(bufMax) {
			want = uint64(bufMax)
		}
		buf, err := p.readExact(ctx, int(want))
		if len(buf) > 0 {
			if _, werr := localOut.Write(buf); werr != nil {
				return domain.NewKindError(domain.ErrKindStorage, "mp4 preload_packet_sequence: local write failed: %v", werr)
			}
			loaded += uint64(len(buf))
			mdat.NbPreloaded += uint64(len(buf))
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return domain.NewKindError(domain.ErrKindStorage, "mp4 preload_packet_sequence: read failed: %v", err)
		}
	}
	return nil
}
