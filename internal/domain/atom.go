package domain

// Atom is an MP4 boxed record header: 32-bit big-endian size, 4-byte ASCII
// type, then body (body not modeled here — the pre-loader streams it).
type Atom struct {
	Size uint32
	Type [4]byte
}

func (a Atom) TypeString() string { return string(a.Type[:]) }

const AtomHeaderSize = 8 // sizeof(Atom) on the wire: 4-byte size + 4-byte type

// Recognized MP4 atom types for the pre-loader's state machine. Any other
// atom type encountered mid-stream is a fatal format error.
var (
	AtomTypeFtyp = [4]byte{'f', 't', 'y', 'p'}
	AtomTypeFree = [4]byte{'f', 'r', 'e', 'e'}
	AtomTypeMoov = [4]byte{'m', 'o', 'o', 'v'}
	AtomTypeMdat = [4]byte{'m', 'd', 'a', 't'}
)

func IsRecognizedAtomType(t [4]byte) bool {
	switch t {
	case AtomTypeFtyp, AtomTypeFree, AtomTypeMoov, AtomTypeMdat:
		return true
	default:
		return false
	}
}

// MdatLocator is written once during header pre-load and consumed
// throughout processing to drive on-demand packet pre-loads.
type MdatLocator struct {
	Header       Atom
	FChunkSeq    uint32 // chunk (1-based) holding the read position just past the mdat header
	Pos          uint64 // byte offset of the mdat body within FChunkSeq
	PosWholeFile uint64 // byte offset of the mdat body across the whole source
	Size         uint64 // mdat body size (Header.Size - AtomHeaderSize)
	NbPreloaded  uint64 // bytes of the mdat body already copied into local temp
}

// PacketIndexEntry is one stream's sample-table entry: its real byte
// position and size within the whole source, the Go analog of ffmpeg's
// AVIndexEntry fields the original estimator walks (index_entries[].pos,
// .size).
type PacketIndexEntry struct {
	Pos  uint64
	Size uint64
}

// StreamPktIndex tracks per-stream pre-load progress for the packet
// estimator and the av-context packet pump. Entries is the stream's
// sample table in file-position order; Preloading indexes the next entry
// not yet claimed by the estimator.
type StreamPktIndex struct {
	Entries []PacketIndexEntry

	Preloading uint64 // index into Entries currently being pre-loaded
	Preloaded  uint64 // count of packets already staged in local temp
	Fetched    uint64 // count of packets already handed to the decoder
}
