package mp4

import "sync"

// LocalBuffer is the shared local-temp sink the pre-loader writes into.
// Every destination reads the same accumulated bytes independently through
// its own Reader, so one destination draining its backlog never starves
// another — the in-process stand-in for a shared local-temp file multiple
// destinations each hold their own read cursor into.
type LocalBuffer struct {
	mu   sync.Mutex
	buf  []byte
	done bool
}

func NewLocalBuffer() *LocalBuffer { return &LocalBuffer{} }

// Write implements io.Writer so a *LocalBuffer can be passed directly as
// NewPreloader's localOut. Bytes are never discarded; each Reader tracks
// its own read position into buf.
func (b *LocalBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.buf = append(b.buf, p...)
	b.mu.Unlock()
	return len(p), nil
}

// MarkDone records that the pre-loader has no further bytes to write.
func (b *LocalBuffer) MarkDone() {
	b.mu.Lock()
	b.done = true
	b.mu.Unlock()
}

// Reader returns a new independent cursor over b, starting at the
// beginning of whatever has been written so far.
func (b *LocalBuffer) Reader() *LocalBufferReader {
	return &LocalBufferReader{buf: b}
}

// LocalBufferReader is one destination's read cursor into a LocalBuffer.
type LocalBufferReader struct {
	buf *LocalBuffer
	pos int
}

// Drain returns a copy of everything written since the last Drain call on
// this reader. The copy is necessary because buf's backing array may be
// reallocated or extended by later writes.
func (r *LocalBufferReader) Drain() ([]byte, bool, error) {
	r.buf.mu.Lock()
	defer r.buf.mu.Unlock()
	if r.pos >= len(r.buf.buf) {
		return nil, r.buf.done, nil
	}
	chunk := make([]byte, len(r.buf.buf)-r.pos)
	copy(chunk, r.buf.buf[r.pos:])
	r.pos = len(r.buf.buf)
	return chunk, r.buf.done && r.pos >= len(r.buf.buf), nil
}

// IsDrained reports whether this cursor has consumed everything written so
// far and the pre-loader has signalled it is finished.
func (r *LocalBufferReader) IsDrained() bool {
	r.buf.mu.Lock()
	defer r.buf.mu.Unlock()
	return r.buf.done && r.pos >= len(r.buf.buf)
}
