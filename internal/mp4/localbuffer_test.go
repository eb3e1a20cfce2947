package mp4

import "testing"

func TestLocalBufferMultipleReadersEachSeeFullStream(t *testing.T) {
	buf := NewLocalBuffer()
	readerA := buf.Reader()
	readerB := buf.Reader()

	if _, err := buf.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	chunkA, doneA, err := readerA.Drain()
	if err != nil {
		t.Fatalf("reader A drain: %v", err)
	}
	if string(chunkA) != "hello" || doneA {
		t.Fatalf("reader A: got %q done=%v", chunkA, doneA)
	}

	if _, err := buf.Write([]byte(" world")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf.MarkDone()

	chunkB, doneB, err := readerB.Drain()
	if err != nil {
		t.Fatalf("reader B drain: %v", err)
	}
	if string(chunkB) != "hello world" {
		t.Fatalf("reader B should see everything written so far, got %q", chunkB)
	}
	if !doneB {
		t.Fatal("reader B should report done once it has drained everything and MarkDone was called")
	}

	chunkA2, doneA2, err := readerA.Drain()
	if err != nil {
		t.Fatalf("reader A second drain: %v", err)
	}
	if string(chunkA2) != " world" {
		t.Fatalf("reader A should pick up only the new bytes, got %q", chunkA2)
	}
	if !doneA2 {
		t.Fatal("reader A should now report done too")
	}
}

func TestLocalBufferIsDrained(t *testing.T) {
	buf := NewLocalBuffer()
	reader := buf.Reader()

	if reader.IsDrained() {
		t.Fatal("reader should not be drained before MarkDone")
	}

	buf.MarkDone()
	if !reader.IsDrained() {
		t.Fatal("reader with nothing written and MarkDone called should be drained")
	}

	buf2 := NewLocalBuffer()
	r2 := buf2.Reader()
	_, _ = buf2.Write([]byte("x"))
	buf2.MarkDone()
	if r2.IsDrained() {
		t.Fatal("reader with unconsumed bytes should not report drained")
	}
	if _, _, err := r2.Drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !r2.IsDrained() {
		t.Fatal("reader should be drained after consuming the last bytes")
	}
}

func TestLocalBufferDrainReturnsIndependentCopy(t *testing.T) {
	buf := NewLocalBuffer()
	reader := buf.Reader()
	_, _ = buf.Write([]byte("abc"))

	chunk, _, err := reader.Drain()
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	chunk[0] = 'z'

	_, _ = buf.Write([]byte("def"))
	second := buf.Reader()
	chunk2, _, err := second.Drain()
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if string(chunk2) != "abcdef" {
		t.Fatalf("mutating a drained copy must not affect the buffer, got %q", chunk2)
	}
}
