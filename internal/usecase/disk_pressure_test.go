package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAllowedDefaultsTrue(t *testing.T) {
	dp := &DiskPressure{Logger: discardLogger()}
	if !dp.Allowed() {
		t.Fatalf("expected admission allowed before any check has run")
	}
}

func TestRunDefaultInterval(t *testing.T) {
	dp := &DiskPressure{
		Logger:       discardLogger(),
		MinFreeBytes: 100,
	}

	// Default interval is 30s, default ResumeBytes = MinFreeBytes * 2.
	// We just verify it doesn't panic and respects context cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	dp.Run(ctx) // should return immediately
}

func TestRunBlocksAdmissionBelowThreshold(t *testing.T) {
	calls := 0
	dp := &DiskPressure{
		Logger:       discardLogger(),
		DataDir:      "/tmp",
		MinFreeBytes: 1000,
		ResumeBytes:  2000,
		Interval:     time.Millisecond,
		diskFreeFunc: func(path string) (int64, error) {
			calls++
			return 500, nil // always below threshold
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	dp.Run(ctx)

	if calls == 0 {
		t.Fatalf("expected diskFreeFunc to be called")
	}
	if dp.Allowed() {
		t.Fatalf("expected admission blocked when free space stays below MinFreeBytes")
	}
}

func TestRunResumeBytesFallback(t *testing.T) {
	// When ResumeBytes <= MinFreeBytes, it should be set to MinFreeBytes * 2,
	// so recovery only happens once free space clears the doubled threshold.
	freeCalls := 0
	dp := &DiskPressure{
		Logger:       discardLogger(),
		DataDir:      "/tmp",
		MinFreeBytes: 1000,
		ResumeBytes:  500, // less than MinFreeBytes, overridden to 2000
		Interval:     time.Millisecond,
		diskFreeFunc: func(path string) (int64, error) {
			freeCalls++
			switch freeCalls {
			case 1:
				return 100, nil // below min -> block
			case 2:
				return 1500, nil // above min but below resume (2000) -> stay blocked
			default:
				return 3000, nil // above resume -> unblock
			}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	dp.Run(ctx)

	if freeCalls < 3 {
		t.Skipf("not enough ticks observed (%d) to assert recovery, timing-sensitive", freeCalls)
	}
	if !dp.Allowed() {
		t.Fatalf("expected admission to recover once free space passed the doubled resume threshold")
	}
}

func TestRunBlockAndResumeCycle(t *testing.T) {
	tick := 0
	dp := &DiskPressure{
		Logger:       discardLogger(),
		DataDir:      "/tmp",
		MinFreeBytes: 1000,
		ResumeBytes:  2000,
		Interval:     time.Millisecond,
		diskFreeFunc: func(path string) (int64, error) {
			tick++
			switch tick {
			case 1:
				return 500, nil // below min -> block
			case 2:
				return 3000, nil // above resume -> unblock
			default:
				return 5000, nil // stay above
			}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	dp.Run(ctx)

	if tick < 2 {
		t.Skipf("not enough ticks observed (%d) to assert full cycle, timing-sensitive", tick)
	}
	if !dp.Allowed() {
		t.Fatalf("expected admission allowed after disk space recovered")
	}
}

func TestRunDiskCheckError(t *testing.T) {
	calls := 0
	dp := &DiskPressure{
		Logger:       discardLogger(),
		DataDir:      "/tmp",
		MinFreeBytes: 1000,
		ResumeBytes:  2000,
		Interval:     time.Millisecond,
		diskFreeFunc: func(path string) (int64, error) {
			calls++
			return 0, errors.New("disk check failed")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	dp.Run(ctx)

	if calls == 0 {
		t.Fatalf("expected diskFreeFunc to be called despite errors")
	}
	// A disk check error must never flip admission state.
	if !dp.Allowed() {
		t.Fatalf("expected admission to remain allowed when disk check errors")
	}
}

func TestRunNoBlockWhenAboveThreshold(t *testing.T) {
	dp := &DiskPressure{
		Logger:       discardLogger(),
		DataDir:      "/tmp",
		MinFreeBytes: 1000,
		ResumeBytes:  2000,
		Interval:     time.Millisecond,
		diskFreeFunc: func(path string) (int64, error) {
			return 5000, nil // always above threshold
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	dp.Run(ctx)

	if !dp.Allowed() {
		t.Fatalf("expected admission allowed when free space stays above threshold")
	}
}
