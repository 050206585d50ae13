package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestProviderWriteThenReadRoundTrip(t *testing.T) {
	p := New(16384, 4096)
	ctx := context.Background()

	block := bytes.Repeat([]byte{0xAB}, 4096)
	if err := p.WriteAt(ctx, block, 8192, false); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got := make([]byte, 4096)
	if err := p.ReadAt(ctx, got, 8192); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, block) {
		t.Fatal("read back data did not match what was written")
	}

	// Untouched regions remain zero.
	zeros := make([]byte, 4096)
	if err := p.ReadAt(ctx, zeros, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(zeros, make([]byte, 4096)) {
		t.Fatal("untouched block was not zero-filled")
	}
}

func TestProviderRejectsMisalignedAccess(t *testing.T) {
	p := New(16384, 4096)
	err := p.ReadAt(context.Background(), make([]byte, 16), 100)
	if err == nil {
		t.Fatal("expected misaligned read to fail")
	}
}

func TestProviderRejectsOutOfRangeAccess(t *testing.T) {
	p := New(16384, 4096)
	err := p.WriteAt(context.Background(), make([]byte, 4096), 16384, false)
	if err == nil {
		t.Fatal("expected out-of-range write to fail")
	}
}
