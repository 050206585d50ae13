package byteadapter

import (
	"bytes"
	"context"
	"testing"

	"github.com/marmos91/cloudnbd/pkg/provider/memory"
)

func TestAdapterPartialBlockWriteSplices(t *testing.T) {
	lower := memory.New(16, 4)
	a := New(lower)
	ctx := context.Background()

	if err := a.WriteAt(ctx, []byte{0x11, 0x22, 0x33}, 2, false); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got := make([]byte, 16)
	if err := a.ReadAt(ctx, got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}

	want := []byte{0x00, 0x00, 0x11, 0x22, 0x33, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestAdapterBlockSizeIsOne(t *testing.T) {
	a := New(memory.New(16, 4))
	if a.BlockSize() != 1 {
		t.Fatalf("BlockSize() = %d, want 1", a.BlockSize())
	}
	if a.TotalSize() != 16 {
		t.Fatalf("TotalSize() = %d, want 16", a.TotalSize())
	}
}

func TestAdapterFullBlockWriteRoundTrip(t *testing.T) {
	a := New(memory.New(16, 4))
	ctx := context.Background()

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := a.WriteAt(ctx, data, 4, false); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got := make([]byte, 8)
	if err := a.ReadAt(ctx, got, 4); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %v, want %v", got, data)
	}
}
