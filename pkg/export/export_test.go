package export_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/cloudnbd/pkg/export"
	"github.com/marmos91/cloudnbd/pkg/provider/memory"
)

func TestTableLookup(t *testing.T) {
	h := export.NewHandle("disk0", memory.New(4096, 4096))
	table := export.NewTable(h)

	got, err := table.Lookup("disk0")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Name != "disk0" {
		t.Fatalf("got name %q", got.Name)
	}

	if _, err := table.Lookup("missing"); err != export.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHandleAcquireSerializesAccess(t *testing.T) {
	h := export.NewHandle("disk0", memory.New(4096, 4096))

	_, release := h.Acquire()

	done := make(chan struct{})
	go func() {
		_, release2 := h.Acquire()
		release2()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Acquire should have blocked while first holds the handle")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	<-done
}

func TestTableNames(t *testing.T) {
	h1 := export.NewHandle("a", memory.New(4096, 4096))
	h2 := export.NewHandle("b", memory.New(4096, 4096))
	table := export.NewTable(h1, h2)

	names := table.Names()
	if len(names) != 2 {
		t.Fatalf("got %d names, want 2", len(names))
	}
}

func TestTableFlushIsConcurrencySafe(t *testing.T) {
	h := export.NewHandle("disk0", memory.New(4096, 4096))
	table := export.NewTable(h)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = table.Flush(context.Background())
		}()
	}
	wg.Wait()
}
