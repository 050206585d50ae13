// Package memory implements an in-memory Provider backed by a single
// zero-initialized byte slice. It is used as the "memory" export backend
// and as the lower provider in tests for the cache and byte adapter.
package memory

import (
	"context"
	"sync"

	"github.com/marmos91/cloudnbd/pkg/provider"
)

// DefaultBlockSize matches the block granularity the remote backends in
// this package expose, so a memory export behaves the same as a remote one
// from the cache's point of view.
const DefaultBlockSize = 4096

// Provider is an in-memory block store of fixed size. All bytes start
// zeroed; the original C/Rust-style prototype this is modeled on left the
// backing buffer uninitialized, which is undefined behavior translated
// faithfully into Go as an information leak — this implementation always
// zero-initializes via make([]byte, size).
type Provider struct {
	mu        sync.RWMutex
	content   []byte
	blockSize int64
}

// New creates a memory provider exposing size bytes at the given block
// granularity. size must be a multiple of blockSize.
func New(size, blockSize int64) *Provider {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Provider{
		content:   make([]byte, size),
		blockSize: blockSize,
	}
}

func (p *Provider) TotalSize() int64 { return int64(len(p.content)) }

func (p *Provider) BlockSize() int64 { return p.blockSize }

func (p *Provider) ReadAt(_ context.Context, buf []byte, offset int64) error {
	if err := provider.BoundAndAlignCheck(p.blockSize, p.TotalSize(), offset, int64(len(buf))); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	copy(buf, p.content[offset:offset+int64(len(buf))])
	return nil
}

func (p *Provider) WriteAt(_ context.Context, buf []byte, offset int64, _ bool) error {
	if err := provider.BoundAndAlignCheck(p.blockSize, p.TotalSize(), offset, int64(len(buf))); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.content[offset:offset+int64(len(buf))], buf)
	return nil
}

// Flush is a no-op: every write above already lands directly in content.
func (p *Provider) Flush(context.Context) error { return nil }

var _ provider.Provider = (*Provider)(nil)
