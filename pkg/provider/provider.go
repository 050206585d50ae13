// Package provider defines the block-addressable storage contract that every
// layer of the cloudnbd stack — remote backends, the in-memory provider, the
// LRU cache, and the byte-granularity adapter — is built on top of.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Provider is a fixed-size, block-addressable store. Every offset and
// length passed to ReadAt/WriteAt must already be block-aligned; callers
// that need byte granularity go through pkg/byteadapter instead of relying
// on a Provider to do it for them.
type Provider interface {
	// TotalSize returns the exported size in bytes. It never changes over
	// the lifetime of a Provider.
	TotalSize() int64

	// BlockSize returns the block granularity this provider reads and
	// writes at. ReadAt/WriteAt reject any offset or length that is not a
	// multiple of BlockSize.
	BlockSize() int64

	// ReadAt fills buf starting at offset. len(buf) must be a multiple of
	// BlockSize and offset+len(buf) must not exceed TotalSize.
	ReadAt(ctx context.Context, buf []byte, offset int64) error

	// WriteAt writes buf starting at offset, honoring the same alignment
	// and bounds rules as ReadAt. writeThrough requests that the write be
	// durable against the provider's backing store before WriteAt returns;
	// a cache implementing Provider is free to treat writeThrough=false as
	// a hint to defer the write.
	WriteAt(ctx context.Context, buf []byte, offset int64, writeThrough bool) error

	// Flush forces any buffered writes down to durable storage.
	Flush(ctx context.Context) error
}

// Sentinel errors, grouped by the condition they represent. Callers at the
// NBD transmission layer map these to wire error codes (see pkg/nbd).
var (
	// ErrUnaligned is returned when an offset or length is not a multiple
	// of the provider's block size. Maps to NBD_EINVAL.
	ErrUnaligned = errors.New("provider: offset or length not block-aligned")

	// ErrOutOfRange is returned when a request falls partially or wholly
	// outside [0, TotalSize). Maps to NBD_EINVAL, except on WRITE where it
	// maps to NBD_ENOSPC.
	ErrOutOfRange = errors.New("provider: request out of range")

	// ErrUnavailable is returned when a remote backend could not be
	// reached after exhausting its retry budget. Maps to NBD_EIO.
	ErrUnavailable = errors.New("provider: backing store unavailable")
)

// BoundAndAlignCheck reports whether a [offset, offset+length) request is
// both block-aligned and within [0, totalSize) for a provider with the
// given blockSize. It is the single gate every Provider implementation
// calls before touching its backing storage.
func BoundAndAlignCheck(blockSize, totalSize, offset, length int64) error {
	if blockSize <= 0 {
		return fmt.Errorf("provider: invalid block size %d", blockSize)
	}
	if offset%blockSize != 0 || length%blockSize != 0 {
		return ErrUnaligned
	}
	if offset+length > totalSize {
		return ErrOutOfRange
	}
	if offset >= totalSize {
		return ErrOutOfRange
	}
	return nil
}
