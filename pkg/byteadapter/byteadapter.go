// Package byteadapter exposes a block-granular provider.Provider as a
// byte-granular one (BlockSize() == 1), performing read-modify-write against
// the lower provider for any access that doesn't land on whole blocks.
package byteadapter

import (
	"context"

	"github.com/marmos91/cloudnbd/pkg/provider"
)

// Adapter wraps a lower provider and presents block size 1 to its callers.
type Adapter struct {
	lower provider.Provider
}

// New wraps lower in a byte-granularity adapter.
func New(lower provider.Provider) *Adapter {
	return &Adapter{lower: lower}
}

func (a *Adapter) TotalSize() int64 { return a.lower.TotalSize() }

func (a *Adapter) BlockSize() int64 { return 1 }

func (a *Adapter) ReadAt(ctx context.Context, buf []byte, offset int64) error {
	if err := provider.BoundAndAlignCheck(1, a.TotalSize(), offset, int64(len(buf))); err != nil {
		return err
	}

	lowerBlockSize := a.lower.BlockSize()
	scratch := make([]byte, lowerBlockSize)

	for _, r := range provider.DecomposeRange(lowerBlockSize, offset, int64(len(buf))) {
		blockOffset := r.BlockID * lowerBlockSize

		if r.InBlock.Len() == lowerBlockSize {
			// Request spans the whole block: read straight into the
			// caller's buffer, no scratch copy needed.
			if err := a.lower.ReadAt(ctx, buf[r.InRequest.Low:r.InRequest.High], blockOffset); err != nil {
				return err
			}
			continue
		}

		if err := a.lower.ReadAt(ctx, scratch, blockOffset); err != nil {
			return err
		}
		copy(buf[r.InRequest.Low:r.InRequest.High], scratch[r.InBlock.Low:r.InBlock.High])
	}
	return nil
}

func (a *Adapter) WriteAt(ctx context.Context, buf []byte, offset int64, writeThrough bool) error {
	if err := provider.BoundAndAlignCheck(1, a.TotalSize(), offset, int64(len(buf))); err != nil {
		return err
	}

	lowerBlockSize := a.lower.BlockSize()
	scratch := make([]byte, lowerBlockSize)

	for _, r := range provider.DecomposeRange(lowerBlockSize, offset, int64(len(buf))) {
		blockOffset := r.BlockID * lowerBlockSize

		if r.InBlock.Len() == lowerBlockSize {
			if err := a.lower.WriteAt(ctx, buf[r.InRequest.Low:r.InRequest.High], blockOffset, writeThrough); err != nil {
				return err
			}
			continue
		}

		// Partial block: read the current contents, splice the caller's
		// bytes in, write the whole block back.
		if err := a.lower.ReadAt(ctx, scratch, blockOffset); err != nil {
			return err
		}
		copy(scratch[r.InBlock.Low:r.InBlock.High], buf[r.InRequest.Low:r.InRequest.High])
		if err := a.lower.WriteAt(ctx, scratch, blockOffset, writeThrough); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) Flush(ctx context.Context) error {
	return a.lower.Flush(ctx)
}

var _ provider.Provider = (*Adapter)(nil)
