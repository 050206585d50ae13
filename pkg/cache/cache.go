package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/cloudnbd/pkg/provider"
)

// entry is one cached block. data always holds exactly blockSize bytes.
type entry struct {
	blockID int64
	data    []byte
	dirty   bool
	elem    *list.Element
}

// Cache is an LRU write-back cache of fixed-size blocks sitting in front of
// a lower provider.Provider. It satisfies provider.Provider itself, so it
// composes transparently with the byte-granularity adapter above it and any
// remote backend below it.
//
// The whole cache is guarded by a single mutex: callers already serialize
// access to an exported provider for the lifetime of one NBD connection
// (see pkg/export), so there is no benefit to finer-grained locking here.
type Cache struct {
	mu sync.Mutex

	lower     provider.Provider
	blockSize int64
	totalSize int64
	capacity  int // max resident blocks

	entries map[int64]*entry
	order   *list.List // front = most recently used, back = least

	metrics Metrics
	journal Journal
	closed  bool
}

// Journal durably records a dirty block before WriteAt acknowledges it, so
// a crashed process can replay unflushed writes into a fresh cache instead
// of losing them on eviction or ungraceful shutdown. Implementations are
// optional: see pkg/cache/journal for the BadgerDB-backed one.
type Journal interface {
	Append(ctx context.Context, blockID int64, data []byte) error
	Remove(ctx context.Context, blockID int64) error
}

// Option configures optional Cache behavior.
type Option func(*Cache)

// WithJournal attaches a write-ahead journal: every dirty block is appended
// to it on write and removed once durably written back to the lower
// provider (on flush or eviction).
func WithJournal(j Journal) Option {
	return func(c *Cache) { c.journal = j }
}

// New creates a write-back cache over lower holding up to capacityBlocks
// blocks at a time. metrics may be nil.
func New(lower provider.Provider, capacityBlocks int, metrics Metrics, opts ...Option) *Cache {
	if capacityBlocks <= 0 {
		capacityBlocks = 1
	}
	c := &Cache{
		lower:     lower,
		blockSize: lower.BlockSize(),
		totalSize: lower.TotalSize(),
		capacity:  capacityBlocks,
		entries:   make(map[int64]*entry, capacityBlocks),
		order:     list.New(),
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) TotalSize() int64 { return c.totalSize }

func (c *Cache) BlockSize() int64 { return c.blockSize }

// Len returns the number of blocks currently resident in the cache.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capacity returns the maximum number of blocks the cache will hold.
func (c *Cache) Capacity() int {
	return c.capacity
}

// LoadDirty inserts a block directly into the cache as dirty, without
// fetching it from the lower provider. Used to resume a journal replay at
// startup, where the data is already known-good from the write-ahead log.
func (c *Cache) LoadDirty(ctx context.Context, blockID int64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	buf := make([]byte, c.blockSize)
	copy(buf, data)
	c.insert(ctx, blockID, buf, true)
	return nil
}

// touch moves e to the front of the LRU order (most recently used).
func (c *Cache) touch(e *entry) {
	c.order.MoveToFront(e.elem)
}

// insert adds a newly-fetched block to the cache and evicts the LRU tail if
// the cache is now over capacity.
func (c *Cache) insert(ctx context.Context, blockID int64, data []byte, dirty bool) *entry {
	e := &entry{blockID: blockID, data: data, dirty: dirty}
	e.elem = c.order.PushFront(e)
	c.entries[blockID] = e

	if len(c.entries) > c.capacity {
		c.evictOne(ctx)
	}
	return e
}

// evictOne drops the least-recently-used entry. If it is dirty, it is
// pushed to the lower provider first with writeThrough=false; the entry is
// removed from the cache whether or not that push succeeds. This mirrors
// the source system's behavior — an evicted dirty block whose writeback
// fails is lost rather than retried, a known data-loss risk recorded in
// DESIGN.md rather than silently changed.
func (c *Cache) evictOne(ctx context.Context) {
	back := c.order.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)

	if e.dirty {
		blockOffset := e.blockID * c.blockSize
		if err := c.lower.WriteAt(ctx, e.data, blockOffset, false); err != nil {
			recordEvictFailure(c.metrics, blockOffset)
		} else if c.journal != nil {
			_ = c.journal.Remove(ctx, e.blockID)
		}
	}

	c.order.Remove(back)
	delete(c.entries, e.blockID)
	recordEvict(c.metrics)
}

// fetch loads a block from the lower provider and caches it as clean.
func (c *Cache) fetch(ctx context.Context, blockID int64) (*entry, error) {
	buf := make([]byte, c.blockSize)
	if err := c.lower.ReadAt(ctx, buf, blockID*c.blockSize); err != nil {
		return nil, fmt.Errorf("cache: fetch block %d: %w", blockID, err)
	}
	return c.insert(ctx, blockID, buf, false), nil
}

func (c *Cache) getOrFetch(ctx context.Context, blockID int64) (*entry, error) {
	if e, ok := c.entries[blockID]; ok {
		c.touch(e)
		return e, nil
	}
	e, err := c.fetch(ctx, blockID)
	if err != nil {
		return nil, err
	}
	recordMiss(c.metrics)
	return e, nil
}

func (c *Cache) ReadAt(ctx context.Context, buf []byte, offset int64) error {
	if err := provider.BoundAndAlignCheck(c.blockSize, c.totalSize, offset, int64(len(buf))); err != nil {
		return err
	}

	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	hit := true
	for _, r := range provider.DecomposeRange(c.blockSize, offset, int64(len(buf))) {
		if _, ok := c.entries[r.BlockID]; !ok {
			hit = false
		}
		e, err := c.getOrFetch(ctx, r.BlockID)
		if err != nil {
			return err
		}
		copy(buf[r.InRequest.Low:r.InRequest.High], e.data[r.InBlock.Low:r.InBlock.High])
	}

	if hit {
		recordHit(c.metrics)
	}
	recordRead(c.metrics, int64(len(buf)), time.Since(start))
	return nil
}

func (c *Cache) WriteAt(ctx context.Context, buf []byte, offset int64, writeThrough bool) error {
	if err := provider.BoundAndAlignCheck(c.blockSize, c.totalSize, offset, int64(len(buf))); err != nil {
		return err
	}

	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	for _, r := range provider.DecomposeRange(c.blockSize, offset, int64(len(buf))) {
		e, ok := c.entries[r.BlockID]
		if !ok {
			var err error
			e, err = c.fetch(ctx, r.BlockID)
			if err != nil {
				return err
			}
		} else {
			c.touch(e)
		}

		copy(e.data[r.InBlock.Low:r.InBlock.High], buf[r.InRequest.Low:r.InRequest.High])

		if writeThrough {
			blockOffset := e.blockID * c.blockSize
			if err := c.lower.WriteAt(ctx, e.data, blockOffset, true); err != nil {
				return fmt.Errorf("cache: write-through block %d: %w", e.blockID, err)
			}
			e.dirty = false
			if c.journal != nil {
				_ = c.journal.Remove(ctx, e.blockID)
			}
		} else {
			if c.journal != nil {
				if err := c.journal.Append(ctx, e.blockID, e.data); err != nil {
					return fmt.Errorf("cache: journal block %d: %w", e.blockID, err)
				}
			}
			e.dirty = true
		}
	}

	recordWrite(c.metrics, int64(len(buf)), time.Since(start))
	return nil
}

// Flush pushes every dirty block down to the lower provider with
// writeThrough=true, marks each clean on success, then flushes the lower
// provider itself.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	for _, e := range c.entries {
		if !e.dirty {
			continue
		}
		blockOffset := e.blockID * c.blockSize
		if err := c.lower.WriteAt(ctx, e.data, blockOffset, true); err != nil {
			return fmt.Errorf("cache: flush block %d: %w", e.blockID, err)
		}
		e.dirty = false
		if c.journal != nil {
			_ = c.journal.Remove(ctx, e.blockID)
		}
	}

	return c.lower.Flush(ctx)
}

// Close flushes outstanding dirty blocks and marks the cache unusable.
func (c *Cache) Close(ctx context.Context) error {
	if err := c.Flush(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

var _ provider.Provider = (*Cache)(nil)
