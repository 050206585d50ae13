// Package cache implements component C: an LRU write-back cache sitting in
// front of a provider.Provider, absorbing writes until eviction or an
// explicit flush pushes them down.
package cache

import "errors"

// ErrClosed is returned by any operation on a cache after Close has run.
var ErrClosed = errors.New("cache: closed")
