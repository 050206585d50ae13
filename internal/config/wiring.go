package config

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/cloudnbd/internal/admin"
	"github.com/marmos91/cloudnbd/pkg/byteadapter"
	"github.com/marmos91/cloudnbd/pkg/cache"
	"github.com/marmos91/cloudnbd/pkg/cache/journal"
	"github.com/marmos91/cloudnbd/pkg/export"
	"github.com/marmos91/cloudnbd/pkg/provider"
	"github.com/marmos91/cloudnbd/pkg/provider/memory"
	"github.com/marmos91/cloudnbd/pkg/provider/remote"
)

// BuildExportTable constructs one provider.Provider per configured export —
// wrapping it in the LRU cache and the byte-granularity adapter — and
// collects the resulting export.Table plus the per-export caches a status
// endpoint needs to report occupancy for.
//
// metricsRegistry may be nil, in which case every component gets nil
// Metrics (the zero-cost default every Metrics interface in this module
// supports).
func BuildExportTable(ctx context.Context, cfg *Config, metricsRegistry *prometheus.Registry) (*export.Table, *Occupancy, error) {
	handles := make([]*export.Handle, 0, len(cfg.Exports))
	occ := &Occupancy{caches: make(map[string]*cache.Cache, len(cfg.Exports))}

	for _, exp := range cfg.Exports {
		backend, err := buildBackendProvider(ctx, cfg, exp, metricsRegistry)
		if err != nil {
			return nil, nil, fmt.Errorf("export %q: %w", exp.Name, err)
		}

		var p provider.Provider = backend
		if exp.CacheCapacityBlocks > 0 {
			var cacheMetrics cache.Metrics
			if metricsRegistry != nil {
				cacheMetrics = admin.NewCacheMetrics(metricsRegistry, exp.Name)
			}

			var opts []cache.Option
			var exportJournal *journal.ExportJournal
			if exp.JournalPath != "" {
				j, err := journal.Open(exp.JournalPath)
				if err != nil {
					return nil, nil, fmt.Errorf("export %q: open journal: %w", exp.Name, err)
				}
				exportJournal = j.Scope(exp.Name)
				opts = append(opts, cache.WithJournal(exportJournal))
			}

			c := cache.New(backend, exp.CacheCapacityBlocks, cacheMetrics, opts...)

			if exportJournal != nil {
				if err := exportJournal.Replay(func(blockID int64, data []byte) error {
					return c.LoadDirty(ctx, blockID, data)
				}); err != nil {
					return nil, nil, fmt.Errorf("export %q: replay journal: %w", exp.Name, err)
				}
			}

			occ.caches[exp.Name] = c
			p = c
		}

		handles = append(handles, export.NewHandle(exp.Name, byteadapter.New(p)))
	}

	return export.NewTable(handles...), occ, nil
}

// buildBackendProvider constructs the block-granular provider for one
// export, selecting memory/seafile/s3 per exp.Backend.
func buildBackendProvider(ctx context.Context, cfg *Config, exp ExportConfig, metricsRegistry *prometheus.Registry) (provider.Provider, error) {
	blockSize := exp.BlockSizeBytes.Int64()
	totalSize := exp.SizeBytes.Int64()

	switch exp.Backend {
	case "memory":
		return memory.New(totalSize, blockSize), nil

	case "seafile":
		if exp.Seafile == nil {
			return nil, fmt.Errorf("backend=seafile requires a seafile section")
		}
		backend := remote.NewSeafileBackend(remote.SeafileConfig{
			BaseURL:   exp.Seafile.BaseURL,
			Token:     cfg.Remote.Token,
			LibraryID: exp.Seafile.LibraryID,
			Timeout:   cfg.Remote.Timeout,
		})
		if err := backend.Ping(ctx); err != nil {
			return nil, err
		}
		return wireRemote(backend, totalSize, blockSize, exp.Name, metricsRegistry), nil

	case "s3":
		if exp.S3 == nil {
			return nil, fmt.Errorf("backend=s3 requires an s3 section")
		}
		backend, err := remote.NewS3Backend(ctx, remote.S3Config{
			Bucket:         exp.S3.Bucket,
			Region:         exp.S3.Region,
			Endpoint:       exp.S3.Endpoint,
			KeyPrefix:      exp.S3.KeyPrefix,
			ForcePathStyle: exp.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 backend: %w", err)
		}
		if err := backend.HealthCheck(ctx); err != nil {
			return nil, err
		}
		return wireRemote(backend, totalSize, blockSize, exp.Name, metricsRegistry), nil

	default:
		return nil, fmt.Errorf("unknown export backend %q", exp.Backend)
	}
}

// wireRemote wraps a remote.Backend with the bounded-retry decorator and
// the remote.Provider adapter, with metrics attached when a registry is
// configured.
func wireRemote(backend remote.Backend, totalSize, blockSize int64, exportName string, metricsRegistry *prometheus.Registry) provider.Provider {
	retrying := remote.WithRetry(backend)

	var remoteMetrics remote.Metrics
	if metricsRegistry != nil {
		remoteMetrics = admin.NewRemoteMetrics(metricsRegistry, exportName)
	}
	return remote.New(retrying, totalSize, blockSize, remoteMetrics)
}

// Occupancy reports each export's cache residency for the admin status
// endpoint. Exports without caching (CacheCapacityBlocks == 0) simply
// aren't present in the map and their Occupancy lookup returns ok=false.
type Occupancy struct {
	caches map[string]*cache.Cache
}

// Occupancy implements admin.OccupancyReporter.
func (o *Occupancy) Occupancy(exportName string) (resident, capacity int, ok bool) {
	c, found := o.caches[exportName]
	if !found {
		return 0, 0, false
	}
	return c.Len(), c.Capacity(), true
}
