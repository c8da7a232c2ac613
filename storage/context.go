package storage

import (
	"context"
	"fmt"
	"runtime"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/PolusAI/bfiocpp/bfio"
)

// ContextSpec holds the recognized runtime options.  Field names follow the JSON spec
// convention of "cache_pool", "data_copy_concurrency", and "file_io_concurrency".
type ContextSpec struct {
	CachePool struct {
		TotalBytesLimit int64 `json:"total_bytes_limit"`
		Compress        bool  `json:"compress,omitempty"`
	} `json:"cache_pool"`
	DataCopyConcurrency struct {
		Limit int `json:"limit"`
	} `json:"data_copy_concurrency"`
	FileIOConcurrency struct {
		Limit int `json:"limit"`
	} `json:"file_io_concurrency"`
}

// DefaultContextSpec returns the limits used for reading: a 1 GB cache and 8-way
// copy and I/O concurrency.
func DefaultContextSpec() ContextSpec {
	var spec ContextSpec
	spec.CachePool.TotalBytesLimit = bfio.DefaultCacheBytes
	spec.DataCopyConcurrency.Limit = bfio.DefaultDataCopyConcurrency
	spec.FileIOConcurrency.Limit = bfio.DefaultFileIOConcurrency
	return spec
}

// WriteContextSpec returns the limits used for writing, scaled to the number of CPUs.
func WriteContextSpec() ContextSpec {
	spec := DefaultContextSpec()
	spec.DataCopyConcurrency.Limit = runtime.NumCPU()
	spec.FileIOConcurrency.Limit = runtime.NumCPU()
	return spec
}

func (s ContextSpec) String() string {
	return fmt.Sprintf("cache %s, data copy %d, file io %d",
		humanize.Bytes(uint64(s.CachePool.TotalBytesLimit)), s.DataCopyConcurrency.Limit, s.FileIOConcurrency.Limit)
}

// Context is the shared runtime for opened arrays.  A Context may be shared by
// any number of arrays and is safe for concurrent use.
type Context struct {
	spec     ContextSpec
	cache    *ChunkCache
	metadata *MetadataCache
	fileIO   *semaphore.Weighted
}

// NewContext returns a runtime context for the given spec.  Non-positive limits are
// replaced by defaults.  A zero cache byte limit disables chunk caching.
func NewContext(spec ContextSpec) *Context {
	if spec.DataCopyConcurrency.Limit <= 0 {
		spec.DataCopyConcurrency.Limit = bfio.DefaultDataCopyConcurrency
	}
	if spec.FileIOConcurrency.Limit <= 0 {
		spec.FileIOConcurrency.Limit = bfio.DefaultFileIOConcurrency
	}
	if spec.CachePool.TotalBytesLimit < 0 {
		spec.CachePool.TotalBytesLimit = bfio.DefaultCacheBytes
	}
	c := &Context{
		spec:     spec,
		metadata: NewMetadataCache(DefaultMetadataEntries),
		fileIO:   semaphore.NewWeighted(int64(spec.FileIOConcurrency.Limit)),
	}
	if spec.CachePool.TotalBytesLimit > 0 {
		c.cache = NewChunkCache(spec.CachePool.TotalBytesLimit, spec.CachePool.Compress)
	}
	bfio.Debugf("Created runtime context: %s\n", spec)
	return c
}

// Spec returns the options the context was built from.
func (c *Context) Spec() ContextSpec {
	return c.spec
}

// DataCopyLimit returns the maximum number of concurrent chunk copy tasks.
func (c *Context) DataCopyLimit() int {
	return c.spec.DataCopyConcurrency.Limit
}

// ChunkCache returns the chunk cache or nil if caching is disabled.
func (c *Context) ChunkCache() *ChunkCache {
	return c.cache
}

// MetadataCache returns the cache of decoded metadata.
func (c *Context) MetadataCache() *MetadataCache {
	return c.metadata
}

// Get reads a key while holding one of the file I/O slots.
func (c *Context) Get(ctx context.Context, kv KVStore, key string) ([]byte, error) {
	if err := c.fileIO.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.fileIO.Release(1)
	return kv.Get(ctx, key)
}

// Put writes a key while holding one of the file I/O slots.
func (c *Context) Put(ctx context.Context, kv KVStore, key string, value []byte) error {
	if err := c.fileIO.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.fileIO.Release(1)
	return kv.Put(ctx, key, value)
}
