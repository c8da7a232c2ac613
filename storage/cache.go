package storage

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/DmitriyVTitov/size"
	"github.com/coocood/freecache"
	"github.com/dustin/go-humanize"
	"github.com/golang/snappy"
	lru "github.com/hashicorp/golang-lru"

	"github.com/PolusAI/bfiocpp/bfio"
)

// DefaultMetadataEntries is the number of decoded metadata objects kept per context.
const DefaultMetadataEntries = 256

// freecache rejects entries larger than 1/1024 of its size, so larger chunks are
// stored as numbered segments under a small header entry.
const segmentHeaderBytes = 8

// minCacheBytes is the smallest size freecache allocates.
const minCacheBytes = 512 * 1024

// maxKeyBytes covers a hashed key, its segment suffix, and freecache's entry header.
const maxKeyBytes = 64

// ChunkCache holds decoded chunks up to a total byte budget.
type ChunkCache struct {
	cache    *freecache.Cache
	compress bool
	maxEntry int

	hits, misses int64
}

// NewChunkCache returns a cache bounded by numBytes.  If compress is true, entries
// are stored snappy-compressed.
func NewChunkCache(numBytes int64, compress bool) *ChunkCache {
	if numBytes < minCacheBytes {
		numBytes = minCacheBytes
	}
	c := &ChunkCache{
		cache:    freecache.NewCache(int(numBytes)),
		compress: compress,
	}
	// leave room for freecache's per-entry header and the key
	c.maxEntry = int(numBytes)/1024 - maxKeyBytes
	bfio.Infof("Created chunk cache of %s (compression %t)\n", humanize.Bytes(uint64(numBytes)), compress)
	return c
}

// hashKey maps keys of any length to a fixed size freecache entry key.
func hashKey(key string) []byte {
	sum := sha256.Sum256([]byte(key))
	return sum[:]
}

func segmentKey(key string, i int) []byte {
	return binary.LittleEndian.AppendUint32(hashKey(key), uint32(i))
}

// Get returns the cached chunk for key, or false if it is not cached.
func (c *ChunkCache) Get(key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	header, err := c.cache.Get(hashKey(key))
	if err != nil {
		if err != freecache.ErrNotFound {
			bfio.Errorf("chunk cache get %q: %v\n", key, err)
		}
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	value := header
	if len(header) == segmentHeaderBytes && header[0] == 0xff {
		numSegments := int(binary.LittleEndian.Uint32(header[4:]))
		value = nil
		for i := 0; i < numSegments; i++ {
			seg, err := c.cache.Get(segmentKey(key, i))
			if err != nil {
				atomic.AddInt64(&c.misses, 1)
				return nil, false
			}
			value = append(value, seg...)
		}
	} else if len(header) > 0 {
		value = header[1:]
	}
	if c.compress {
		decoded, err := snappy.Decode(nil, value)
		if err != nil {
			bfio.Errorf("chunk cache entry %q corrupted: %v\n", key, err)
			c.Del(key)
			atomic.AddInt64(&c.misses, 1)
			return nil, false
		}
		value = decoded
	}
	atomic.AddInt64(&c.hits, 1)
	return value, true
}

// Set caches a chunk.  Failure to cache is logged but not returned since the cache is
// only an accelerator.
func (c *ChunkCache) Set(key string, value []byte) {
	if c == nil {
		return
	}
	if c.compress {
		value = snappy.Encode(nil, value)
	}
	if len(value)+1 <= c.maxEntry {
		entry := make([]byte, len(value)+1)
		copy(entry[1:], value)
		if err := c.cache.Set(hashKey(key), entry, 0); err != nil {
			bfio.Debugf("unable to cache chunk %q: %v\n", key, err)
		}
		return
	}
	numSegments := (len(value) + c.maxEntry - 1) / c.maxEntry
	for i := 0; i < numSegments; i++ {
		beg := i * c.maxEntry
		end := beg + c.maxEntry
		if end > len(value) {
			end = len(value)
		}
		if err := c.cache.Set(segmentKey(key, i), value[beg:end], 0); err != nil {
			bfio.Debugf("unable to cache chunk %q segment %d: %v\n", key, i, err)
			return
		}
	}
	header := make([]byte, segmentHeaderBytes)
	header[0] = 0xff
	binary.LittleEndian.PutUint32(header[4:], uint32(numSegments))
	if err := c.cache.Set(hashKey(key), header, 0); err != nil {
		bfio.Debugf("unable to cache chunk header %q: %v\n", key, err)
	}
}

// Del removes a chunk from the cache.
func (c *ChunkCache) Del(key string) {
	if c == nil {
		return
	}
	header, err := c.cache.Get(hashKey(key))
	if err == nil && len(header) == segmentHeaderBytes && header[0] == 0xff {
		numSegments := int(binary.LittleEndian.Uint32(header[4:]))
		for i := 0; i < numSegments; i++ {
			c.cache.Del(segmentKey(key, i))
		}
	}
	c.cache.Del(hashKey(key))
}

// Clear empties the cache.
func (c *ChunkCache) Clear() {
	if c == nil {
		return
	}
	c.cache.Clear()
}

// Stats returns a readable summary of cache use.
func (c *ChunkCache) Stats() string {
	if c == nil {
		return "chunk cache disabled"
	}
	return fmt.Sprintf("%d entries, %d hits, %d misses, %d evictions",
		c.cache.EntryCount(), atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses), c.cache.EvacuateCount())
}

// MetadataCache keeps decoded metadata objects keyed by store and metadata key so
// repeated opens of the same image skip parsing.
type MetadataCache struct {
	lru *lru.Cache
}

// NewMetadataCache returns a cache holding up to numEntries decoded metadata objects.
func NewMetadataCache(numEntries int) *MetadataCache {
	l, err := lru.New(numEntries)
	if err != nil {
		bfio.Criticalf("unable to create metadata cache of %d entries: %v\n", numEntries, err)
		return &MetadataCache{}
	}
	return &MetadataCache{lru: l}
}

// Get returns the cached metadata for a key.
func (m *MetadataCache) Get(key string) (interface{}, bool) {
	if m == nil || m.lru == nil {
		return nil, false
	}
	return m.lru.Get(key)
}

// Add caches decoded metadata.
func (m *MetadataCache) Add(key string, metadata interface{}) {
	if m == nil || m.lru == nil {
		return
	}
	m.lru.Add(key, metadata)
	bfio.Debugf("Cached metadata %q (~%s)\n", key, humanize.Bytes(uint64(size.Of(metadata))))
}

// Remove drops a key from the cache.
func (m *MetadataCache) Remove(key string) {
	if m == nil || m.lru == nil {
		return
	}
	m.lru.Remove(key)
}
