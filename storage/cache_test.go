package storage

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestChunkCacheSegments(t *testing.T) {
	for _, compress := range []bool{false, true} {
		c := NewChunkCache(2*minCacheBytes, compress)
		small := []byte("a small chunk")
		large := make([]byte, 20000) // spans several entries
		for i := range large {
			large[i] = byte(i * 7)
		}
		longKey := strings.Repeat("k", 500)

		c.Set("small", small)
		c.Set(longKey, large)
		if got, found := c.Get("small"); !found || !bytes.Equal(got, small) {
			t.Fatalf("compress %t: small chunk not returned: %v %q\n", compress, found, got)
		}
		if got, found := c.Get(longKey); !found || !bytes.Equal(got, large) {
			t.Fatalf("compress %t: large chunk not returned intact (found %t, %d bytes)\n", compress, found, len(got))
		}
		c.Del(longKey)
		if _, found := c.Get(longKey); found {
			t.Fatalf("compress %t: deleted chunk still cached\n", compress)
		}
		if _, found := c.Get("missing"); found {
			t.Fatalf("compress %t: found a chunk never set\n", compress)
		}
		if !strings.Contains(c.Stats(), "2 hits") {
			t.Fatalf("compress %t: unexpected stats %s\n", compress, c.Stats())
		}
		c.Clear()
		if _, found := c.Get("small"); found {
			t.Fatalf("compress %t: chunk survived clear\n", compress)
		}
	}

	// a nil cache is a disabled cache
	var disabled *ChunkCache
	disabled.Set("x", []byte{1})
	if _, found := disabled.Get("x"); found {
		t.Fatalf("disabled cache returned a value\n")
	}
	if disabled.Stats() != "chunk cache disabled" {
		t.Fatalf("unexpected disabled stats %q\n", disabled.Stats())
	}
}

func TestMetadataCache(t *testing.T) {
	m := NewMetadataCache(2)
	m.Add("a", 1)
	m.Add("b", 2)
	m.Add("c", 3)
	if _, found := m.Get("a"); found {
		t.Fatalf("expected least recent entry to be evicted\n")
	}
	if v, found := m.Get("c"); !found || v.(int) != 3 {
		t.Fatalf("expected cached entry, got %v %t\n", v, found)
	}
	m.Remove("c")
	if _, found := m.Get("c"); found {
		t.Fatalf("removed entry still cached\n")
	}
}

type countingStore struct {
	KVStore
	gets int
}

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.gets++
	return s.KVStore.Get(ctx, key)
}

func TestContextDefaults(t *testing.T) {
	var spec ContextSpec
	c := NewContext(spec)
	if c.ChunkCache() != nil {
		t.Fatalf("zero cache limit should disable the chunk cache\n")
	}
	if c.DataCopyLimit() != 8 || c.Spec().FileIOConcurrency.Limit != 8 {
		t.Fatalf("expected default limits, got %s\n", c.Spec())
	}
	if WriteContextSpec().DataCopyConcurrency.Limit < 1 {
		t.Fatalf("write context must allow at least one copy task\n")
	}

	spec.CachePool.TotalBytesLimit = minCacheBytes
	spec.FileIOConcurrency.Limit = 1
	c = NewContext(spec)
	if c.ChunkCache() == nil {
		t.Fatalf("expected a chunk cache\n")
	}

	kv := &countingStore{KVStore: newMapStore()}
	ctx := context.Background()
	if err := c.Put(ctx, kv, "k", []byte("v")); err != nil {
		t.Fatalf("put: %v\n", err)
	}
	if v, err := c.Get(ctx, kv, "k"); err != nil || string(v) != "v" || kv.gets != 1 {
		t.Fatalf("get through context: %q %v (gets %d)\n", v, err, kv.gets)
	}
}

// mapStore is a minimal in-memory KVStore for tests within this package.
type mapStore struct {
	values map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{values: make(map[string][]byte)}
}

func (s *mapStore) String() string { return "test store" }

func (s *mapStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, found := s.values[key]
	if !found {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *mapStore) Put(ctx context.Context, key string, value []byte) error {
	s.values[key] = value
	return nil
}

func (s *mapStore) Delete(ctx context.Context, key string) error {
	delete(s.values, key)
	return nil
}

func (s *mapStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *mapStore) Close() error { return nil }
