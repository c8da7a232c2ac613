package array

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/PolusAI/bfiocpp/bfio"
	"github.com/PolusAI/bfiocpp/storage"
)

// Array is an opened chunked array.  Reads may run concurrently with each other and
// with writes.  Writes to disjoint regions may run concurrently even when they share
// a chunk, since each chunk's read-modify-write is serialized.  Overlapping writes
// land in an unspecified order.  Writers must share one Array for this to hold.
type Array struct {
	drv  Driver
	kv   storage.KVStore
	rctx *storage.Context
	rw   ReadWriteMode

	mu sync.RWMutex
	md Metadata

	chunkMu     sync.Mutex
	chunkMutexes map[string]*sync.Mutex
}

// Open opens or creates the array described by drv within kv.
func Open(ctx context.Context, drv Driver, kv storage.KVStore, rctx *storage.Context, mode OpenMode, rw ReadWriteMode) (*Array, error) {
	if rctx == nil {
		rctx = storage.NewContext(storage.DefaultContextSpec())
	}
	if mode&DeleteExisting != 0 && mode&Create == 0 {
		return nil, fmt.Errorf("open mode %s: delete_existing requires create", mode)
	}
	if mode&(OpenExisting|Create) == 0 {
		return nil, fmt.Errorf("open mode must include open or create")
	}
	a := &Array{drv: drv, kv: kv, rctx: rctx, rw: rw}

	if mode&DeleteExisting != 0 {
		n, err := storage.DeletePrefix(ctx, kv, drv.KeyPrefix())
		if err != nil {
			return nil, fmt.Errorf("deleting existing %s: %w", drv, err)
		}
		rctx.MetadataCache().Remove(a.metadataCacheKey())
		if n > 0 {
			bfio.Infof("Deleted %d existing keys of %s\n", n, drv)
		}
	}

	if mode&Create != 0 {
		_, err := rctx.Get(ctx, kv, drv.MetadataKey())
		switch {
		case err == nil && mode&OpenExisting == 0:
			return nil, &bfio.AlreadyExistsError{Path: fmt.Sprintf("%s in %s", drv, kv)}
		case err == nil:
			// fall through to open
		case !storage.IsNotFound(err):
			return nil, err
		default:
			md, raw, err := drv.Create()
			if err != nil {
				return nil, err
			}
			if err := rctx.Put(ctx, kv, drv.MetadataKey(), raw); err != nil {
				return nil, fmt.Errorf("writing metadata of %s: %w", drv, err)
			}
			a.md = md
			bfio.Debugf("Created %s in %s: shape %v, chunks %v, %s\n", drv, kv, md.Shape(), md.ChunkShape(), md.Kind())
			return a, nil
		}
	}

	md, err := a.loadMetadata(ctx, true)
	if err != nil {
		return nil, err
	}
	if err := drv.Attach(md); err != nil {
		return nil, err
	}
	a.md = md
	bfio.Debugf("Opened %s in %s: shape %v, chunks %v, %s\n", drv, kv, md.Shape(), md.ChunkShape(), md.Kind())
	return a, nil
}

func (a *Array) metadataCacheKey() string {
	return a.kv.String() + "|" + a.drv.MetadataKey()
}

func (a *Array) loadMetadata(ctx context.Context, useCache bool) (Metadata, error) {
	cacheKey := a.metadataCacheKey()
	if useCache {
		if cached, found := a.rctx.MetadataCache().Get(cacheKey); found {
			return cached.(Metadata), nil
		}
	}
	raw, err := a.rctx.Get(ctx, a.kv, a.drv.MetadataKey())
	if err != nil {
		return nil, err
	}
	md, err := a.drv.DecodeMetadata(raw)
	if err != nil {
		return nil, err
	}
	a.rctx.MetadataCache().Add(cacheKey, md)
	return md, nil
}

// Reload rereads stored metadata and fails if it is no longer compatible with the
// metadata the array was opened with.
func (a *Array) Reload(ctx context.Context) error {
	md, err := a.loadMetadata(ctx, false)
	if err != nil {
		return err
	}
	if err := a.drv.Attach(md); err != nil {
		return err
	}
	a.mu.Lock()
	a.md = md
	a.mu.Unlock()
	return nil
}

// Metadata returns the current metadata.
func (a *Array) Metadata() Metadata {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.md
}

// Domain returns the index domain of the array, which starts at the origin.
func (a *Array) Domain() Box {
	shape := a.Metadata().Shape()
	return Box{Origin: make([]int64, len(shape)), Shape: append([]int64(nil), shape...)}
}

// ChunkLayout returns the shape of each chunk.
func (a *Array) ChunkLayout() []int64 {
	return append([]int64(nil), a.Metadata().ChunkShape()...)
}

// Kind returns the element kind.
func (a *Array) Kind() bfio.ElementKind {
	return a.Metadata().Kind()
}

// Driver returns the array's format driver.
func (a *Array) Driver() Driver {
	return a.drv
}

// KVStore returns the store holding the array.
func (a *Array) KVStore() storage.KVStore {
	return a.kv
}

func (a *Array) String() string {
	return fmt.Sprintf("%s in %s", a.drv, a.kv)
}

// checkBounds verifies box lies within the domain.
func checkBounds(box Box, shape []int64) error {
	if box.Rank() != len(shape) {
		return fmt.Errorf("region rank %d differs from array rank %d", box.Rank(), len(shape))
	}
	for d := range shape {
		if box.Origin[d] < 0 || box.Shape[d] < 0 || box.Origin[d]+box.Shape[d] > shape[d] {
			return &bfio.OutOfBoundsError{
				Axis:  fmt.Sprintf("dimension %d", d),
				Start: box.Origin[d],
				Stop:  box.Origin[d] + box.Shape[d] - 1,
				Size:  shape[d],
			}
		}
	}
	return nil
}

func (a *Array) cacheKey(key string) string {
	return a.kv.String() + "#" + a.drv.DataCacheKey() + "#" + key
}

// readChunk returns the decoded chunk of a cell, the fill chunk if it is not stored.
func (a *Array) readChunk(ctx context.Context, md Metadata, cell []int64) ([]byte, error) {
	key, err := a.drv.ChunkKey(cell)
	if err != nil {
		return nil, err
	}
	cache := a.rctx.ChunkCache()
	if chunk, found := cache.Get(a.cacheKey(key)); found {
		return chunk, nil
	}
	chunkElems := Box{Shape: md.ChunkShape()}.NumElements()
	raw, err := a.rctx.Get(ctx, a.kv, key)
	if storage.IsNotFound(err) {
		return fillChunk(md.FillValue(), chunkElems), nil
	}
	if err != nil {
		return nil, err
	}
	chunk, err := a.drv.DecodeChunk(cell, raw)
	if err != nil {
		return nil, fmt.Errorf("decoding chunk %q: %w", key, err)
	}
	if expected := chunkElems * int64(md.Kind().Bytes()); int64(len(chunk)) != expected {
		return nil, fmt.Errorf("chunk %q decoded to %d bytes, expected %d", key, len(chunk), expected)
	}
	cache.Set(a.cacheKey(key), chunk)
	return chunk, nil
}

// Read returns the little-endian elements of box in C order.  Regions outside the
// domain fail with an OutOfBoundsError.
func (a *Array) Read(ctx context.Context, box Box) ([]byte, error) {
	if a.rw&Read == 0 {
		return nil, fmt.Errorf("%s not opened for reading", a)
	}
	md := a.Metadata()
	if err := checkBounds(box, md.Shape()); err != nil {
		return nil, err
	}
	timedLog := bfio.NewTimeLog()
	bpe := int64(md.Kind().Bytes())
	out := make([]byte, box.NumElements()*bpe)
	if box.Empty() {
		return out, nil
	}
	chunkShape := md.ChunkShape()
	first, last := cellRange(box, chunkShape)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.rctx.DataCopyLimit())
	var numChunks int
	err := forEachCell(first, last, func(cell []int64) error {
		numChunks++
		g.Go(func() error {
			chunk, err := a.readChunk(gctx, md, cell)
			if err != nil {
				return err
			}
			cb := chunkBox(cell, chunkShape)
			copyRegion(out, box, chunk, cb, box.Intersect(cb), bpe)
			return nil
		})
		return gctx.Err()
	})
	if werr := g.Wait(); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}
	timedLog.Debugf("Read %s from %s (%d chunks)", box, a, numChunks)
	return out, nil
}

// Write stores the little-endian C-ordered elements of data into box.  Chunks only
// partially covered are read, modified, and written back.
func (a *Array) Write(ctx context.Context, box Box, data []byte) error {
	if a.rw&Write == 0 {
		return fmt.Errorf("%s not opened for writing", a)
	}
	md := a.Metadata()
	if err := checkBounds(box, md.Shape()); err != nil {
		return err
	}
	bpe := int64(md.Kind().Bytes())
	if expected := box.NumElements() * bpe; int64(len(data)) != expected {
		return &bfio.ShapeMismatchError{Expected: expected, Got: int64(len(data)), Shape: box.Shape}
	}
	if box.Empty() {
		return nil
	}
	timedLog := bfio.NewTimeLog()
	chunkShape := md.ChunkShape()
	domain := Box{Origin: make([]int64, len(md.Shape())), Shape: md.Shape()}
	first, last := cellRange(box, chunkShape)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.rctx.DataCopyLimit())
	var numChunks int
	err := forEachCell(first, last, func(cell []int64) error {
		numChunks++
		g.Go(func() error {
			return a.writeChunk(gctx, md, cell, box, data, domain)
		})
		return gctx.Err()
	})
	if werr := g.Wait(); werr != nil {
		return werr
	}
	if err != nil {
		return err
	}
	timedLog.Debugf("Wrote %s to %s (%d chunks)", box, a, numChunks)
	return nil
}

// chunkMutex returns the lock guarding updates of one chunk key.
func (a *Array) chunkMutex(key string) *sync.Mutex {
	a.chunkMu.Lock()
	defer a.chunkMu.Unlock()

	if a.chunkMutexes == nil {
		a.chunkMutexes = make(map[string]*sync.Mutex)
	}
	mu, found := a.chunkMutexes[key]
	if !found {
		mu = new(sync.Mutex)
		a.chunkMutexes[key] = mu
	}
	return mu
}

func (a *Array) writeChunk(ctx context.Context, md Metadata, cell []int64, box Box, data []byte, domain Box) error {
	chunkShape := md.ChunkShape()
	bpe := int64(md.Kind().Bytes())
	cb := chunkBox(cell, chunkShape)
	region := box.Intersect(cb)

	key, err := a.drv.ChunkKey(cell)
	if err != nil {
		return err
	}
	mu := a.chunkMutex(key)
	mu.Lock()
	defer mu.Unlock()

	var chunk []byte
	if region.Equal(cb.Intersect(domain)) {
		chunk = fillChunk(md.FillValue(), cb.NumElements())
	} else {
		existing, err := a.readChunk(ctx, md, cell)
		if err != nil {
			return err
		}
		chunk = append([]byte(nil), existing...)
	}
	copyRegion(chunk, cb, data, box, region, bpe)

	encoded, err := a.drv.EncodeChunk(cell, chunk)
	if err != nil {
		return fmt.Errorf("encoding chunk %q: %w", key, err)
	}
	if err := a.rctx.Put(ctx, a.kv, key, encoded); err != nil {
		return err
	}
	a.rctx.ChunkCache().Set(a.cacheKey(key), chunk)
	return nil
}

// Resize changes the shape of the array.  Stored chunks are left as they are.
func (a *Array) Resize(ctx context.Context, shape []int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(shape) != len(a.md.Shape()) {
		return fmt.Errorf("resize to rank %d, array has rank %d", len(shape), len(a.md.Shape()))
	}
	md, raw, err := a.drv.Resize(shape)
	if err != nil {
		return err
	}
	if raw != nil {
		if a.rw&Write == 0 {
			return fmt.Errorf("%s not opened for writing", a)
		}
		if err := a.rctx.Put(ctx, a.kv, a.drv.MetadataKey(), raw); err != nil {
			return err
		}
	}
	a.rctx.MetadataCache().Remove(a.metadataCacheKey())
	bfio.Infof("Resized %s from %v to %v\n", a, a.md.Shape(), md.Shape())
	a.md = md
	return nil
}

// Close releases the driver.  The key-value store is owned by the caller.
func (a *Array) Close() error {
	return a.drv.Close()
}
