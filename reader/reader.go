/*
	Package reader opens OME-TIFF and OME-Zarr images for region and tile reads.

	A Reader presents every image as logical [T, C, Z, Y, X] data regardless of its
	physical layout.  Tiled TIFF containers are always rank 5.  Zarr arrays of lower
	rank are mapped onto the logical axes using caller-supplied labels, labels stored
	with the array, or a guess from the rank alone.

	Example:

		r, err := reader.Open("plate.ome.tif", bfio.OmeTiff, "")
		if err != nil {
			...
		}
		defer r.Close()
		img, err := r.ReadRegion(bfio.MustSeq(0, 1023, 1), bfio.MustSeq(0, 1023, 1),
			bfio.InvalidSeq(), bfio.Span(1), bfio.InvalidSeq())
*/
package reader

import (
	"context"
	"sync"

	"github.com/PolusAI/bfiocpp/array"
	"github.com/PolusAI/bfiocpp/array/zarr"
	"github.com/PolusAI/bfiocpp/backend"
	"github.com/PolusAI/bfiocpp/bfio"
	"github.com/PolusAI/bfiocpp/storage"
	"github.com/PolusAI/bfiocpp/storage/tiledtiff"
)

// Option configures Open.
type Option func(*options)

type options struct {
	rctx        *storage.Context
	contextSpec *storage.ContextSpec
	kvDriver    string
	kvConfig    bfio.Config
}

// WithContext shares a runtime context, and so its chunk cache, between readers.
func WithContext(rctx *storage.Context) Option {
	return func(o *options) { o.rctx = rctx }
}

// WithContextSpec sets the cache size and concurrency limits of a private context.
func WithContextSpec(spec storage.ContextSpec) Option {
	return func(o *options) { o.contextSpec = &spec }
}

// WithStore selects the key-value store engine and its settings, e.g., "swift"
// with credentials.  By default zarr arrays are read from the file system, or from
// a bucket if the path is a URL.
func WithStore(driver string, config bfio.Config) Option {
	return func(o *options) {
		o.kvDriver = driver
		o.kvConfig = config
	}
}

// Reader reads regions of one image.  ReadRegion may be called concurrently.
type Reader struct {
	path string
	ft   bfio.FileType
	spec array.Spec
	rctx *storage.Context
	kv   storage.KVStore
	arr  *array.Array
	desc bfio.Descriptor

	// tile iteration session
	mu        sync.Mutex
	requests  []bfio.TileRequest
	next      int
	rowStride int64
	colStride int64
}

// Open opens the image at path.  Axes may give one label per array dimension, e.g.,
// "CZYX", and is ignored for OME-TIFF.  All failures are returned as an OpenError.
func Open(path string, ft bfio.FileType, axes string, opts ...Option) (*Reader, error) {
	return OpenContext(context.Background(), path, ft, axes, opts...)
}

// OpenContext is Open with a context bounding the metadata reads.
func OpenContext(ctx context.Context, path string, ft bfio.FileType, axes string, opts ...Option) (*Reader, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	timedLog := bfio.NewTimeLog()
	spec, err := backend.ReadSpec(path, ft)
	if err != nil {
		return nil, &bfio.OpenError{Path: path, Err: err}
	}
	if o.kvDriver != "" {
		spec.KVStore.Driver = o.kvDriver
		spec.KVStore.Config = o.kvConfig
	}
	if o.contextSpec != nil {
		spec.Context = *o.contextSpec
	}
	rctx := o.rctx
	if rctx == nil {
		rctx = storage.NewContext(spec.Context)
	}
	arr, kv, err := backend.Open(ctx, spec, rctx, array.OpenExisting, array.Read)
	if err != nil {
		return nil, &bfio.OpenError{Path: path, Err: err}
	}
	r := &Reader{path: path, ft: ft, spec: spec, rctx: rctx, kv: kv, arr: arr}
	if err := r.describe(ctx, axes); err != nil {
		r.Close()
		return nil, &bfio.OpenError{Path: path, Err: err}
	}
	timedLog.Debugf("Opened %s: %s", path, r.desc)
	return r, nil
}

// describe resolves the axes and fills in the descriptor.
func (r *Reader) describe(ctx context.Context, labels string) error {
	domain := r.arr.Domain().Shape
	chunks := r.arr.ChunkLayout()
	axes := bfio.FullAxes
	if r.ft != bfio.OmeTiff {
		var err error
		if labels != "" {
			if axes, err = bfio.ResolveAxes(len(domain), labels); err != nil {
				return err
			}
		} else {
			stored, err := zarr.AxisLabels(ctx, r.rctx, r.kv, r.arr.Driver().(*zarr.Driver))
			if err != nil {
				return err
			}
			if axes, err = bfio.ResolveAxes(len(domain), stored); err != nil {
				bfio.Warningf("Ignoring stored axes of %s: %v\n", r.path, err)
				if axes, err = bfio.ResolveAxes(len(domain), ""); err != nil {
					return err
				}
			}
		}
		if axes.Speculative && len(domain) != 5 {
			bfio.Warningf("Axis order of %s guessed as %s from its rank\n", r.path, axes.Labels())
		}
	}
	shape, err := axes.Extents(domain)
	if err != nil {
		return err
	}
	r.desc = bfio.Descriptor{
		Shape:      shape,
		TileHeight: chunks[axes.Y],
		TileWidth:  chunks[axes.X],
		TileDepth:  1,
		Kind:       r.arr.Kind(),
		Axes:       axes,
	}
	if axes.Z.Present {
		r.desc.TileDepth = chunks[axes.Z.Index]
	}
	return nil
}

// Descriptor returns the logical shape, tiling, and element kind.
func (r *Reader) Descriptor() bfio.Descriptor { return r.desc }

func (r *Reader) Timesteps() int64  { return r.desc.Shape[0] }
func (r *Reader) Channels() int64   { return r.desc.Shape[1] }
func (r *Reader) Depth() int64      { return r.desc.Shape[2] }
func (r *Reader) Height() int64     { return r.desc.Shape[3] }
func (r *Reader) Width() int64      { return r.desc.Shape[4] }
func (r *Reader) TileHeight() int64 { return r.desc.TileHeight }
func (r *Reader) TileWidth() int64  { return r.desc.TileWidth }
func (r *Reader) TileDepth() int64  { return r.desc.TileDepth }

func (r *Reader) Kind() bfio.ElementKind { return r.desc.Kind }

// DataType returns the element type name, e.g., "uint16".
func (r *Reader) DataType() string { return r.desc.Kind.String() }

func (r *Reader) FileType() bfio.FileType { return r.ft }

// Spec returns the array spec the image was opened with.
func (r *Reader) Spec() array.Spec { return r.spec }

// ReadRegion reads the inclusive ranges of each logical axis.  An invalid range
// selects index 0 of an axis the image has and is ignored for an axis it lacks.
// The result has logical shape [T, C, Z, Y, X].
func (r *Reader) ReadRegion(rows, cols, layers, channels, tsteps bfio.Seq) (*bfio.ImageData, error) {
	return r.ReadRegionContext(context.Background(), rows, cols, layers, channels, tsteps)
}

// ReadRegionContext is ReadRegion with a context.
func (r *Reader) ReadRegionContext(ctx context.Context, rows, cols, layers, channels, tsteps bfio.Seq) (*bfio.ImageData, error) {
	region, err := array.NewRegion(r.desc.Axes, r.arr.Domain().Shape, rows, cols, layers, channels, tsteps)
	if err != nil {
		return nil, err
	}
	timedLog := bfio.NewTimeLog()
	data, err := r.arr.Read(ctx, region.Box)
	if err != nil {
		return nil, err
	}
	bpe := int64(r.desc.Kind.Bytes())
	img, err := bfio.NewImageDataFromBytes(r.desc.Kind, region.Shape, region.ToLogical(data, bpe))
	if err != nil {
		return nil, err
	}
	timedLog.Debugf("Read %v of %s", region.Shape, r.path)
	return img, nil
}

// ReadTile reads the region of one tile request.
func (r *Reader) ReadTile(ctx context.Context, req bfio.TileRequest) (*bfio.ImageData, error) {
	return r.ReadRegionContext(ctx, req.Rows(), req.Cols(), bfio.Span(req.Z), bfio.Span(req.C), bfio.Span(req.T))
}

// OmeXML returns the raw image description of an OME-TIFF image, or "" for zarr.
func (r *Reader) OmeXML() (string, error) {
	if r.ft != bfio.OmeTiff {
		return "", nil
	}
	raw, err := r.rctx.Get(context.Background(), r.kv, r.spec.Path+tiledtiff.RawDescriptionKey)
	if storage.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Close releases the array and its store.
func (r *Reader) Close() error {
	err := r.arr.Close()
	if kerr := r.kv.Close(); err == nil {
		err = kerr
	}
	return err
}
