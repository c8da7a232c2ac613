/*
	Package writer creates OME-Zarr arrays and writes logical [T, C, Z, Y, X] regions
	into them.

	A Writer owns one array.  Writes of disjoint regions may run concurrently from
	many goroutines, including regions that share a chunk.  Overlapping writes land
	in an unspecified order.
*/
package writer

import (
	"context"
	"errors"
	"fmt"

	"github.com/PolusAI/bfiocpp/array"
	"github.com/PolusAI/bfiocpp/array/zarr"
	"github.com/PolusAI/bfiocpp/backend"
	"github.com/PolusAI/bfiocpp/bfio"
	"github.com/PolusAI/bfiocpp/storage"
)

// Option configures Create.
type Option func(*options)

type options struct {
	overwrite   bool
	format      int
	zarr        zarr.Options
	rctx        *storage.Context
	contextSpec *storage.ContextSpec
	kvDriver    string
	kvConfig    bfio.Config
}

// WithOverwrite deletes anything stored at the target before creating the array.
func WithOverwrite() Option {
	return func(o *options) { o.overwrite = true }
}

// WithFormat selects zarr format 2 (the default) or 3.
func WithFormat(format int) Option {
	return func(o *options) { o.format = format }
}

// WithCompressor selects the chunk compressor and its level.
func WithCompressor(id string, level int) Option {
	return func(o *options) {
		o.zarr.Compressor = id
		o.zarr.Level = level
	}
}

// WithFillValue sets the value of elements never written.
func WithFillValue(v interface{}) Option {
	return func(o *options) { o.zarr.FillValue = v }
}

// WithContext writes through a shared runtime context.
func WithContext(rctx *storage.Context) Option {
	return func(o *options) { o.rctx = rctx }
}

// WithContextSpec sets the cache size and concurrency limits of a private context.
func WithContextSpec(spec storage.ContextSpec) Option {
	return func(o *options) { o.contextSpec = &spec }
}

// WithStore selects the key-value store engine and its settings.
func WithStore(driver string, config bfio.Config) Option {
	return func(o *options) {
		o.kvDriver = driver
		o.kvConfig = config
	}
}

// Writer writes regions of one zarr array.
type Writer struct {
	path string
	spec array.Spec
	kv   storage.KVStore
	arr  *array.Array
	axes bfio.AxisMap
	kind bfio.ElementKind
}

// Create creates a zarr array at path.  The dtype is a type name like "uint16" or a
// zarr token like "<u2".  Axes gives one label per dimension, e.g., "CZYX", or is
// empty to assume the default order for the rank.  An existing array at path is
// an AlreadyExistsError unless WithOverwrite is given.
func Create(path string, shape, chunks []int64, dtype, axes string, opts ...Option) (*Writer, error) {
	return CreateContext(context.Background(), path, shape, chunks, dtype, axes, opts...)
}

// CreateContext is Create with a context.
func CreateContext(ctx context.Context, path string, shape, chunks []int64, dtype, axes string, opts ...Option) (*Writer, error) {
	o := options{format: zarr.V2}
	for _, opt := range opts {
		opt(&o)
	}
	kind, err := bfio.ParseKind(dtype)
	if err != nil {
		return nil, err
	}
	axisMap, err := bfio.ResolveAxes(len(shape), axes)
	if err != nil {
		return nil, err
	}
	labels := axisMap.Labels()
	o.zarr.DimensionNames = zarr.AxisNames(labels)
	md, err := zarr.NewMetadata(o.format, shape, chunks, kind, o.zarr)
	if err != nil {
		return nil, err
	}
	spec, err := backend.WriteSpec(path, md)
	if err != nil {
		return nil, err
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

	mode := array.Create
	if o.overwrite {
		mode |= array.DeleteExisting
	}
	timedLog := bfio.NewTimeLog()
	arr, kv, err := backend.Open(ctx, spec, rctx, mode, array.ReadWrite)
	if err != nil {
		var exists *bfio.AlreadyExistsError
		if errors.As(err, &exists) {
			return nil, &bfio.AlreadyExistsError{Path: path}
		}
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	if md.Format() == zarr.V2 {
		drv := arr.Driver().(*zarr.Driver)
		if err := zarr.WriteAxisLabels(ctx, rctx, kv, drv, labels); err != nil {
			arr.Close()
			kv.Close()
			return nil, err
		}
	}
	timedLog.Infof("Created %s: %s %v with chunks %v, axes %s", path, kind, shape, chunks, labels)
	return &Writer{path: path, spec: spec, kv: kv, arr: arr, axes: axisMap, kind: kind}, nil
}

// Kind returns the element kind of the array.
func (w *Writer) Kind() bfio.ElementKind { return w.kind }

// Axes returns the axis map the array was created with.
func (w *Writer) Axes() bfio.AxisMap { return w.axes }

// Spec returns the array spec used to create the array.
func (w *Writer) Spec() array.Spec { return w.spec }

// WriteRegion writes little-endian elements in logical [T, C, Z, Y, X] order to the
// inclusive ranges of each axis.  The optional ranges are layers, channels, and
// tsteps in that order; a missing or invalid one selects index 0.
func (w *Writer) WriteRegion(buf []byte, rows, cols bfio.Seq, opt ...bfio.Seq) error {
	return w.WriteRegionContext(context.Background(), buf, rows, cols, opt...)
}

// WriteRegionContext is WriteRegion with a context.
func (w *Writer) WriteRegionContext(ctx context.Context, buf []byte, rows, cols bfio.Seq, opt ...bfio.Seq) error {
	if len(opt) > 3 {
		return fmt.Errorf("at most layers, channels, and tsteps may follow rows and cols, got %d ranges", len(opt))
	}
	optional := [3]bfio.Seq{bfio.InvalidSeq(), bfio.InvalidSeq(), bfio.InvalidSeq()}
	copy(optional[:], opt)
	region, err := array.NewRegion(w.axes, w.arr.Domain().Shape, rows, cols, optional[0], optional[1], optional[2])
	if err != nil {
		return err
	}
	bpe := int64(w.kind.Bytes())
	if expected := region.NumElements() * bpe; int64(len(buf)) != expected {
		return &bfio.ShapeMismatchError{Expected: expected, Got: int64(len(buf)), Shape: region.Shape[:]}
	}
	timedLog := bfio.NewTimeLog()
	if err := w.arr.Write(ctx, region.Box, region.ToPhysical(buf, bpe)); err != nil {
		return err
	}
	timedLog.Debugf("Wrote %v to %s", region.Shape, w.path)
	return nil
}

// WriteData writes typed image data to the given ranges.  Its kind must match the
// array's.
func (w *Writer) WriteData(img *bfio.ImageData, rows, cols, layers, channels, tsteps bfio.Seq) error {
	if img.Kind != w.kind {
		return &bfio.UnsupportedTypeError{Name: fmt.Sprintf("%s data for %s array", img.Kind, w.kind)}
	}
	buf, err := img.Bytes()
	if err != nil {
		return err
	}
	return w.WriteRegion(buf, rows, cols, layers, channels, tsteps)
}

// WriteImage writes the entire array from little-endian elements in logical order.
func (w *Writer) WriteImage(buf []byte) error {
	shape, err := w.axes.Extents(w.arr.Domain().Shape)
	if err != nil {
		return err
	}
	for _, n := range shape {
		if n == 0 {
			return nil
		}
	}
	span := func(n int64) bfio.Seq { return bfio.MustSeq(0, n-1, 1) }
	return w.WriteRegion(buf, span(shape[3]), span(shape[4]), span(shape[2]), span(shape[1]), span(shape[0]))
}

// Close releases the array and its store.
func (w *Writer) Close() error {
	err := w.arr.Close()
	if kerr := w.kv.Close(); err == nil {
		err = kerr
	}
	return err
}
