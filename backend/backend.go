/*
	Package backend wires format drivers and key-value store engines together.  The
	set of available engines and drivers is fixed at compile time in two explicit
	factory maps, so what a binary can open is visible in one place.
*/
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/PolusAI/bfiocpp/array"
	"github.com/PolusAI/bfiocpp/array/ometiff"
	"github.com/PolusAI/bfiocpp/array/zarr"
	"github.com/PolusAI/bfiocpp/bfio"
	"github.com/PolusAI/bfiocpp/storage"
	"github.com/PolusAI/bfiocpp/storage/badger"
	"github.com/PolusAI/bfiocpp/storage/blob"
	"github.com/PolusAI/bfiocpp/storage/file"
	"github.com/PolusAI/bfiocpp/storage/swift"
	"github.com/PolusAI/bfiocpp/storage/tiledtiff"
)

// Driver names used in array specs.
const (
	DriverOmeTiff = "ometiff"
	DriverZarr    = "zarr"
	DriverZarr3   = "zarr3"
)

var engines = map[string]func() storage.Engine{
	"file":       func() storage.Engine { return file.NewEngine() },
	"blob":       func() storage.Engine { return blob.NewEngine() },
	"badger":     func() storage.Engine { return badger.NewEngine() },
	"swift":      func() storage.Engine { return swift.NewEngine() },
	"tiled_tiff": func() storage.Engine { return tiledtiff.NewEngine() },
}

type driverFactory func(spec array.Spec) (array.Driver, error)

var drivers = map[string]driverFactory{
	DriverOmeTiff: func(spec array.Spec) (array.Driver, error) {
		return ometiff.NewDriver(spec.Path), nil
	},
	DriverZarr: func(spec array.Spec) (array.Driver, error) {
		return newZarrDriver(spec, zarr.V2)
	},
	DriverZarr3: func(spec array.Spec) (array.Driver, error) {
		return newZarrDriver(spec, zarr.V3)
	},
}

func newZarrDriver(spec array.Spec, format int) (array.Driver, error) {
	if len(spec.Metadata) == 0 {
		return zarr.NewDriver(spec.Path, format), nil
	}
	md, err := zarr.ParseMetadata(format, "metadata", spec.Metadata)
	if err != nil {
		return nil, err
	}
	return zarr.NewCreateDriver(spec.Path, md), nil
}

// Engine returns the key-value store engine with the given name.
func Engine(name string) (storage.Engine, error) {
	newEngine, found := engines[name]
	if !found {
		return nil, fmt.Errorf("no kvstore engine %q, available: %s", name, EnginesAvailable())
	}
	return newEngine(), nil
}

// EnginesAvailable returns a description of the compiled engines.
func EnginesAvailable() string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, engines[name]().String())
	}
	sort.Strings(names)
	return strings.Join(names, "; ")
}

// DriversAvailable returns the sorted names of the compiled format drivers.
func DriversAvailable() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDriver returns the format driver named by the spec.
func NewDriver(spec array.Spec) (array.Driver, error) {
	factory, found := drivers[spec.Driver]
	if !found {
		return nil, fmt.Errorf("no array driver %q, available: %v", spec.Driver, DriversAvailable())
	}
	return factory(spec)
}

// OpenKVStore opens the key-value store described by spec.
func OpenKVStore(spec storage.Spec, create bool) (storage.KVStore, error) {
	e, err := Engine(spec.Driver)
	if err != nil {
		return nil, err
	}
	return e.NewStore(spec, create)
}

// DriverName returns the array driver for a file type.
func DriverName(ft bfio.FileType) (string, error) {
	switch ft {
	case bfio.OmeTiff:
		return DriverOmeTiff, nil
	case bfio.OmeZarrV2:
		return DriverZarr, nil
	case bfio.OmeZarrV3:
		return DriverZarr3, nil
	}
	return "", fmt.Errorf("no array driver for file type %s", ft)
}

// ReadSpec returns the spec for reading the image at path.  Tiled TIFF files are
// served by the tiled_tiff engine and zarr directories by the file engine.  A path
// with a URL scheme such as "gs://" or "mem://" uses the blob engine.
func ReadSpec(path string, ft bfio.FileType) (array.Spec, error) {
	name, err := DriverName(ft)
	if err != nil {
		return array.Spec{}, err
	}
	spec := array.Spec{
		Driver:  name,
		KVStore: storage.Spec{Driver: "file", Path: path},
		Context: storage.DefaultContextSpec(),
	}
	switch {
	case ft == bfio.OmeTiff:
		spec.KVStore.Driver = "tiled_tiff"
	case strings.Contains(path, "://"):
		spec.KVStore.Driver = "blob"
	}
	return spec, nil
}

// WriteSpec returns the spec for creating a zarr array at path with the given
// metadata.
func WriteSpec(path string, md *zarr.Metadata) (array.Spec, error) {
	raw, err := md.Encode()
	if err != nil {
		return array.Spec{}, err
	}
	name := DriverZarr
	if md.Format() == zarr.V3 {
		name = DriverZarr3
	}
	spec := array.Spec{
		Driver:   name,
		KVStore:  storage.Spec{Driver: "file", Path: path},
		Context:  storage.WriteContextSpec(),
		Metadata: json.RawMessage(raw),
	}
	if strings.Contains(path, "://") {
		spec.KVStore.Driver = "blob"
	}
	return spec, nil
}

// Open opens the array described by spec using rctx, or a new context from the
// spec if rctx is nil.  The returned store is owned by the caller.
func Open(ctx context.Context, spec array.Spec, rctx *storage.Context, mode array.OpenMode, rw array.ReadWriteMode) (*array.Array, storage.KVStore, error) {
	drv, err := NewDriver(spec)
	if err != nil {
		return nil, nil, err
	}
	kv, err := OpenKVStore(spec.KVStore, mode&array.Create != 0)
	if err != nil {
		return nil, nil, err
	}
	if rctx == nil {
		rctx = storage.NewContext(spec.Context)
	}
	a, err := array.Open(ctx, drv, kv, rctx, mode, rw)
	if err != nil {
		kv.Close()
		return nil, nil, err
	}
	return a, kv, nil
}
