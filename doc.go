/*
Package bfiocpp reads tiled OME-TIFF and OME-Zarr images as 5-D (T, C, Z, Y, X) arrays
and writes OME-Zarr arrays.

Images are opened through the reader package, which resolves the physical axis order,
element type, and tile geometry of the source, and then serves rectangular regions
as contiguous row-major buffers in TCZYX order.  Regions may be read whole or as a
sequence of fixed-stride tiles, and tiles can be fetched concurrently.  The writer
package creates zarr v2 or v3 arrays and writes regions into them with the same
conventions.

Layout

	bfio              element kinds, axis maps, sequences, tile planning, errors, logging
	config            TOML configuration of logging, caching, concurrency, and stores
	storage           key-value stores behind arrays, chunk and metadata caches
	storage/tiledtiff tiled TIFF container with OME-XML page lookup
	array             generic chunked array interface and region boxes
	array/ometiff     OME-TIFF array driver
	array/zarr        zarr v2 and v3 array driver with codecs
	backend           opens an array from a JSON spec on a storage engine
	reader, writer    the image-level API
	cmd/bfio          command-line interface

Command line

In the following documentation, the type of brackets designate
<required parameter> and [optional parameter].

	bfio about

Prints the version and the available storage engines and array drivers.

	bfio info <path>

Prints the logical shape, element type, tile geometry, and resolved axes.

	bfio xml <path>

Prints the OME-XML metadata of an image.

	bfio read <path> [rows=a:b] [cols=a:b] [layers=a:b] [channels=a:b] [tsteps=a:b] [out=file]

Reads a region, writing the raw little-endian buffer to a file or summarizing its range.

	bfio tiles <path> [tile=h,w] [stride=h,w]

Lists the tile requests covering an image.

	bfio convert <src> <dst> [chunks=h,w] [format=2|3] [compressor=zstd|gzip|zlib|none] [level=n] [overwrite=true]

Copies an image into a new zarr array tile by tile.

Storage is selected per image by a "store=<engine>" setting naming a [store.<engine>]
table of the configuration file.  Local files are the default.
*/
package bfiocpp
