// Command-line interface for inspecting, reading, and converting OME-TIFF and
// OME-Zarr images.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/PolusAI/bfiocpp/backend"
	"github.com/PolusAI/bfiocpp/bfio"
	"github.com/PolusAI/bfiocpp/config"
	"github.com/PolusAI/bfiocpp/reader"
	"github.com/PolusAI/bfiocpp/writer"
)

const version = "0.1.0"

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Path to TOML configuration.
	configFile = flag.String("config", "", "")

	// File type of the input image.  Guessed from the extension if unset.
	fileType = flag.String("type", "", "")

	// Axis labels of a zarr input, e.g., "CZYX".
	axesFlag = flag.String("axes", "", "")

	// Profile CPU usage using standard gotest system.
	cpuprofile = flag.String("cpuprofile", "", "")

	// Loaded configuration.
	cfg = config.Default()
)

const helpMessage = `
bfio reads tiled OME-TIFF and OME-Zarr images and writes OME-Zarr arrays

Usage: bfio [options] <command>

      -config     =string   Path to TOML configuration file.
      -type       =string   Input file type: ome-tiff, ome-zarr-v2, ome-zarr-v3.
      -axes       =string   Axis labels of a zarr input, e.g., CZYX.
      -cpuprofile =string   Write CPU profile to this file.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	about
	help
	info    <image>
	xml     <image>
	read    <image> rows=a:b cols=a:b [layers=a:b] [channels=a:b] [tsteps=a:b] [out=<file>]
	tiles   <image> tile=h,w [stride=h,w]
	convert <image> <zarr> [chunks=h,w] [format=2|3] [compressor=zstd] [level=1]
	        [overwrite=true]

Images addressed by URL, e.g., "s3://bucket/img.zarr", are read through a bucket.
Any command accepts store=<engine> to read zarr through a configured kvstore engine.
`

var usage = func() {
	fmt.Print(helpMessage)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		cfg.Logging.SetLogger()
	}
	defer bfio.ShutdownLogger()
	if *runVerbose {
		bfio.SetLogMode(bfio.DebugMode)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	command := bfio.Command(flag.Args())
	if err := DoCommand(os.Stdout, command); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		bfio.ShutdownLogger()
		os.Exit(1)
	}
}

// DoCommand serves as a switchboard for commands.
func DoCommand(w io.Writer, cmd bfio.Command) error {
	if len(cmd) == 0 {
		return fmt.Errorf("blank command")
	}
	switch cmd.Name() {
	case "about":
		fmt.Fprintf(w, "bfio %s\nEngines: %s\nDrivers: %s\n", version,
			backend.EnginesAvailable(), strings.Join(backend.DriversAvailable(), ", "))
		return nil
	case "info":
		return DoInfo(w, cmd)
	case "xml":
		return DoXML(w, cmd)
	case "read":
		return DoRead(w, cmd)
	case "tiles":
		return DoTiles(w, cmd)
	case "convert":
		return DoConvert(w, cmd)
	}
	return fmt.Errorf("unknown command %q, try 'bfio help'", cmd.Name())
}

// openImage opens the image named by the first argument of a command.
func openImage(cmd bfio.Command) (*reader.Reader, error) {
	path := cmd.Argument(1)
	if path == "" {
		return nil, fmt.Errorf("%s command must be followed by the path to an image", cmd.Name())
	}
	ft := bfio.GuessFileType(path)
	if *fileType != "" {
		var err error
		if ft, err = bfio.ParseFileType(*fileType); err != nil {
			return nil, err
		}
	}
	opts := []reader.Option{reader.WithContextSpec(cfg.ContextSpec())}
	if engine, found := cmd.Parameter("store"); found {
		settings, _ := cfg.StoreConfig(engine)
		opts = append(opts, reader.WithStore(engine, settings))
	}
	return reader.Open(path, ft, *axesFlag, opts...)
}

// DoInfo prints the shape, tiling, and type of an image.
func DoInfo(w io.Writer, cmd bfio.Command) error {
	r, err := openImage(cmd)
	if err != nil {
		return err
	}
	defer r.Close()
	d := r.Descriptor()
	size := uint64(d.Shape[0] * d.Shape[1] * d.Shape[2] * d.Shape[3] * d.Shape[4] * int64(d.Kind.Bytes()))
	fmt.Fprintf(w, "File type:  %s\n", r.FileType())
	fmt.Fprintf(w, "Axes:       %s\n", d.Axes)
	fmt.Fprintf(w, "Shape:      T=%d C=%d Z=%d Y=%d X=%d\n", d.Shape[0], d.Shape[1], d.Shape[2], d.Shape[3], d.Shape[4])
	fmt.Fprintf(w, "Tile:       %d x %d x %d\n", d.TileDepth, d.TileHeight, d.TileWidth)
	fmt.Fprintf(w, "Data type:  %s\n", r.DataType())
	fmt.Fprintf(w, "Size:       %s\n", humanize.Bytes(size))
	fmt.Fprintf(w, "Spec:       %s\n", r.Spec().JSON())
	return nil
}

// DoXML prints the OME-XML of a TIFF image.
func DoXML(w io.Writer, cmd bfio.Command) error {
	r, err := openImage(cmd)
	if err != nil {
		return err
	}
	defer r.Close()
	xml, err := r.OmeXML()
	if err != nil {
		return err
	}
	if xml == "" {
		return fmt.Errorf("%s has no OME-XML description", cmd.Argument(1))
	}
	fmt.Fprintln(w, xml)
	return nil
}

// DoRead reads a region and either saves its raw little-endian bytes or prints a
// summary of its values.
func DoRead(w io.Writer, cmd bfio.Command) error {
	r, err := openImage(cmd)
	if err != nil {
		return err
	}
	defer r.Close()
	var seqs [5]bfio.Seq
	for i, key := range []string{"rows", "cols", "layers", "channels", "tsteps"} {
		if seqs[i], err = cmd.SeqParameter(key); err != nil {
			return err
		}
	}
	if !seqs[0].Valid {
		seqs[0] = bfio.MustSeq(0, r.Height()-1, 1)
	}
	if !seqs[1].Valid {
		seqs[1] = bfio.MustSeq(0, r.Width()-1, 1)
	}
	img, err := r.ReadRegion(seqs[0], seqs[1], seqs[2], seqs[3], seqs[4])
	if err != nil {
		return err
	}
	if out, found := cmd.Parameter("out"); found {
		data, err := img.Bytes()
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0644); err != nil {
			return err
		}
		fmt.Fprintf(w, "Wrote %s of %s %v to %s\n", humanize.Bytes(uint64(len(data))), img.Kind, img.Shape, out)
		return nil
	}
	lo, hi := valueRange(img)
	fmt.Fprintf(w, "Read %d %s elements, shape %v, range [%g, %g]\n", img.NumElements(), img.Kind, img.Shape, lo, hi)
	return nil
}

func valueRange(img *bfio.ImageData) (lo, hi float64) {
	switch v := img.Values.(type) {
	case []uint8:
		return minMax(v)
	case []uint16:
		return minMax(v)
	case []uint32:
		return minMax(v)
	case []uint64:
		return minMax(v)
	case []int8:
		return minMax(v)
	case []int16:
		return minMax(v)
	case []int32:
		return minMax(v)
	case []int64:
		return minMax(v)
	case []float32:
		return minMax(v)
	case []float64:
		return minMax(v)
	}
	return 0, 0
}

func minMax[T bfio.Element](values []T) (lo, hi float64) {
	if len(values) == 0 {
		return 0, 0
	}
	l, h := values[0], values[0]
	for _, v := range values[1:] {
		if v < l {
			l = v
		}
		if v > h {
			h = v
		}
	}
	return float64(l), float64(h)
}

// pair parses a "key=a,b" setting, returning def if absent.
func pair(cmd bfio.Command, key string, def [2]int64) ([2]int64, error) {
	nums, found, err := cmd.IntsParameter(key)
	if err != nil || !found {
		return def, err
	}
	if len(nums) != 2 {
		return def, fmt.Errorf("%s needs two values, got %v", key, nums)
	}
	return [2]int64{nums[0], nums[1]}, nil
}

// DoTiles prints the tile requests covering an image.
func DoTiles(w io.Writer, cmd bfio.Command) error {
	r, err := openImage(cmd)
	if err != nil {
		return err
	}
	defer r.Close()
	tile, err := pair(cmd, "tile", [2]int64{r.TileHeight(), r.TileWidth()})
	if err != nil {
		return err
	}
	stride, err := pair(cmd, "stride", tile)
	if err != nil {
		return err
	}
	if err := r.PlanTiles(tile[0], tile[1], stride[0], stride[1]); err != nil {
		return err
	}
	for req, ok := r.Next(); ok; req, ok = r.Next() {
		row, col, err := r.TileCoordinate(req)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "(%d, %d) %s\n", row, col, req)
	}
	fmt.Fprintf(w, "%d tiles\n", len(r.Requests()))
	return nil
}

// DoConvert copies an image tile by tile into a new zarr array with the same
// logical shape.
func DoConvert(w io.Writer, cmd bfio.Command) error {
	dst := cmd.Argument(2)
	if dst == "" {
		return fmt.Errorf("convert command must be followed by source and destination paths")
	}
	r, err := openImage(cmd)
	if err != nil {
		return err
	}
	defer r.Close()
	chunk, err := pair(cmd, "chunks", [2]int64{r.TileHeight(), r.TileWidth()})
	if err != nil {
		return err
	}
	settings := cmd.Settings()
	opts := []writer.Option{writer.WithContextSpec(cfg.ContextSpec())}
	if format, found, err := settings.GetInt("format"); err != nil {
		return err
	} else if found {
		opts = append(opts, writer.WithFormat(format))
	}
	if id, found, _ := settings.GetString("compressor"); found {
		level, _, err := settings.GetInt("level")
		if err != nil {
			return err
		}
		opts = append(opts, writer.WithCompressor(id, level))
	}
	if overwrite, _, err := settings.GetBool("overwrite"); err != nil {
		return err
	} else if overwrite {
		opts = append(opts, writer.WithOverwrite())
	}

	d := r.Descriptor()
	timedLog := bfio.NewTimeLog()
	zw, err := writer.Create(dst, d.Shape[:], []int64{1, 1, 1, chunk[0], chunk[1]}, d.Kind.String(), "TCZYX", opts...)
	if err != nil {
		return err
	}
	if err := r.PlanTiles(chunk[0], chunk[1], chunk[0], chunk[1]); err != nil {
		zw.Close()
		return err
	}
	ctx := context.Background()
	var n int
	for req, ok := r.Next(); ok; req, ok = r.Next() {
		img, err := r.ReadTile(ctx, req)
		if err != nil {
			zw.Close()
			return fmt.Errorf("reading tile %s: %w", req, err)
		}
		if err := zw.WriteData(img, req.Rows(), req.Cols(), bfio.Span(req.Z), bfio.Span(req.C), bfio.Span(req.T)); err != nil {
			zw.Close()
			return fmt.Errorf("writing tile %s: %w", req, err)
		}
		n++
	}
	if err := zw.Close(); err != nil {
		return err
	}
	timedLog.Infof("Converted %s to %s in %d tiles", cmd.Argument(1), dst, n)
	fmt.Fprintf(w, "Converted %s to %s: %s %v in %d tiles\n", cmd.Argument(1), dst, d.Kind, d.Shape, n)
	return nil
}
