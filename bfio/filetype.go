package bfio

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FileType selects the physical layout behind an image.
type FileType uint8

const (
	OmeTiff FileType = iota
	OmeZarrV2
	OmeZarrV3
)

func (ft FileType) String() string {
	switch ft {
	case OmeTiff:
		return "ome-tiff"
	case OmeZarrV2:
		return "ome-zarr-v2"
	case OmeZarrV3:
		return "ome-zarr-v3"
	}
	return fmt.Sprintf("FileType(%d)", uint8(ft))
}

// ParseFileType accepts the names returned by String plus a few common aliases.
func ParseFileType(s string) (FileType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ome-tiff", "ometiff", "tiff", "tif":
		return OmeTiff, nil
	case "ome-zarr-v2", "omezarrv2", "zarr", "zarr2":
		return OmeZarrV2, nil
	case "ome-zarr-v3", "omezarrv3", "zarr3":
		return OmeZarrV3, nil
	}
	return 0, fmt.Errorf("unknown file type %q", s)
}

// GuessFileType picks a file type from a path's extension, defaulting to zarr v2.
func GuessFileType(path string) FileType {
	lower := strings.ToLower(strings.TrimRight(path, "/"))
	switch filepath.Ext(lower) {
	case ".tif", ".tiff", ".btf":
		return OmeTiff
	}
	return OmeZarrV2
}
