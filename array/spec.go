package array

import (
	"encoding/json"
	"fmt"

	"github.com/PolusAI/bfiocpp/storage"
)

// Spec fully describes how to reach an array: the format driver, the key-value
// store holding it, the runtime limits, and for creation the array metadata.
// It marshals to the JSON form used by tools built on tensorstore, e.g.,
//
//	{
//	  "driver": "zarr",
//	  "kvstore": {"driver": "file", "path": "/data/img.zarr"},
//	  "context": {"cache_pool": {"total_bytes_limit": 1000000000}, ...},
//	  "metadata": {"zarr_format": 2, "shape": [...], "chunks": [...], "dtype": "<u2"}
//	}
type Spec struct {
	Driver  string              `json:"driver"`
	KVStore storage.Spec        `json:"kvstore"`
	Context storage.ContextSpec `json:"context"`

	// Path is the location of the array within the key-value store.
	Path string `json:"path,omitempty"`

	// Metadata is the driver's encoded metadata for arrays being created.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func (s Spec) String() string {
	if s.Path == "" {
		return fmt.Sprintf("%s array in %s", s.Driver, s.KVStore)
	}
	return fmt.Sprintf("%s array %q in %s", s.Driver, s.Path, s.KVStore)
}

// JSON returns the indented JSON form of the spec.
func (s Spec) JSON() string {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
