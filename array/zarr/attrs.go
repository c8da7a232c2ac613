package zarr

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PolusAI/bfiocpp/bfio"
	"github.com/PolusAI/bfiocpp/storage"
)

// arrayDimensionsAttr is the xarray convention for naming v2 dimensions.
const arrayDimensionsAttr = "_ARRAY_DIMENSIONS"

// AxisLabels returns the axis letters stored with an array, e.g., "TCZYX", or ""
// if none are stored or the stored names are not single axis letters.  Sources are,
// in order: v3 dimension_names, _ARRAY_DIMENSIONS, then the axes of the first
// OME-NGFF multiscale image.
func AxisLabels(ctx context.Context, rctx *storage.Context, kv storage.KVStore, d *Driver) (string, error) {
	md, err := d.current()
	if err != nil {
		return "", err
	}
	if d.format == V3 {
		if labels := labelsFromNames(md.dimNames); labels != "" {
			return labels, nil
		}
	}
	attrs := md.attributes
	if d.format == V2 {
		raw, err := rctx.Get(ctx, kv, d.AttributesKey())
		if storage.IsNotFound(err) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		if err := json.Unmarshal(raw, &attrs); err != nil {
			return "", &bfio.InvalidMetadataError{Key: d.AttributesKey(), Err: err}
		}
	}
	if names, ok := attrs[arrayDimensionsAttr].([]interface{}); ok {
		if labels := labelsFromNames(stringsOf(names)); labels != "" {
			return labels, nil
		}
	}
	return multiscaleLabels(attrs), nil
}

// multiscaleLabels reads multiscales[0].axes, which is a list of names or of
// objects with a "name".
func multiscaleLabels(attrs map[string]interface{}) string {
	multiscales, ok := attrs["multiscales"].([]interface{})
	if !ok || len(multiscales) == 0 {
		return ""
	}
	first, ok := multiscales[0].(map[string]interface{})
	if !ok {
		return ""
	}
	axes, ok := first["axes"].([]interface{})
	if !ok {
		return ""
	}
	var names []string
	for _, axis := range axes {
		switch a := axis.(type) {
		case string:
			names = append(names, a)
		case map[string]interface{}:
			name, _ := a["name"].(string)
			names = append(names, name)
		default:
			return ""
		}
	}
	return labelsFromNames(names)
}

func stringsOf(values []interface{}) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i], _ = v.(string)
	}
	return out
}

func labelsFromNames(names []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	for _, name := range names {
		if len(name) != 1 || !strings.ContainsAny(strings.ToUpper(name), "TCZYX") {
			if name != "" {
				bfio.Debugf("Ignoring stored dimension names %v: %q is not an axis letter\n", names, name)
			}
			return ""
		}
		b.WriteString(strings.ToUpper(name))
	}
	return b.String()
}

// WriteAxisLabels stores lowercase axis names with the array: as _ARRAY_DIMENSIONS
// for v2, and within the metadata for v3 where they were set at creation.
func WriteAxisLabels(ctx context.Context, rctx *storage.Context, kv storage.KVStore, d *Driver, labels string) error {
	if d.format != V2 || labels == "" {
		return nil
	}
	attrs := make(map[string]interface{})
	raw, err := rctx.Get(ctx, kv, d.AttributesKey())
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &attrs); err != nil {
			return &bfio.InvalidMetadataError{Key: d.AttributesKey(), Err: err}
		}
	case !storage.IsNotFound(err):
		return err
	}
	attrs[arrayDimensionsAttr] = AxisNames(labels)
	if raw, err = json.MarshalIndent(attrs, "", "    "); err != nil {
		return err
	}
	return rctx.Put(ctx, kv, d.AttributesKey(), raw)
}

// AxisNames returns the lowercase dimension names for axis labels like "CZYX".
func AxisNames(labels string) []string {
	names := make([]string, len(labels))
	for i, r := range strings.ToLower(labels) {
		names[i] = string(r)
	}
	return names
}
