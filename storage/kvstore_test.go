package storage_test

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"gocloud.dev/blob/memblob"

	"github.com/PolusAI/bfiocpp/bfio"
	"github.com/PolusAI/bfiocpp/storage"
	"github.com/PolusAI/bfiocpp/storage/badger"
	"github.com/PolusAI/bfiocpp/storage/blob"
	"github.com/PolusAI/bfiocpp/storage/file"
)

// exercise runs the same put, get, list, and delete sequence against a store.
func exercise(t *testing.T, kv storage.KVStore) {
	ctx := context.Background()
	if _, err := kv.Get(ctx, "img.zarr/.zarray"); !storage.IsNotFound(err) {
		t.Fatalf("%s: expected not found for empty store, got %v\n", kv, err)
	}
	values := map[string]string{
		"img.zarr/.zarray": `{"zarr_format":2}`,
		"img.zarr/0.0":     "chunk 0.0",
		"img.zarr/0.1":     "chunk 0.1",
		"img.zarr/1/0":     "nested chunk",
		"other/.zattrs":    "{}",
	}
	for k, v := range values {
		if err := kv.Put(ctx, k, []byte(v)); err != nil {
			t.Fatalf("%s: put %q: %v\n", kv, k, err)
		}
	}
	for k, v := range values {
		got, err := kv.Get(ctx, k)
		if err != nil {
			t.Fatalf("%s: get %q: %v\n", kv, k, err)
		}
		if string(got) != v {
			t.Fatalf("%s: key %q expected %q, got %q\n", kv, k, v, got)
		}
	}
	if err := kv.Put(ctx, "img.zarr/0.0", []byte("replaced")); err != nil {
		t.Fatalf("%s: replace: %v\n", kv, err)
	}
	if got, _ := kv.Get(ctx, "img.zarr/0.0"); string(got) != "replaced" {
		t.Fatalf("%s: expected replaced value, got %q\n", kv, got)
	}

	keys, err := kv.List(ctx, "img.zarr/")
	if err != nil {
		t.Fatalf("%s: list: %v\n", kv, err)
	}
	expected := []string{"img.zarr/.zarray", "img.zarr/0.0", "img.zarr/0.1", "img.zarr/1/0"}
	if !reflect.DeepEqual(keys, expected) {
		t.Fatalf("%s: expected keys %v, got %v\n", kv, expected, keys)
	}

	n, err := storage.DeletePrefix(ctx, kv, "img.zarr/")
	if err != nil || n != 4 {
		t.Fatalf("%s: delete prefix removed %d keys: %v\n", kv, n, err)
	}
	if _, err := kv.Get(ctx, "img.zarr/0.1"); !storage.IsNotFound(err) {
		t.Fatalf("%s: expected deleted key to be gone, got %v\n", kv, err)
	}
	if err := kv.Delete(ctx, "img.zarr/0.1"); err != nil {
		t.Fatalf("%s: deleting missing key should succeed: %v\n", kv, err)
	}
	if keys, _ := kv.List(ctx, ""); len(keys) != 1 || keys[0] != "other/.zattrs" {
		t.Fatalf("%s: unexpected remaining keys %v\n", kv, keys)
	}
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	if _, err := file.NewStore(dir, false); err == nil {
		t.Fatalf("expected opening missing directory without create to fail\n")
	}
	kv, err := file.NewEngine().NewStore(storage.Spec{Driver: "file", Path: dir}, true)
	if err != nil {
		t.Fatalf("couldn't create file store: %v\n", err)
	}
	defer kv.Close()
	exercise(t, kv)

	if _, err := kv.Get(context.Background(), "../escape"); err == nil {
		t.Fatalf("expected key outside the root to fail\n")
	}
}

func TestBlobStore(t *testing.T) {
	kv := blob.NewStore(memblob.OpenBucket(nil), "/plates/")
	defer kv.Close()
	exercise(t, kv)

	// a store opened by URL goes through the registered bucket schemes
	urlStore, err := blob.NewEngine().NewStore(storage.Spec{Driver: "blob", Path: "mem://|a/b"}, true)
	if err != nil {
		t.Fatalf("couldn't open mem bucket: %v\n", err)
	}
	defer urlStore.Close()
	exercise(t, urlStore)
}

func TestBadgerStore(t *testing.T) {
	inMemory := bfio.Config{"InMemory": true}
	kv, err := badger.NewEngine().NewStore(storage.Spec{Driver: "badger", Config: inMemory}, true)
	if err != nil {
		t.Fatalf("couldn't open in-memory badger: %v\n", err)
	}
	exercise(t, kv)
	kv.Close()

	// two prefixes share one database without seeing each other's keys
	dir := t.TempDir()
	kv, err = badger.NewEngine().NewStore(storage.Spec{Driver: "badger", Path: dir + "|first"}, true)
	if err != nil {
		t.Fatalf("couldn't open badger at %s: %v\n", dir, err)
	}
	ctx := context.Background()
	if err := kv.Put(ctx, "key", []byte("first value")); err != nil {
		t.Fatalf("put: %v\n", err)
	}
	if keys, _ := kv.List(ctx, ""); len(keys) != 1 || keys[0] != "key" {
		t.Fatalf("unexpected prefixed keys %v\n", keys)
	}
	kv.Close()

	kv, err = badger.NewEngine().NewStore(storage.Spec{Driver: "badger", Path: dir + "|second"}, false)
	if err != nil {
		t.Fatalf("couldn't reopen badger at %s: %v\n", dir, err)
	}
	defer kv.Close()
	if _, err := kv.Get(ctx, "key"); !storage.IsNotFound(err) {
		t.Fatalf("expected key of other prefix to be invisible, got %v\n", err)
	}
}

func TestSplitAndJoin(t *testing.T) {
	loc, prefix := storage.SplitPath("gs://bucket|/images/plate1.zarr/")
	if loc != "gs://bucket" || prefix != "images/plate1.zarr" {
		t.Fatalf("bad split: %q %q\n", loc, prefix)
	}
	if loc, prefix = storage.SplitPath("/data/db"); loc != "/data/db" || prefix != "" {
		t.Fatalf("bad split without prefix: %q %q\n", loc, prefix)
	}
	if key := storage.JoinKey("", "/a/", "b", "", "c/"); key != "a/b/c" {
		t.Fatalf("bad join: %q\n", key)
	}
}
