/*
	Package blob implements a key-value store over a gocloud.dev bucket, so arrays can
	live in memory ("mem://"), on disk ("file:///path"), in Google Cloud Storage
	("gs://bucket") or S3 ("s3://bucket").  A path inside the bucket may follow the
	bucket URL after a "|" separator, e.g., "gs://bucket|images/plate1.zarr".
*/
package blob

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/PolusAI/bfiocpp/bfio"
	"github.com/PolusAI/bfiocpp/storage"
)

// Engine constructs bucket-backed stores.
type Engine struct {
	storage.BaseEngine
}

// NewEngine returns the "blob" engine.
func NewEngine() Engine {
	return Engine{storage.NewBaseEngine("blob", "Cloud bucket key value store", "0.1.0")}
}

// NewStore opens the bucket given by spec.Path.
func (e Engine) NewStore(spec storage.Spec, create bool) (storage.KVStore, error) {
	bucketURL, prefix := storage.SplitPath(spec.Path)
	return Open(context.Background(), bucketURL, prefix)
}

// Store is a bucket-backed key-value store with all keys under an optional prefix.
type Store struct {
	url    string
	prefix string
	bucket *blob.Bucket
}

// Open returns a store over an opened bucket.
func Open(ctx context.Context, bucketURL, prefix string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("unable to open bucket %q: %v", bucketURL, err)
	}
	bfio.Debugf("Opened bucket %q with prefix %q\n", bucketURL, prefix)
	return &Store{url: bucketURL, prefix: prefix, bucket: bucket}, nil
}

// NewStore wraps an already opened bucket, e.g., a memblob bucket for tests.
func NewStore(bucket *blob.Bucket, prefix string) *Store {
	return &Store{url: "bucket", prefix: strings.Trim(prefix, "/"), bucket: bucket}
}

func (s *Store) String() string {
	if s.prefix == "" {
		return fmt.Sprintf("blob store @ %s", s.url)
	}
	return fmt.Sprintf("blob store @ %s/%s", s.url, s.prefix)
}

func (s *Store) fullKey(key string) string {
	return storage.JoinKey(s.prefix, key)
}

// Get returns a value given a key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, s.fullKey(key))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%s in %s: %w", key, s, storage.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

// Put writes a value with given key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return s.bucket.WriteAll(ctx, s.fullKey(key), value, nil)
}

// Delete removes a value with given key.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, s.fullKey(key))
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return err
	}
	return nil
}

// List returns keys with the given prefix, relative to the store prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := prefix
	if s.prefix != "" {
		full = s.prefix + "/" + prefix
	}
	var keys []string
	iter := s.bucket.List(&blob.ListOptions{Prefix: full})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if obj.IsDir {
			continue
		}
		key := obj.Key
		if s.prefix != "" {
			key = strings.TrimPrefix(key, s.prefix+"/")
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}
