package swift

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ncw/swift"

	"github.com/PolusAI/bfiocpp/bfio"
	"github.com/PolusAI/bfiocpp/storage"
)

const (
	// The maximum number of operations sent to Swift in parallel.
	maxConcurrentOperations = 10

	// The initial delay upon a failure.
	initialDelay = 50 * time.Millisecond

	// The maximum delay after which we give up and an error is returned.
	maximumDelay = 20 * time.Minute
)

// rateLimit is a buffered channel used to limit the number of concurrent
// operations sent to Swift.
var rateLimit = make(chan struct{}, maxConcurrentOperations)

// Engine implements storage.Engine for the Openstack Swift backend.
type Engine struct {
	storage.BaseEngine
}

// NewEngine returns the "swift" engine.
func NewEngine() Engine {
	return Engine{storage.NewBaseEngine("swift", "Openstack Swift object store", "0.1.0")}
}

// NewStore authenticates and returns a store.  The spec path, if given, is a key
// prefix within the container.  The container is created if create is true.
func (e Engine) NewStore(spec storage.Spec, create bool) (storage.KVStore, error) {
	return NewStore(spec.Config, spec.Path, create)
}

// Store implements storage.KVStore as an Openstack Swift store.
type Store struct {
	// The Swift container name.
	container string

	// Key prefix within the container, without trailing slash.
	prefix string

	// The Swift connection.
	conn *swift.Connection
}

func (s *Store) String() string {
	return fmt.Sprintf(`Openstack Swift store, user "%s", container "%s"`, s.conn.UserName, s.container)
}

// Close closes the store.
func (s *Store) Close() error {
	// Nothing to close.
	return nil
}

// connection builds an unauthenticated connection from configuration values.
func connection(config bfio.Config) (conn *swift.Connection, container string, err error) {
	configString := func(param string, required bool) (string, error) {
		value, ok, e := config.GetString(param)
		if !ok {
			if required {
				return "", fmt.Errorf(`Configuration parameter "%s" missing`, param)
			}
			return "", nil
		}
		if e != nil {
			return "", fmt.Errorf(`Error retrieving configuration parameter "%s" (may not be a string): %s`, param, e)
		}
		if value == "" {
			return "", fmt.Errorf(`Configuration parameter "%s" must not be empty`, param)
		}
		return value, nil
	}
	conn = &swift.Connection{}
	if conn.UserName, err = configString("user", true); err != nil {
		return
	}
	if conn.ApiKey, err = configString("key", true); err != nil {
		return
	}
	if conn.AuthUrl, err = configString("auth", true); err != nil {
		return
	}
	if conn.Tenant, err = configString("project", false); err != nil {
		return
	}
	if conn.Tenant != "" {
		conn.AuthVersion = 3
	}
	if conn.TenantDomain, err = configString("domain", false); err != nil {
		return
	}
	container, err = configString("container", true)
	return
}

// NewStore returns a new Swift store.
func NewStore(config bfio.Config, prefix string, create bool) (*Store, error) {
	conn, container, err := connection(config)
	if err != nil {
		return nil, err
	}
	s := &Store{
		container: container,
		prefix:    strings.Trim(prefix, "/"),
		conn:      conn,
	}

	// Authenticate with Swift.
	if err := s.conn.Authenticate(); err != nil {
		return nil, fmt.Errorf(`Unable to authenticate with the Swift database: %s`, err)
	}
	bfio.Infof("Successfully authenticated to Openstack Swift with user \"%s\", container \"%s\" via %s\n", s.conn.UserName, s.container, s.conn.AuthUrl)

	// Check if container exists.
	_, _, err = s.conn.Container(s.container)
	if err == swift.ContainerNotFound {
		if !create {
			return nil, fmt.Errorf(`Swift container "%s": %w`, s.container, storage.ErrNotFound)
		}
		if err = s.conn.ContainerCreate(s.container, nil); err != nil {
			return nil, fmt.Errorf(`Cannot create Swift container "%s": %s`, s.container, err)
		}
		bfio.Infof("Created new container \"%s\"\n", s.container)
	} else if err != nil {
		return nil, fmt.Errorf(`Unable to check if Swift container "%s" exists: %s`, s.container, err)
	}
	return s, nil
}

func (s *Store) objectName(key string) string {
	return encodeKey(storage.JoinKey(s.prefix, key))
}

// retry runs op until it succeeds, returns a permanent error, or the delay between
// attempts exceeds maximumDelay.  Each attempt holds one rateLimit slot.
func retry(ctx context.Context, what string, op func() (done bool, err error)) error {
	delay := initialDelay
	for {
		rateLimit <- struct{}{}
		done, err := op()
		<-rateLimit
		if done {
			return err
		}

		// There was an error. Retry with increasing delays.
		if delay > maximumDelay {
			return fmt.Errorf(`Maximum %s retries exceeded: %s`, what, err)
		}
		bfio.Debugf("Swift %s failed, retrying in %s: %v\n", what, delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// Get retrieves an object for the given key, retrying if there is an error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var contents []byte
	err := retry(ctx, "object download", func() (bool, error) {
		var err error
		contents, err = s.conn.ObjectGetBytes(s.container, s.objectName(key))
		if err == swift.ObjectNotFound {
			return true, fmt.Errorf("%s in %s: %w", key, s, storage.ErrNotFound)
		}
		return err == nil, err
	})
	if err != nil {
		return nil, err
	}
	if contents == nil {
		contents = []byte{}
	}
	return contents, nil
}

// Put writes an object with the given key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return retry(ctx, "object upload", func() (bool, error) {
		err := s.conn.ObjectPutBytes(s.container, s.objectName(key), value, "application/octet-stream")
		return err == nil, err
	})
}

// Delete deletes an object.  Missing objects are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	return retry(ctx, "object deletion", func() (bool, error) {
		err := s.conn.ObjectDelete(s.container, s.objectName(key))
		if err == nil || err == swift.ObjectNotFound {
			return true, nil
		}
		return false, err
	})
}

// List returns the keys with the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := storage.JoinKey(s.prefix, prefix)
	if strings.HasSuffix(prefix, "/") {
		full += "/"
	}
	var names []string
	err := retry(ctx, "object listing", func() (bool, error) {
		var err error
		names, err = s.conn.ObjectNamesAll(s.container, &swift.ObjectsOpts{Prefix: encodeKey(full)})
		return err == nil, err
	})
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, name := range names {
		key, ok := decodeKey(name)
		if !ok {
			continue
		}
		if s.prefix != "" {
			key = strings.TrimPrefix(key, s.prefix+"/")
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
