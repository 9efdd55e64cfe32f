package record

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache stores parsed records keyed by a record file's identity.
type Cache interface {
	Get(key CacheKey) ([]Record, bool)
	Put(key CacheKey, records []Record) error
}

// CacheKey identifies one version of a record file.
type CacheKey struct {
	Path     string
	Size     int64
	ModTime  int64
	Encoding string
}

// Digest hashes every field of the key.
func (k CacheKey) Digest() [sha256.Size]byte {
	h := sha256.New()
	var buf [8]byte
	h.Write([]byte(k.Path))
	h.Write([]byte{0})
	binary.LittleEndian.PutUint64(buf[:], uint64(k.Size))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(k.ModTime))
	h.Write(buf[:])
	h.Write([]byte(k.Encoding))
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// bump when diskPayload changes shape
const diskCacheSchemaVersion uint16 = 1

type diskPayload struct {
	Schema  uint16
	Path    string
	Records []Record
}

// DiskCache keeps parsed records as msgpack files under one directory.
// Safe for concurrent use.
type DiskCache struct {
	mu  sync.RWMutex
	dir string
}

// OpenDiskCache prepares dir for use. An empty dir selects
// $XDG_CACHE_HOME/lspbase (or ~/.cache/lspbase).
func OpenDiskCache(dir string) (*DiskCache, error) {
	if dir == "" {
		base := os.Getenv("XDG_CACHE_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			base = filepath.Join(home, ".cache")
		}
		dir = filepath.Join(base, "lspbase")
	}
	if err := os.MkdirAll(filepath.Join(dir, "records"), 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir}, nil
}

// Dir returns the cache root.
func (c *DiskCache) Dir() string {
	return c.dir
}

func (c *DiskCache) pathFor(key CacheKey) string {
	digest := key.Digest()
	return filepath.Join(c.dir, "records", hex.EncodeToString(digest[:])+".mp")
}

// Get returns cached records for key. Unreadable or outdated entries are misses.
func (c *DiskCache) Get(key CacheKey) ([]Record, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var payload diskPayload
	if err := msgpack.NewDecoder(f).Decode(&payload); err != nil {
		return nil, false
	}
	if payload.Schema != diskCacheSchemaVersion || payload.Path != key.Path {
		return nil, false
	}
	return payload.Records, true
}

// Put writes records for key, replacing any previous entry atomically.
func (c *DiskCache) Put(key CacheKey, records []Record) (err error) {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(f.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}()

	payload := diskPayload{
		Schema:  diskCacheSchemaVersion,
		Path:    key.Path,
		Records: records,
	}
	if err := msgpack.NewEncoder(f).Encode(&payload); err != nil {
		f.Close()
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// DropAll removes every cached entry.
func (c *DiskCache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	dir := filepath.Join(c.dir, "records")
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}
