package core

// FetchCache memoizes remote reads on disk so a (endpoint, block) pair is
// fetched from the network at most once per key, ever. The sidecar is an
// rlp-encoded file; entries are flattened to a sorted list because rlp has
// no map form, which also keeps the file byte-deterministic.

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/sirupsen/logrus"

	"cwfork/pkg/utils"
)

const rpcCacheDirName = ".cw-rpc-cache"

type cacheKey struct {
	path string
	data string
}

type cacheEntry struct {
	Path  string
	Data  []byte
	Value []byte
}

type cacheFile struct {
	ChainID   string
	Timestamp uint64
	Entries   []cacheEntry
}

// FetchCache is a read-through, write-through memoizer scoped to one
// (endpoint, block) pair. Close flushes it to disk.
type FetchCache struct {
	mu sync.Mutex

	db          map[cacheKey][]byte
	chainID     string
	timestamp   uint64
	initialized bool

	fileName string
	file     *os.File
}

func sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func rwopen(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
}

// cacheDir resolves the cache directory, falling back to /tmp when HOME is
// unset.
func cacheDir() string {
	home := utils.EnvOrDefault("HOME", "/tmp")
	return filepath.Join(home, rpcCacheDirName)
}

// NewFetchCache opens (or creates) the sidecar for endpoint at block.
func NewFetchCache(endpoint string, blockNumber uint64) (*FetchCache, error) {
	dir := cacheDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errCache("create cache dir", err)
	}
	fileName := filepath.Join(dir, sha256Hex(fmt.Sprintf("%s||%d", endpoint, blockNumber)))

	c := &FetchCache{
		db:       make(map[cacheKey][]byte),
		fileName: fileName,
	}
	file, err := rwopen(fileName)
	if err != nil {
		return nil, errCache("open cache file", err)
	}
	c.file = file

	contents, err := io.ReadAll(file)
	if err != nil {
		file.Close()
		return nil, errCache("read cache file", err)
	}
	if len(contents) > 0 {
		var decoded cacheFile
		if err := rlp.DecodeBytes(contents, &decoded); err != nil {
			file.Close()
			return nil, errCache("decode cache file", err)
		}
		for _, ent := range decoded.Entries {
			c.db[cacheKey{path: ent.Path, data: string(ent.Data)}] = ent.Value
		}
		c.chainID = decoded.ChainID
		c.timestamp = decoded.Timestamp
		c.initialized = true
		logrus.Debugf("fetch cache: loaded %d entries from %s", len(decoded.Entries), fileName)
	}
	return c, nil
}

// Initialized reports whether a non-empty sidecar was loaded when the cache
// was opened.
func (c *FetchCache) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Read returns the memoized response for (path, data), if any.
func (c *FetchCache) Read(path string, data []byte) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.db[cacheKey{path: path, data: string(data)}]
	return v, ok
}

// Write memoizes a response. The first write for a key wins; later writes
// for the same key are ignored so replay stays deterministic.
func (c *FetchCache) Write(path string, data, response []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey{path: path, data: string(data)}
	if _, ok := c.db[key]; ok {
		return
	}
	c.db[key] = append([]byte(nil), response...)
}

// ChainID returns the cached chain id, empty when not yet recorded.
func (c *FetchCache) ChainID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chainID
}

// SetChainID records the chain id for bootstrap without a round-trip.
func (c *FetchCache) SetChainID(chainID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chainID = chainID
}

// Timestamp returns the cached block timestamp in unix nanoseconds.
func (c *FetchCache) Timestamp() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timestamp
}

// SetTimestamp records the pinned block's timestamp.
func (c *FetchCache) SetTimestamp(ns uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timestamp = ns
}

// Save serializes the cache back into the sidecar.
func (c *FetchCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]cacheEntry, 0, len(c.db))
	for key, value := range c.db {
		entries = append(entries, cacheEntry{Path: key.path, Data: []byte(key.data), Value: value})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Path != entries[j].Path {
			return entries[i].Path < entries[j].Path
		}
		return string(entries[i].Data) < string(entries[j].Data)
	})
	encoded, err := rlp.EncodeToBytes(&cacheFile{
		ChainID:   c.chainID,
		Timestamp: c.timestamp,
		Entries:   entries,
	})
	if err != nil {
		return errCache("encode cache file", err)
	}
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return errCache("seek cache file", err)
	}
	if err := c.file.Truncate(0); err != nil {
		return errCache("truncate cache file", err)
	}
	if _, err := c.file.Write(encoded); err != nil {
		return errCache("write cache file", err)
	}
	return c.file.Sync()
}

// Close saves and releases the sidecar.
func (c *FetchCache) Close() error {
	if err := c.Save(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}
