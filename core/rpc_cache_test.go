package core_test

import (
	"bytes"
	"os"
	"testing"

	core "cwfork/core"
)

const cacheEndpoint = "https://rpc.example.com:443"

func withTempHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func TestCacheRoundTrip(t *testing.T) {
	withTempHome(t)

	cache, err := core.NewFetchCache(cacheEndpoint, 100000)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cache.Write("aaaaaaaa", []byte("bbbbbbbb"), []byte("cccccccc"))
	cache.SetChainID("testing-1")
	cache.SetTimestamp(1_650_000_000_000_000_000)
	if err := cache.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := core.NewFetchCache(cacheEndpoint, 100000)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if !reopened.Initialized() {
		t.Fatal("reopened cache must report initialized")
	}
	value, ok := reopened.Read("aaaaaaaa", []byte("bbbbbbbb"))
	if !ok || !bytes.Equal(value, []byte("cccccccc")) {
		t.Fatalf("round trip: %v %q", ok, value)
	}
	if reopened.ChainID() != "testing-1" || reopened.Timestamp() != 1_650_000_000_000_000_000 {
		t.Fatalf("bootstrap fields lost: %q %d", reopened.ChainID(), reopened.Timestamp())
	}
}

func TestCacheFirstWriteWins(t *testing.T) {
	withTempHome(t)

	cache, err := core.NewFetchCache(cacheEndpoint, 5)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer cache.Close()
	cache.Write("p", []byte("k"), []byte("first"))
	cache.Write("p", []byte("k"), []byte("second"))
	value, _ := cache.Read("p", []byte("k"))
	if !bytes.Equal(value, []byte("first")) {
		t.Fatalf("first write must win: %q", value)
	}
}

func TestCacheScopedByEndpointAndBlock(t *testing.T) {
	withTempHome(t)

	a, err := core.NewFetchCache(cacheEndpoint, 1)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	a.Write("p", []byte("k"), []byte("v"))
	a.Close()

	b, err := core.NewFetchCache(cacheEndpoint, 2)
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()
	if _, ok := b.Read("p", []byte("k")); ok {
		t.Fatal("different block must not share entries")
	}

	entries, err := os.ReadDir(os.Getenv("HOME") + "/.cw-rpc-cache")
	if err != nil {
		t.Fatalf("read cache dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 sidecar files, got %d", len(entries))
	}
	for _, ent := range entries {
		if len(ent.Name()) != 64 {
			t.Fatalf("sidecar name is not sha256 hex: %q", ent.Name())
		}
	}
}
