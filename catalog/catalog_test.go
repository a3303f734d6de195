package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCacheKey_Deterministic(t *testing.T) {
	mtime := time.Unix(1700000000, 0)
	a := CacheKey("/archives/a.zip", 1234, mtime)
	b := CacheKey("/archives/a.zip", 1234, mtime)
	if a != b {
		t.Fatal("CacheKey should be deterministic for identical inputs")
	}
}

func TestCacheKey_DistinguishesInputs(t *testing.T) {
	mtime := time.Unix(1700000000, 0)
	base := CacheKey("/archives/a.zip", 1234, mtime)
	if CacheKey("/archives/b.zip", 1234, mtime) == base {
		t.Fatal("CacheKey should depend on path")
	}
	if CacheKey("/archives/a.zip", 4321, mtime) == base {
		t.Fatal("CacheKey should depend on size")
	}
	if CacheKey("/archives/a.zip", 1234, mtime.Add(time.Second)) == base {
		t.Fatal("CacheKey should depend on modification time")
	}
}

func TestDB_StoreAndLookup_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	key := CacheKey("/archives/a.zip", 100, time.Unix(1700000000, 0))

	if _, ok, err := db.Lookup(ctx, key); err != nil || ok {
		t.Fatalf("Lookup on empty catalog = (%v, %v), want (false, nil)", ok, err)
	}

	manifest := &Manifest{
		Entries: []ManifestEntry{
			{Name: "hello.txt", CRC32: 0xD8932AAC, CompressedSize: 4, UncompressedSize: 2},
		},
		GlobalComment: "my archive",
	}
	if err := db.Store(ctx, key, "/archives/a.zip", 100, time.Unix(1700000000, 0), manifest); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok, err := db.Lookup(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Lookup after Store = (%v, %v), want (true, nil)", ok, err)
	}
	if len(got.Entries) != 1 || got.Entries[0].Name != "hello.txt" || got.GlobalComment != "my archive" {
		t.Fatalf("got manifest = %+v, want round-tripped value", got)
	}
}

func TestDB_Store_UpsertsOnReinsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	key := CacheKey("/archives/a.zip", 100, time.Unix(1700000000, 0))

	first := &Manifest{Entries: []ManifestEntry{{Name: "old.txt"}}}
	if err := db.Store(ctx, key, "/archives/a.zip", 100, time.Unix(1700000000, 0), first); err != nil {
		t.Fatalf("first Store: %v", err)
	}
	second := &Manifest{Entries: []ManifestEntry{{Name: "new.txt"}}}
	if err := db.Store(ctx, key, "/archives/a.zip", 100, time.Unix(1700000000, 0), second); err != nil {
		t.Fatalf("second Store: %v", err)
	}

	got, ok, err := db.Lookup(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Lookup after reinsert = (%v, %v)", ok, err)
	}
	if len(got.Entries) != 1 || got.Entries[0].Name != "new.txt" {
		t.Fatalf("got = %+v, want the updated manifest to replace the old one", got)
	}
}
