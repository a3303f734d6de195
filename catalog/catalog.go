// Package catalog caches parsed Central Directories so that re-opening the
// same unchanged archive -- the CLI re-run, the HTTP server re-serving the
// same artifact -- does not re-walk and re-validate every record every time.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	"github.com/zipwalk/zipwalk/zipstream"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a SQLite connection holding the archive manifest cache.
type DB struct {
	*sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens (creating if necessary) the catalog database at filePath and
// brings its schema up to date, mirroring the embed.FS + golang-migrate +
// sqlite3 driver wiring the teacher's own database layer uses.
func Open(filePath string, logger zerolog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite3", filePath+"?_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "failed opening catalog database")
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate iofs source failed: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrate sqlite3 driver failed: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate creation failed: %w", err)
	}

	v, _, err := m.Version()
	if err != nil && !stderrors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("catalog schema version failed: %w", err)
	}
	logger.Debug().Uint("schema_version", uint(v)).Msg("catalog schema version before migrations")

	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("catalog migrations failed: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed constructing zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed constructing zstd decoder")
	}

	return &DB{DB: db, enc: enc, dec: dec}, nil
}

// CacheKey derives the manifest cache key from an archive's path, size, and
// modification time -- the same blake3 content-addressing decompal used for
// report units in common/serialized.go, repurposed here to key a manifest
// instead of a protobuf blob.
func CacheKey(path string, size int64, modTime time.Time) [32]byte {
	h := blake3.New()
	_, _ = h.Write([]byte(path))
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(size))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(modTime.UnixNano()))
	_, _ = h.Write(buf[:])
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}

// ManifestEntry is the cacheable projection of a zipstream.FileEntry -- only
// what a listing needs, not the full record.
type ManifestEntry struct {
	Name             string `json:"name"`
	CRC32            uint32 `json:"crc32"`
	CompressedSize   uint32 `json:"compressed_size"`
	UncompressedSize uint32 `json:"uncompressed_size"`
}

// Manifest is the cached summary of one archive's Central Directory.
type Manifest struct {
	Entries       []ManifestEntry `json:"entries"`
	GlobalComment string          `json:"global_comment,omitempty"`
}

// BuildManifest projects a freshly parsed CentralDirectory into a Manifest.
// Relies on CentralDirectory invariant 5 (idempotence): two parses of the
// same unchanged archive compare equal field-wise, which is exactly what
// makes a cached manifest interchangeable with a freshly parsed one.
func BuildManifest(cd *zipstream.CentralDirectory) *Manifest {
	manifest := &Manifest{Entries: make([]ManifestEntry, 0, cd.RecordCount())}
	cd.EnumerateRecords(func(e *zipstream.FileEntry, _ int) bool {
		manifest.Entries = append(manifest.Entries, ManifestEntry{
			Name:             e.Name(),
			CRC32:            e.CRC32(),
			CompressedSize:   e.CompressedSize(),
			UncompressedSize: e.UncompressedSize(),
		})
		return false
	})
	if comment, ok := cd.GlobalComment(); ok {
		manifest.GlobalComment = comment
	}
	return manifest
}

// Lookup returns the cached manifest for key, if present.
func (db *DB) Lookup(ctx context.Context, key [32]byte) (*Manifest, bool, error) {
	row := db.QueryRowContext(ctx, `SELECT manifest FROM archives WHERE cache_key = ?`, key[:])
	var compressed []byte
	if err := row.Scan(&compressed); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "failed querying catalog")
	}
	data, err := db.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed decompressing cached manifest")
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, false, errors.Wrap(err, "failed decoding cached manifest")
	}
	return &manifest, true, nil
}

// Store writes (or refreshes) the manifest cached under key.
func (db *DB) Store(
	ctx context.Context,
	key [32]byte,
	path string,
	size int64,
	modTime time.Time,
	manifest *Manifest,
) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return errors.Wrap(err, "failed encoding manifest")
	}
	compressed := db.enc.EncodeAll(data, nil)
	_, err = db.ExecContext(
		ctx,
		`INSERT INTO archives (cache_key, path, size, mod_time, manifest, cached_at)
		 VALUES (?, ?, ?, ?, ?, current_timestamp)
		 ON CONFLICT(cache_key) DO UPDATE SET
		     path = EXCLUDED.path,
		     size = EXCLUDED.size,
		     mod_time = EXCLUDED.mod_time,
		     manifest = EXCLUDED.manifest,
		     cached_at = EXCLUDED.cached_at`,
		key[:], path, size, modTime.UnixNano(), compressed,
	)
	if err != nil {
		return errors.Wrap(err, "failed storing manifest")
	}
	return nil
}

// Close releases the underlying database connection and zstd resources.
func (db *DB) Close() error {
	db.dec.Close()
	_ = db.enc.Close()
	return db.DB.Close()
}
