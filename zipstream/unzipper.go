// Package zipstream implements a streaming ZIP archive reader: reverse
// Central Directory discovery, strict binary record parsing, and a bounded
// DEFLATE decompression pump with progress reporting and cooperative
// cancellation. It is single-threaded and synchronous -- every operation is
// a blocking call driven by the caller's goroutine, and a single Unzipper
// must not be used for two concurrent StreamEntry calls.
package zipstream

import (
	"os"

	"github.com/rs/zerolog"
)

// Unzipper is the external interface of the core: Open an archive, read its
// Central Directory, and stream entries by index or by name. The file
// handle, the loaded CentralDirectory, and any transient per-entry state
// are exclusive to this instance.
type Unzipper struct {
	path     string
	file     *os.File
	fileSize int64
	eocdPos  int64
	cd       *CentralDirectory
	logger   zerolog.Logger
}

// Option configures an Unzipper at construction time.
type Option func(*Unzipper)

// WithLogger attaches a zerolog.Logger used for debug-level tracing of
// archive discovery and parsing. The zero value is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(u *Unzipper) { u.logger = logger }
}

// New returns an unopened Unzipper.
func New(opts ...Option) *Unzipper {
	u := &Unzipper{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Open locates the archive's EOCD record. It does not yet parse the
// Central Directory -- call ReadCentralDirectory for that.
func (u *Unzipper) Open(path string) error {
	if u.file != nil {
		_ = u.file.Close()
		u.file = nil
		u.cd = nil
	}

	f, err := os.Open(path)
	if err != nil {
		return wrapErr(KindCannotOpenZip, err, "failed opening "+path)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return wrapErr(KindCannotOpenZip, err, "failed statting "+path)
	}
	if fi.Size() < eocdFixedLen {
		_ = f.Close()
		return newErr(KindInvalidArchive, "file smaller than the minimum EOCD size")
	}

	eocdPos, err := locateEOCD(newBinReader(f))
	if err != nil {
		_ = f.Close()
		return err
	}

	u.path = path
	u.file = f
	u.fileSize = fi.Size()
	u.eocdPos = eocdPos
	u.logger.Debug().Str("path", path).Int64("eocd_pos", eocdPos).Msg("located EOCD")
	return nil
}

// ReadCentralDirectory loads and validates the Central Directory. It may be
// called repeatedly on an open Unzipper; each call reparses the file from
// scratch and the results compare equal field-wise (spec.md section 8,
// idempotence).
func (u *Unzipper) ReadCentralDirectory() (*CentralDirectory, error) {
	if u.file == nil {
		return nil, newErr(KindMustOpenFirst, "must call Open before ReadCentralDirectory")
	}

	r := newBinReader(u.file)
	eocd, err := readEOCD(r, u.eocdPos)
	if err != nil {
		return nil, wrapErr(KindCannotReadCD, err, "failed reading EOCD")
	}

	cd := &CentralDirectory{
		eocd:     eocd,
		fileSize: u.fileSize,
		eocdPos:  u.eocdPos,
	}
	if err := readCDEntries(r, cd); err != nil {
		return nil, err
	}
	if err := validateCentralDirectory(cd); err != nil {
		return nil, err
	}

	u.cd = cd
	u.logger.Debug().
		Str("path", u.path).
		Int("entries", cd.RecordCount()).
		Msg("loaded central directory")
	return cd, nil
}

// RecordCount returns the number of entries in the currently-loaded
// Central Directory, or 0 if none has been loaded.
func (u *Unzipper) RecordCount() int {
	if u.cd == nil {
		return 0
	}
	return u.cd.RecordCount()
}

// RecordAt returns the entry at index i in on-disk order.
func (u *Unzipper) RecordAt(i int) (*FileEntry, error) {
	if u.cd == nil {
		return nil, newErr(KindMustOpenFirst, "must call ReadCentralDirectory before RecordAt")
	}
	return u.cd.RecordAt(i)
}

// IndexForName performs a case-sensitive, exact-match lookup by name.
func (u *Unzipper) IndexForName(name string) (int, bool) {
	if u.cd == nil {
		return 0, false
	}
	return u.cd.IndexForName(name)
}

// EnumerateRecords invokes fn(record, index) for every entry in order,
// stopping early if fn returns true.
func (u *Unzipper) EnumerateRecords(fn func(entry *FileEntry, index int) (stop bool)) {
	if u.cd == nil {
		return
	}
	u.cd.EnumerateRecords(fn)
}

// CentralDirectory returns the currently-loaded directory, or nil.
func (u *Unzipper) CentralDirectory() *CentralDirectory { return u.cd }

// Close releases the open file handle. A failed StreamEntry or parse
// leaves the file open and the CD intact, so Close is always safe to call
// again on an already-closed Unzipper.
func (u *Unzipper) Close() error {
	if u.file == nil {
		return nil
	}
	err := u.file.Close()
	u.file = nil
	u.cd = nil
	return err
}
