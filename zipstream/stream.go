package zipstream

import (
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/flate"
)

// streamBufferSize is the fixed-size uncompressed output buffer the inflate
// pump reads into on every call, bounding memory use regardless of entry
// size (spec.md section 4.4: "Allocate two fixed page-sized buffers").
// klauspost/compress/flate owns the compressed-input-side buffering
// internally; SectionReader plus its own bufio wrapping bounds that side.
const streamBufferSize = 32 * 1024

// SinkFunc receives one contiguous chunk of decompressed bytes with its
// half-open byte range within the entry. Returning stop=true requests early
// termination; returning a non-nil error aborts the stream immediately with
// CannotDecompress.
type SinkFunc func(chunk []byte, rangeStart, rangeEnd int64) (stop bool, err error)

// ProgressFunc is invoked after every chunk is delivered to the sink.
// Returning stop=true requests early termination.
type ProgressFunc func(total, consumed, delta int64) (stop bool)

// locateCompressedData seeks to an entry's local file header, confirms its
// signature, and performs the cheap name_size consistency check spec.md
// section 4.4 specifies, returning the file offset of the first byte of
// compressed payload.
func locateCompressedData(f *os.File, record *FileEntry) (int64, error) {
	r := newBinReader(f)
	if err := r.seek(int64(record.localHeaderOffset)); err != nil {
		return 0, wrapErr(KindCannotReadEntry, err, "failed seeking to local header")
	}
	sig, ok := r.readUint32()
	if !ok || sig != sigLocalFileHeader {
		return 0, newErr(KindCannotReadEntry, "local file header signature mismatch")
	}

	// Skip the fixed 22 bytes following the signature (version, flags,
	// method, dos time/date, crc32, compressed size, uncompressed size).
	// These are redundantly present in the Central Directory entry and are
	// deliberately not re-verified here -- the CD is the source of truth
	// (spec.md section 9, "the 22-byte skip").
	if !r.skip(22) {
		return 0, newErr(KindCannotReadEntry, "short read skipping local header fixed fields")
	}

	nameSize, ok := r.readUint16()
	if !ok {
		return 0, newErr(KindCannotReadEntry, "short read on local header name_size")
	}
	extraSize, ok := r.readUint16()
	if !ok {
		return 0, newErr(KindCannotReadEntry, "short read on local header extra_field_size")
	}
	if int(nameSize) != len(record.name) {
		return 0, newErrf(KindCannotReadEntry,
			"local header name length %d does not match central directory name length %d", nameSize, len(record.name))
	}
	if !r.skip(int64(nameSize) + int64(extraSize)) {
		return 0, newErr(KindCannotReadEntry, "short read skipping local header name/extra field")
	}

	pos, err := r.pos()
	if err != nil {
		return 0, wrapErr(KindCannotReadEntry, err, "failed reading file position")
	}
	return pos, nil
}

// StreamEntry implements spec.md section 4.4 end to end: precondition
// checks, local-header confirmation, the bounded DEFLATE pump, and CRC
// verification. Bytes are delivered to sink strictly in increasing,
// contiguous, non-overlapping order; the running CRC is updated before
// each sink invocation, so observing a chunk is a witness that it
// contributed to the checksum.
func (u *Unzipper) StreamEntry(record *FileEntry, progress ProgressFunc, sink SinkFunc) error {
	if u.file == nil {
		return newErr(KindMustOpenFirst, "must call Open before StreamEntry")
	}
	if u.cd == nil || record == nil || record.cd != u.cd {
		return newErr(KindCannotReadEntry, "record does not belong to the currently-loaded central directory")
	}

	dataStart, err := locateCompressedData(u.file, record)
	if err != nil {
		return err
	}

	if record.compressedSize == 0 {
		if record.uncompressedSize != 0 {
			return newErr(KindCannotDecompress, "zero compressed size but non-zero uncompressed size")
		}
		// spec.md boundary behavior: a zero-length entry streams zero bytes
		// and succeeds without invoking the sink at all.
		return nil
	}

	section := io.NewSectionReader(u.file, dataStart, int64(record.compressedSize))
	fr := flate.NewReader(section)
	defer fr.Close()

	outBuf := make([]byte, streamBufferSize)
	crc := crc32.NewIEEE()
	var consumed int64
	stopped := false
	streamEnded := false

	total := int64(record.uncompressedSize)
	for {
		n, rerr := fr.Read(outBuf)
		if n > 0 {
			chunk := outBuf[:n]
			crc.Write(chunk)
			start := consumed
			consumed += int64(n)

			stop, serr := sink(chunk, start, consumed)
			if serr != nil {
				return wrapErr(KindCannotDecompress, serr, "sink callback failed")
			}
			if stop {
				stopped = true
			}
			if progress != nil && progress(total, consumed, int64(n)) {
				stopped = true
			}
		}

		if rerr == io.EOF {
			streamEnded = true
			break
		}
		if rerr != nil {
			return wrapErr(KindCannotDecompress, rerr, "inflate failed")
		}
		if stopped {
			// A callback asked to stop but the decoder has not reported
			// STREAM_END yet. Peek one more read without delivering it to
			// the sink: if the stream happens to end exactly here, this is
			// a clean success-with-early-termination; otherwise it is a
			// genuine cancellation before STREAM_END.
			var probe [1]byte
			pn, perr := fr.Read(probe[:])
			streamEnded = pn == 0 && perr == io.EOF
			break
		}
	}

	if !streamEnded {
		return newErr(KindCannotDecompress, "stream cancelled before reaching end of entry")
	}
	if consumed != total {
		return newErrf(KindCannotDecompress, "decompressed %d bytes, expected %d", consumed, total)
	}
	if crc.Sum32() != record.crc32 {
		return newErrf(KindCannotDecompress, "crc32 mismatch: got 0x%08x, expected 0x%08x", crc.Sum32(), record.crc32)
	}
	return nil
}
