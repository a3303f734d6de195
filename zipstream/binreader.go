package zipstream

import (
	"encoding/binary"
	"io"
	"os"
)

// Binary Reader: little-endian primitive reads and a bounded reverse
// signature scan over a random-access file. Every field in the ZIP layouts
// described in spec.md section 6 is little-endian; on a big-endian host the
// standard library's binary.LittleEndian already does the byte-swapping, so
// no platform-specific code is needed here.
const (
	signatureLen  = 4
	eocdFixedLen  = 22 // signature + 18 fixed bytes, not counting the comment
	maxCommentLen = 0xFFFF
	scanChunkSize = 4096
)

// binReader wraps an open file with sequential little-endian reads. All
// read methods return false on a short read instead of an error value,
// matching spec.md's "returning false on short reads" contract; the caller
// is responsible for turning that into the appropriate *Error kind.
type binReader struct {
	f *os.File
}

func newBinReader(f *os.File) *binReader {
	return &binReader{f: f}
}

func (r *binReader) seek(off int64) error {
	_, err := r.f.Seek(off, io.SeekStart)
	return err
}

func (r *binReader) pos() (int64, error) {
	return r.f.Seek(0, io.SeekCurrent)
}

func (r *binReader) readUint16() (uint16, bool) {
	var buf [2]byte
	if _, err := io.ReadFull(r.f, buf[:]); err != nil {
		return 0, false
	}
	return binary.LittleEndian.Uint16(buf[:]), true
}

func (r *binReader) readUint32() (uint32, bool) {
	var buf [4]byte
	if _, err := io.ReadFull(r.f, buf[:]); err != nil {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[:]), true
}

func (r *binReader) readBytes(n int) ([]byte, bool) {
	if n == 0 {
		return []byte{}, true
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.f, buf); err != nil {
		return nil, false
	}
	return buf, true
}

func (r *binReader) skip(n int64) bool {
	if n == 0 {
		return true
	}
	_, err := r.f.Seek(n, io.SeekCurrent)
	return err == nil
}

// scanForSignature runs the bounded reverse scan described in spec.md
// section 4.1. It reads backward in page-sized chunks, each overlapping the
// previous by 3 bytes so a signature spanning a chunk boundary is never
// missed, and reports the highest (rightmost) match within the scan window —
// the EOCD locator wants the last such record in the file, in case a
// maliciously or accidentally embedded signature appears earlier in a
// comment.
func (r *binReader) scanForSignature(sig uint32) (int64, bool, error) {
	fi, err := r.f.Stat()
	if err != nil {
		return 0, false, err
	}
	fileSize := fi.Size()

	maxScan := int64(maxCommentLen + eocdFixedLen)
	if fileSize < maxScan {
		maxScan = fileSize
	}

	var sigBytes [4]byte
	binary.LittleEndian.PutUint32(sigBytes[:], sig)

	chunk := make([]byte, scanChunkSize)
	var bytesRead int64
	for bytesRead < maxScan {
		remaining := maxScan - bytesRead
		chunkSize := int64(scanChunkSize)
		if chunkSize > remaining {
			chunkSize = remaining
		}
		if chunkSize < signatureLen {
			return 0, false, nil
		}

		p := fileSize - bytesRead - chunkSize
		buf := chunk[:chunkSize]
		if _, err := r.f.ReadAt(buf, p); err != nil && err != io.EOF {
			return 0, false, err
		}

		for i := int(chunkSize) - signatureLen; i >= 0; i-- {
			if buf[i] == sigBytes[0] && buf[i+1] == sigBytes[1] &&
				buf[i+2] == sigBytes[2] && buf[i+3] == sigBytes[3] {
				return p + int64(i), true, nil
			}
		}

		bytesRead += chunkSize - 3
	}
	return 0, false, nil
}
