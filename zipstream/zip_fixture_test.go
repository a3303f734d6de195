package zipstream

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"hash/crc32"
	"os"
	"testing"
)

// fixtureEntry describes one file to embed in a hand-built test archive.
// Building archives with the standard library's archive/zip would be
// circular -- zipstream is the thing under test -- so these fixtures are
// assembled field by field against the exact layouts spec.md section 6
// defines, the same way the teacher package's own tests exercise its
// readBuf-based parser against raw bytes rather than library output.
type fixtureEntry struct {
	name    string
	data    []byte
	bitFlag uint16
	method  uint16 // not read by buildZip; the method written is chosen by store
	store   bool   // true writes the payload as STORE (method 0), false as DEFLATE
}

func deflateRaw(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatalf("flate.NewWriter: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("flate write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("flate close: %v", err)
	}
	return buf.Bytes()
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// buildZip assembles a complete single-disk archive: one local header plus
// payload per entry, followed by the central directory and EOCD, and
// returns the raw archive bytes.
func buildZip(t *testing.T, entries []fixtureEntry, globalComment string) []byte {
	t.Helper()
	var out bytes.Buffer

	type placed struct {
		fixtureEntry
		offset         uint32
		compressed     []byte
		compressedCRC  uint32
		uncompressedSz uint32
	}
	placedEntries := make([]placed, 0, len(entries))

	for _, e := range entries {
		method := uint16(methodDeflate)
		var payload []byte
		if e.store {
			method = methodStore
			payload = e.data
		} else {
			payload = deflateRaw(t, e.data)
		}
		crc := crc32.ChecksumIEEE(e.data)

		offset := uint32(out.Len())
		out.Write(le32(sigLocalFileHeader))
		out.Write(le16(20))       // version needed
		out.Write(le16(e.bitFlag)) // bit flag
		out.Write(le16(method))
		out.Write(le16(0)) // dos time
		out.Write(le16(0)) // dos date
		out.Write(le32(crc))
		out.Write(le32(uint32(len(payload))))
		out.Write(le32(uint32(len(e.data))))
		out.Write(le16(uint16(len(e.name))))
		out.Write(le16(0)) // extra field size
		out.WriteString(e.name)
		out.Write(payload)

		placedEntries = append(placedEntries, placed{
			fixtureEntry:   e,
			offset:         offset,
			compressed:     payload,
			compressedCRC:  crc,
			uncompressedSz: uint32(len(e.data)),
		})
	}

	cdStart := uint32(out.Len())
	for _, p := range placedEntries {
		method := uint16(methodDeflate)
		if p.store {
			method = methodStore
		}
		out.Write(le32(sigCentralDirEntry))
		out.Write(le16(20)) // version made by
		out.Write(le16(20)) // version needed
		out.Write(le16(p.bitFlag))
		out.Write(le16(method))
		out.Write(le16(0)) // dos time
		out.Write(le16(0)) // dos date
		out.Write(le32(p.compressedCRC))
		out.Write(le32(uint32(len(p.compressed))))
		out.Write(le32(p.uncompressedSz))
		out.Write(le16(uint16(len(p.name))))
		out.Write(le16(0)) // extra field size
		out.Write(le16(0)) // comment size
		out.Write(le16(0)) // disk start
		out.Write(le16(0)) // internal attrs
		out.Write(le32(0)) // external attrs
		out.Write(le32(p.offset))
		out.WriteString(p.name)
	}
	cdSize := uint32(out.Len()) - cdStart

	out.Write(le32(sigEOCD))
	out.Write(le16(0)) // disk number
	out.Write(le16(0)) // cd start disk
	out.Write(le16(uint16(len(placedEntries))))
	out.Write(le16(uint16(len(placedEntries))))
	out.Write(le32(cdSize))
	out.Write(le32(cdStart))
	out.Write(le16(uint16(len(globalComment))))
	out.WriteString(globalComment)

	return out.Bytes()
}

// writeTempZip writes data to a new temp file and returns its path.
func writeTempZip(t *testing.T, data []byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "fixture-*.zip")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return f.Name()
}
