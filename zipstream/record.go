package zipstream

import "strings"

// Signatures for the three record types spec.md section 6 defines.
const (
	sigLocalFileHeader = 0x04034b50
	sigCentralDirEntry = 0x02014b50
	sigEOCD            = 0x06054b50
)

const (
	methodStore   uint16 = 0
	methodDeflate uint16 = 8
)

// maxSupportedVersionNeeded is the highest "version needed to extract" low
// byte this reader accepts (spec.md section 4.2).
const maxSupportedVersionNeeded = 20

// CompressionLevel is the compression-level hint carried in bits 1-2 of a
// FileEntry's bit flag. It does not affect decompression; it is informational.
type CompressionLevel int

const (
	CompressionDefault CompressionLevel = iota
	CompressionMax
	CompressionFast
	CompressionSuperFast
)

func (l CompressionLevel) String() string {
	switch l {
	case CompressionMax:
		return "max"
	case CompressionFast:
		return "fast"
	case CompressionSuperFast:
		return "super-fast"
	default:
		return "default"
	}
}

// FileEntry is the in-memory form of one archived file, populated from its
// Central Directory entry (spec.md section 3). It is never mutated after
// the Central Directory finishes parsing it, and it carries a non-owning
// back-reference to the CentralDirectory that created it so StreamEntry can
// identity-check ownership (spec.md section 9, Record <-> CD back-reference).
type FileEntry struct {
	versionMadeBy     uint16
	versionNeeded     uint16
	bitFlag           uint16
	compressionMethod uint16
	dosTime           uint16
	dosDate           uint16
	crc32             uint32
	compressedSize    uint32
	uncompressedSize  uint32
	name              []byte
	comment           []byte
	diskStart         uint16
	internalAttrs     uint16
	externalAttrs     uint32
	localHeaderOffset uint32

	cd *CentralDirectory
}

// Name returns the entry's UTF-8 decoded archive path.
func (e *FileEntry) Name() string { return string(e.name) }

// Comment returns the entry's UTF-8 decoded comment, if one was stored.
func (e *FileEntry) Comment() (string, bool) {
	if len(e.comment) == 0 {
		return "", false
	}
	return string(e.comment), true
}

// CompressionLevel derives the compression-level hint from bit_flag bits
// {1,2}. The two bits are tested in the order {super-fast, fast, max}:
// both bits set is super-fast, bit 2 alone is fast, bit 1 alone is max, and
// neither bit set reports as default.
func (e *FileEntry) CompressionLevel() CompressionLevel {
	switch {
	case e.bitFlag&0x6 == 0x6:
		return CompressionSuperFast
	case e.bitFlag&0x4 == 0x4:
		return CompressionFast
	case e.bitFlag&0x2 == 0x2:
		return CompressionMax
	default:
		return CompressionDefault
	}
}

func (e *FileEntry) CompressionMethod() uint16 { return e.compressionMethod }
func (e *FileEntry) CompressedSize() uint32    { return e.compressedSize }
func (e *FileEntry) UncompressedSize() uint32  { return e.uncompressedSize }
func (e *FileEntry) CRC32() uint32             { return e.crc32 }
func (e *FileEntry) VersionNeeded() uint16     { return e.versionNeeded }
func (e *FileEntry) BitFlag() uint16           { return e.bitFlag }
func (e *FileEntry) DOSTime() uint16           { return e.dosTime }
func (e *FileEntry) DOSDate() uint16           { return e.dosDate }
func (e *FileEntry) LocalHeaderOffset() uint32 { return e.localHeaderOffset }

// IsZeroLength reports whether the entry's compressed payload is empty
// (directory entries and zero-byte files both satisfy this).
func (e *FileEntry) IsZeroLength() bool { return e.compressedSize == 0 }

// IsMacOSXMetadata is the pragmatic exemption spec.md section 9 describes:
// archives produced by macOS's Finder/ditto carry a __MACOSX/ sidecar tree
// and .DS_Store files that routinely fail strict validation (unsupported
// version, odd flags) without being a real problem for extraction.
func (e *FileEntry) IsMacOSXMetadata() bool {
	name := e.Name()
	for _, part := range strings.Split(name, "/") {
		if part == "__MACOSX" {
			return true
		}
	}
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		return name[idx+1:] == ".DS_Store"
	}
	return name == ".DS_Store"
}

// Validate checks a single record per spec.md section 4.2. Zero-length and
// macOS-metadata entries are exempt from every other check.
func (e *FileEntry) Validate() error {
	if e.IsZeroLength() || e.IsMacOSXMetadata() {
		return nil
	}
	if e.versionNeeded&0xFF > maxSupportedVersionNeeded {
		return newErrf(KindUnsupportedRecordVersion,
			"entry %q needs version %d, max supported is %d", e.Name(), e.versionNeeded&0xFF, maxSupportedVersionNeeded)
	}
	if e.bitFlag&1 != 0 {
		return newErrf(KindEncryptionNotSupported, "entry %q is encrypted", e.Name())
	}
	if e.compressionMethod != methodDeflate {
		return newErrf(KindCompressionMethodNotSupported,
			"entry %q uses compression method %d, only DEFLATE (8) is supported", e.Name(), e.compressionMethod)
	}
	return nil
}

// EOCD is the End-of-Central-Directory trailer record (spec.md section 3).
type EOCD struct {
	diskNumber    uint16
	cdStartDisk   uint16
	recordsOnDisk uint16
	totalRecords  uint16
	cdSize        uint32
	cdOffset      uint32
	comment       []byte
}

// Comment returns the archive's UTF-8 decoded global comment, if any.
func (e *EOCD) Comment() (string, bool) {
	if len(e.comment) == 0 {
		return "", false
	}
	return string(e.comment), true
}

func (e *EOCD) TotalRecords() uint16 { return e.totalRecords }
func (e *EOCD) CDOffset() uint32     { return e.cdOffset }
func (e *EOCD) CDSize() uint32       { return e.cdSize }
