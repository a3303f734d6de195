package zipstream

import (
	"encoding/binary"
	"os"
	"strings"
	"testing"
)

func writeRaw(t *testing.T, data []byte) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "raw-*.bin")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	if _, err := f.Write(data); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return f
}

func TestScanForSignature_FindsRightmostMatch(t *testing.T) {
	sig := uint32(sigEOCD)
	var sigBytes [4]byte
	binary.LittleEndian.PutUint32(sigBytes[:], sig)

	data := make([]byte, 0, 200)
	data = append(data, make([]byte, 50)...)
	data = append(data, sigBytes[:]...) // a decoy earlier in the file
	data = append(data, make([]byte, 50)...)
	data = append(data, sigBytes[:]...) // the real trailing record
	data = append(data, make([]byte, 18)...)

	f := writeRaw(t, data)
	r := newBinReader(f)
	pos, found, err := r.scanForSignature(sig)
	if err != nil {
		t.Fatalf("scanForSignature: %v", err)
	}
	if !found {
		t.Fatal("expected signature to be found")
	}
	want := int64(54 + 50)
	if pos != want {
		t.Fatalf("pos = %d, want %d (rightmost match)", pos, want)
	}
}

func TestScanForSignature_NotFound(t *testing.T) {
	data := make([]byte, 100)
	f := writeRaw(t, data)
	r := newBinReader(f)
	_, found, err := r.scanForSignature(sigEOCD)
	if err != nil {
		t.Fatalf("scanForSignature: %v", err)
	}
	if found {
		t.Fatal("expected signature not to be found")
	}
}

func TestScanForSignature_SpansChunkBoundary(t *testing.T) {
	sig := uint32(sigEOCD)
	var sigBytes [4]byte
	binary.LittleEndian.PutUint32(sigBytes[:], sig)

	// Without the 3-byte overlap between successive backward reads, a
	// signature straddling the boundary between two non-overlapping chunks
	// would have its first two bytes visible only to the lower-offset read
	// and its last two only to the higher-offset one, and neither read
	// alone would match the 4-byte pattern. Place the signature exactly on
	// that boundary: with chunkSize=scanChunkSize, the unextended chunk
	// split falls at fileSize-scanChunkSize.
	fileSize := 3 * scanChunkSize
	sigPos := fileSize - scanChunkSize - 2

	data := make([]byte, fileSize)
	copy(data[sigPos:], sigBytes[:])

	f := writeRaw(t, data)
	r := newBinReader(f)
	pos, found, err := r.scanForSignature(sig)
	if err != nil {
		t.Fatalf("scanForSignature: %v", err)
	}
	if !found {
		t.Fatal("expected signature spanning the chunk boundary to be found via the 3-byte overlap")
	}
	if pos != int64(sigPos) {
		t.Fatalf("pos = %d, want %d", pos, sigPos)
	}
}

// The EOCD comment field can be up to 0xFFFF bytes; the scan window must
// still reach the signature that precedes it.
func TestEndToEnd_MaxLengthGlobalComment(t *testing.T) {
	comment := strings.Repeat("c", maxCommentLen)
	data := buildZip(t, []fixtureEntry{{name: "a.txt", data: []byte("x")}}, comment)
	u := openFixture(t, data)
	cd, err := u.ReadCentralDirectory()
	if err != nil {
		t.Fatalf("ReadCentralDirectory: %v", err)
	}
	got, ok := cd.GlobalComment()
	if !ok || len(got) != maxCommentLen {
		t.Fatalf("GlobalComment length = %d, ok=%v, want %d, true", len(got), ok, maxCommentLen)
	}
}
