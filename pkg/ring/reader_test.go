package ring

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeValidTrace(t *testing.T, capacity int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "valid.trace")
	st, err := Create(path, capacity)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	st.Append(0x1, 0x2, 1, KindEnter, 0)
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func TestOpenReaderRejectsBadMagic(t *testing.T) {
	path := writeValidTrace(t, 4)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[0] ^= 0xff
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err = OpenReader(path)
	if err == nil || !strings.Contains(err.Error(), "bad magic") {
		t.Errorf("Expected bad magic error, got: %v", err)
	}
}

func TestOpenReaderRejectsUnknownVersion(t *testing.T) {
	path := writeValidTrace(t, 4)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint32(data[offVersion:], Version+1)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err = OpenReader(path)
	if err == nil || !strings.Contains(err.Error(), "unsupported format version") {
		t.Errorf("Expected version error, got: %v", err)
	}
}

func TestOpenReaderRejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.trace")
	if err := os.WriteFile(path, make([]byte, HeaderSize-1), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenReader(path); err == nil {
		t.Error("Expected error for truncated file")
	}
}

func TestOpenReaderRejectsSizeMismatch(t *testing.T) {
	path := writeValidTrace(t, 4)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, append(data, 0x00), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err = OpenReader(path)
	if err == nil || !strings.Contains(err.Error(), "does not match capacity") {
		t.Errorf("Expected size mismatch error, got: %v", err)
	}
}

func TestPeekMatchesReader(t *testing.T) {
	path := writeValidTrace(t, 8)

	capacity, cursor, err := Peek(path)
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}

	if capacity != r.Capacity {
		t.Errorf("Peek capacity = %d, reader = %d", capacity, r.Capacity)
	}
	if cursor != r.Cursor {
		t.Errorf("Peek cursor = %d, reader = %d", cursor, r.Cursor)
	}
}

func TestEntryCodecRoundTrip(t *testing.T) {
	want := Entry{
		TSDelta:  123456789,
		Func:     0xdeadbeefcafe,
		CallSite: 0x400123,
		Writer:   42,
		Kind:     KindExit,
		Depth:    17,
	}

	var buf [EntrySize]byte
	encodeEntry(buf[:], want)
	got := decodeEntry(buf[:])

	if got != want {
		t.Errorf("Round trip mismatch: got %+v, want %+v", got, want)
	}
}
