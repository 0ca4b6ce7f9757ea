package backup

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Format version constants.
const (
	// FormatV1 is a plain indented JSON snapshot, readable by hand.
	FormatV1 = 1
	// FormatV2 is a header line followed by a gzip-compressed payload with
	// a sha256 checksum in the header.
	FormatV2 = 2
)

// MaxDecompressedSize caps the decompressed payload (200MB).
const MaxDecompressedSize = 200 * 1024 * 1024

// SnapshotHeader is the plain-text first line of a V2 snapshot file.
type SnapshotHeader struct {
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	Checksum        string    `json:"checksum"`
	PostCount       int       `json:"post_count"`
	EscalationCount int       `json:"escalation_count"`
	Compressed      bool      `json:"compressed"`
}

// DetectFormat reads the first line of a file to determine V1 vs V2.
// V2 files start with a header line carrying "version":2; V1 files are plain
// JSON starting with '{'.
func DetectFormat(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return 0, fmt.Errorf("reading first line: %w", err)
		}
		return 0, fmt.Errorf("file is empty")
	}

	firstLine := strings.TrimSpace(scanner.Text())
	if firstLine == "" {
		return 0, fmt.Errorf("first line is empty")
	}

	var header SnapshotHeader
	if err := json.Unmarshal([]byte(firstLine), &header); err == nil {
		if header.Version == FormatV2 {
			return FormatV2, nil
		}
	}

	if firstLine[0] == '{' {
		return FormatV1, nil
	}

	return 0, fmt.Errorf("unrecognized snapshot format")
}

// writeV2 writes a snapshot as a V2 file: header line + gzip payload.
// The file lands atomically via temp file + rename.
func writeV2(path string, snap *SnapshotFormat) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.DefaultCompression)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gzw.Write(payload); err != nil {
		return fmt.Errorf("compressing payload: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}

	hash := sha256.Sum256(compressed.Bytes())
	header := SnapshotHeader{
		Version:         FormatV2,
		CreatedAt:       snap.CreatedAt,
		Checksum:        "sha256:" + hex.EncodeToString(hash[:]),
		PostCount:       len(snap.Posts),
		EscalationCount: len(snap.Escalations),
		Compressed:      true,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	var file bytes.Buffer
	file.Write(headerBytes)
	file.WriteByte('\n')
	file.Write(compressed.Bytes())

	return atomicWrite(path, file.Bytes())
}

// writeV1 writes a snapshot as plain indented JSON.
func writeV1(path string, snap *SnapshotFormat) error {
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	return atomicWrite(path, append(payload, '\n'))
}

// atomicWrite lands data at path via temp file + rename so a crashed write
// never leaves a truncated snapshot.
func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// readV2 reads a V2 snapshot, verifies the checksum, and decompresses.
func readV2(path string) (*SnapshotFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	headerLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}

	var header SnapshotHeader
	if err := json.Unmarshal(bytes.TrimSpace(headerLine), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatV2 {
		return nil, fmt.Errorf("expected V2 format, got version %d", header.Version)
	}

	compressedData, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading compressed payload: %w", err)
	}

	hash := sha256.Sum256(compressedData)
	actual := "sha256:" + hex.EncodeToString(hash[:])
	if actual != header.Checksum {
		return nil, fmt.Errorf("checksum mismatch: expected %s, got %s", header.Checksum, actual)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	limited := io.LimitReader(gzr, MaxDecompressedSize+1)
	decompressed, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if int64(len(decompressed)) > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}

	var snap SnapshotFormat
	if err := json.Unmarshal(decompressed, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot data: %w", err)
	}
	return &snap, nil
}

// readV1 reads a plain JSON snapshot.
func readV1(path string) (*SnapshotFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	var snap SnapshotFormat
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot data: %w", err)
	}
	return &snap, nil
}

// ReadHeader reads only the header line from a V2 snapshot without
// decompressing the payload.
func ReadHeader(path string) (*SnapshotHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	headerLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}

	var header SnapshotHeader
	if err := json.Unmarshal(bytes.TrimSpace(headerLine), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatV2 {
		return nil, fmt.Errorf("expected V2 format, got version %d", header.Version)
	}
	return &header, nil
}

// VerifyChecksum checks the integrity of a V2 snapshot without full
// decompression.
func VerifyChecksum(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	headerLine, err := reader.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("reading header line: %w", err)
	}

	var header SnapshotHeader
	if err := json.Unmarshal(bytes.TrimSpace(headerLine), &header); err != nil {
		return fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatV2 {
		return fmt.Errorf("checksum verification only supported for V2 format (got version %d)", header.Version)
	}

	compressedData, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("reading compressed payload: %w", err)
	}

	hash := sha256.Sum256(compressedData)
	actual := "sha256:" + hex.EncodeToString(hash[:])
	if actual != header.Checksum {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", header.Checksum, actual)
	}
	return nil
}
