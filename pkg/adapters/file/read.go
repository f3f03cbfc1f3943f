package file

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/lineage/pkg/domain"
)

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// maxLine bounds a single JSON line (records carrying large kwargs).
const maxLine = 16 << 20

// ReadRecords reads every record from a file written by Store, plain or
// compressed. The format is detected from content, not the extension.
func ReadRecords(path string) ([]domain.SnapshotRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	return DecodeRecords(data)
}

// DecodeRecords parses JSON Lines, decompressing first if data is zstd.
func DecodeRecords(data []byte) ([]domain.SnapshotRecord, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		plain, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		data = plain
	}
	return scan(bytes.NewReader(data))
}

func scan(r io.Reader) ([]domain.SnapshotRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	var out []domain.SnapshotRecord
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var rec domain.SnapshotRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("line %d: failed to unmarshal record: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan snapshot file: %w", err)
	}
	return out, nil
}
