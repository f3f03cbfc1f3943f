package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aretw0/lineage/pkg/domain"
	"github.com/klauspost/compress/zstd"
)

// CompressedExt marks files written with zstd framing.
const CompressedExt = ".zst"

// zstdEncoder and zstdDecoder are shared; both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("file: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("file: zstd decoder initialization failed: " + err.Error())
	}
}

// Store implements ports.SnapshotSink and ports.SnapshotReader on an
// append-only file.
type Store struct {
	Path       string
	compressed bool

	mu     sync.Mutex
	f      *os.File
	buf    *bufio.Writer
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithCompression forces zstd framing on or off. By default it follows the
// path extension.
func WithCompression(enabled bool) Option {
	return func(s *Store) {
		s.compressed = enabled
	}
}

// New opens (or creates) path for appending.
// If path is empty, it defaults to ".lineage/snapshots.jsonl".
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		path = filepath.Join(".lineage", "snapshots.jsonl")
	}
	s := &Store{Path: path, compressed: strings.HasSuffix(path, CompressedExt)}
	for _, opt := range opts {
		opt(s)
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure snapshot directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	s.f = f
	s.buf = bufio.NewWriter(f)
	return s, nil
}

// Write appends the snapshot's record as one line.
func (s *Store) Write(ctx context.Context, snap *domain.Snapshot) error {
	line, err := json.Marshal(snap.Record())
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot %s: %w", snap.ID(), err)
	}
	line = append(line, '\n')
	if s.compressed {
		line = zstdEncoder.EncodeAll(line, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("write %s: %w", s.Path, os.ErrClosed)
	}
	if _, err := s.buf.Write(line); err != nil {
		return fmt.Errorf("failed to append snapshot %s: %w", snap.ID(), err)
	}
	return nil
}

// Flush pushes buffered records to the file.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.buf.Flush()
}

// Load scans the file for id. Buffered records are flushed first.
func (s *Store) Load(ctx context.Context, id string) (domain.SnapshotRecord, error) {
	if err := s.Flush(); err != nil {
		return domain.SnapshotRecord{}, err
	}
	recs, err := ReadRecords(s.Path)
	if err != nil {
		return domain.SnapshotRecord{}, err
	}
	for _, r := range recs {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.SnapshotRecord{}, domain.ErrSnapshotNotFound
}

// List returns the IDs in the file in append order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	recs, err := ReadRecords(s.Path)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids, nil
}

// Close flushes, fsyncs and closes the file. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.buf.Flush(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("failed to flush snapshot file: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("failed to fsync snapshot file: %w", err)
	}
	return s.f.Close()
}
