// Package snapshot implements the pluggable stats-snapshot backend named in
// spec §6 ("Persisted state"): a flat file by default, with sqlite and
// postgres alternatives in sibling packages. Every backend round-trips the
// same SnapshotRecord shape Periodic produces.
package snapshot

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"symcache/internal/cache"
)

// SnapshotRecord is re-exported from internal/cache so every backend speaks
// the same vocabulary Periodic produces without this package needing its own
// copy.
type SnapshotRecord = cache.SnapshotRecord

// Store is the symmetric Load/Save contract every backend implements.
type Store interface {
	Load(ctx context.Context) ([]SnapshotRecord, error)
	Save(ctx context.Context, records []SnapshotRecord) error
}

// magic identifies the flat-file format; version allows the fixed-width
// record layout to change later without breaking detection of old files.
const (
	magic         = "SYMCSNAP"
	formatVersion = uint32(1)
	recordNameLen = 64 // fixed-width, NUL-padded
)

// FileStore is the literal flat-file backend from spec §6: a magic header,
// a format version, a monotonic snapshot counter, then fixed-width records.
// Save rewrites the whole file; Load reads it back bit-for-bit except for the
// counter, which Save always increments (spec §8 round-trip property).
type FileStore struct {
	mu      sync.Mutex
	path    string
	counter uint64
	mirror  Archiver
}

// Archiver is the optional off-box mirror a FileStore pushes every
// successful Save to (internal/snapshot/s3archive satisfies this
// structurally). Nil disables mirroring.
type Archiver interface {
	Upload(ctx context.Context, path string) error
	Download(ctx context.Context, path string) error
}

// NewFileStore constructs a FileStore rooted at path. mirror may be nil.
func NewFileStore(path string, mirror Archiver) *FileStore {
	return &FileStore{path: path, mirror: mirror}
}

// Load reads the snapshot file, fetching it from the mirror first if it is
// absent locally and a mirror is configured (e.g. a freshly scheduled
// worker with no local state). A missing file with no mirror is not an
// error: it seeds ordering with zero frequency (spec §7).
func (s *FileStore) Load(ctx context.Context) ([]SnapshotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) && s.mirror != nil {
		_ = s.mirror.Download(ctx, s.path) // best effort; fall through to the stat-miss path below
	}

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", s.path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var hdr [len(magic)]byte
	if _, err := readFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("snapshot: read magic: %w", err)
	}
	if string(hdr[:]) != magic {
		return nil, fmt.Errorf("snapshot: bad magic in %s", s.path)
	}
	version, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read version: %w", err)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("snapshot: unsupported format version %d", version)
	}
	counter, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read counter: %w", err)
	}
	s.counter = counter

	count, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read record count: %w", err)
	}

	records := make([]SnapshotRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		rec, err := readRecord(r)
		if err != nil {
			return nil, fmt.Errorf("snapshot: read record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Save rewrites the snapshot file atomically (write to a temp file, then
// rename) and mirrors it if an Archiver is configured. Mirroring is
// best-effort: a mirror failure is discarded, not returned and not logged —
// Save itself only reports local I/O failures.
func (s *FileStore) Save(ctx context.Context, records []SnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("snapshot: mkdir: %w", err)
	}
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(magic); err != nil {
		return writeFail(f, tmp, err)
	}
	if err := writeUint32(w, formatVersion); err != nil {
		return writeFail(f, tmp, err)
	}
	if err := writeUint64(w, s.counter); err != nil {
		return writeFail(f, tmp, err)
	}
	if err := writeUint32(w, uint32(len(records))); err != nil {
		return writeFail(f, tmp, err)
	}
	for _, rec := range records {
		if err := writeRecord(w, rec); err != nil {
			return writeFail(f, tmp, err)
		}
	}
	if err := w.Flush(); err != nil {
		return writeFail(f, tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("snapshot: close temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("snapshot: rename temp file: %w", err)
	}

	if s.mirror != nil {
		_ = s.mirror.Upload(ctx, s.path) // best effort; the error is discarded
	}
	return nil
}

func writeFail(f *os.File, tmp string, err error) error {
	_ = f.Close()
	_ = os.Remove(tmp)
	return fmt.Errorf("snapshot: write: %w", err)
}

func readRecord(r *bufio.Reader) (SnapshotRecord, error) {
	var nameBuf [recordNameLen]byte
	if _, err := readFull(r, nameBuf[:]); err != nil {
		return SnapshotRecord{}, err
	}
	name := trimNUL(nameBuf[:])

	hits, err := readInt64(r)
	if err != nil {
		return SnapshotRecord{}, err
	}
	misses, err := readInt64(r)
	if err != nil {
		return SnapshotRecord{}, err
	}
	totalTimeNs, err := readInt64(r)
	if err != nil {
		return SnapshotRecord{}, err
	}
	freqBits, err := readUint64(r)
	if err != nil {
		return SnapshotRecord{}, err
	}

	return SnapshotRecord{
		Name:        name,
		Hits:        hits,
		Misses:      misses,
		TotalTimeNs: totalTimeNs,
		Frequency:   math.Float64frombits(freqBits),
	}, nil
}

func writeRecord(w *bufio.Writer, rec SnapshotRecord) error {
	var nameBuf [recordNameLen]byte
	if len(rec.Name) > recordNameLen {
		return fmt.Errorf("snapshot: name %q exceeds %d bytes", rec.Name, recordNameLen)
	}
	copy(nameBuf[:], rec.Name)
	if _, err := w.Write(nameBuf[:]); err != nil {
		return err
	}
	if err := writeInt64(w, rec.Hits); err != nil {
		return err
	}
	if err := writeInt64(w, rec.Misses); err != nil {
		return err
	}
	if err := writeInt64(w, rec.TotalTimeNs); err != nil {
		return err
	}
	return writeUint64(w, math.Float64bits(rec.Frequency))
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func readUint32(r *bufio.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := readFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readUint64(r *bufio.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := readFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func readInt64(r *bufio.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}

func writeUint32(w *bufio.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeUint64(w *bufio.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeInt64(w *bufio.Writer, v int64) error {
	return writeUint64(w, uint64(v))
}
