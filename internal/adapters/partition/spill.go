package partition

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/okian/loanlabel/internal/domain/record"
)

const spillBufferSize = 64 << 10

type spillFile struct {
	f   *os.File
	buf *bufio.Writer
	w   *csv.Writer
}

// SpillStore writes each partition to its own file under a private temporary
// directory, so ingestion memory stays bounded by the buffer sizes. A
// partition is read back whole by Load, one partition per worker at a time.
type SpillStore struct {
	mu       sync.Mutex
	dir      string
	files    []*spillFile
	counts   []int
	keyIndex int
	sealed   bool
	closed   bool
}

// NewSpillStore creates a spill directory below root (the system temp
// directory when root is empty).
func NewSpillStore(root string, n, keyIndex int) (*SpillStore, error) {
	if n < 1 {
		n = 1
	}
	if root == "" {
		root = os.TempDir()
	}

	dir := filepath.Join(root, "loanlabel-spill-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create spill dir: %w", err)
	}

	return &SpillStore{
		dir:      dir,
		files:    make([]*spillFile, n),
		counts:   make([]int, n),
		keyIndex: keyIndex,
	}, nil
}

// Dir returns the spill directory.
func (s *SpillStore) Dir() string { return s.dir }

func (s *SpillStore) path(p int) string {
	return filepath.Join(s.dir, fmt.Sprintf("part-%04d.csv", p))
}

func (s *SpillStore) Add(rec record.RawRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return ErrSealed
	}

	p := Shard(rec.Get(s.keyIndex), len(s.files))
	sf := s.files[p]
	if sf == nil {
		f, err := os.Create(s.path(p))
		if err != nil {
			return fmt.Errorf("open spill partition %d: %w", p, err)
		}
		buf := bufio.NewWriterSize(f, spillBufferSize)
		sf = &spillFile{f: f, buf: buf, w: csv.NewWriter(buf)}
		s.files[p] = sf
	}

	line := make([]string, 0, len(rec.Values)+1)
	line = append(line, strconv.FormatUint(rec.Seq, 10))
	line = append(line, rec.Values...)
	if err := sf.w.Write(line); err != nil {
		return fmt.Errorf("spill partition %d: %w", p, err)
	}
	s.counts[p]++
	return nil
}

// Seal flushes and closes every partition file.
func (s *SpillStore) Seal() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return nil
	}
	s.sealed = true

	var errs []error
	for p, sf := range s.files {
		if sf == nil {
			continue
		}
		sf.w.Flush()
		if err := sf.w.Error(); err != nil {
			errs = append(errs, fmt.Errorf("flush partition %d: %w", p, err))
		}
		if err := sf.buf.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush partition %d: %w", p, err))
		}
		if err := sf.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close partition %d: %w", p, err))
		}
		s.files[p] = &spillFile{} // marks the partition as present
	}
	return errors.Join(errs...)
}

func (s *SpillStore) Partitions() int { return len(s.files) }

// Load reads partition p back from disk.
func (s *SpillStore) Load(ctx context.Context, p int) ([]record.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if !s.sealed || s.closed {
		s.mu.Unlock()
		return nil, ErrNotSealed
	}
	if p < 0 || p >= len(s.files) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrUnknownPartition, p)
	}
	present, n := s.files[p] != nil, s.counts[p]
	s.mu.Unlock()

	if !present {
		return nil, nil
	}

	f, err := os.Open(s.path(p))
	if err != nil {
		return nil, fmt.Errorf("open spill partition %d: %w", p, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(bufio.NewReaderSize(f, spillBufferSize))
	r.FieldsPerRecord = -1
	r.ReuseRecord = false

	out := make([]record.RawRecord, 0, n)
	for {
		line, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: partition %d: %w", ErrCorruptSpill, p, err)
		}
		if len(line) == 0 {
			return nil, fmt.Errorf("%w: partition %d: empty line", ErrCorruptSpill, p)
		}
		seq, err := strconv.ParseUint(line[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: partition %d: %w", ErrCorruptSpill, p, err)
		}
		out = append(out, record.New(seq, line[1:]))
	}
	return out, nil
}

func (s *SpillStore) Len(p int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p < 0 || p >= len(s.counts) {
		return 0
	}
	return s.counts[p]
}

// Close removes the spill directory and everything in it.
func (s *SpillStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, sf := range s.files {
		if sf != nil && sf.f != nil && !s.sealed {
			_ = sf.f.Close()
		}
	}
	s.sealed = true

	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove spill dir: %w", err)
	}
	return nil
}
