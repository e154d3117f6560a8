package optout

import (
	"bufio"
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"spamstop/internal/logging"
)

// lockRetry is how often Flush retries a held lock file.
const lockRetry = 50 * time.Millisecond

// FileRepository keeps the set in memory and writes it back as one number
// per line, sorted ascending.
type FileRepository struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Entry
	removed map[string]struct{}
	dirty   bool
}

// OpenFile loads the set from path. A missing file is an empty set.
func OpenFile(path string) (*FileRepository, error) {
	r := &FileRepository{
		path:    path,
		entries: make(map[string]Entry),
		removed: make(map[string]struct{}),
	}

	numbers, err := readNumbers(path)
	if err != nil {
		return nil, err
	}
	for _, n := range numbers {
		r.entries[n] = Entry{Number: n}
	}

	logging.OptOut("Loaded %d opted-out numbers from %s", len(r.entries), path)
	return r, nil
}

// readNumbers reads one number per line, trimming whitespace and skipping
// blank lines.
func readNumbers(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open opt-out file: %w", err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read opt-out file: %w", err)
	}
	return out, nil
}

// Path returns the backing file path.
func (r *FileRepository) Path() string {
	return r.path
}

func (r *FileRepository) Contains(_ context.Context, number string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[number]
	return ok, nil
}

func (r *FileRepository) Add(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.Number]; exists {
		return nil
	}
	r.entries[e.Number] = e
	delete(r.removed, e.Number)
	r.dirty = true
	return nil
}

func (r *FileRepository) Remove(_ context.Context, number string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[number]; !ok {
		return ErrNotFound
	}
	delete(r.entries, number)
	r.removed[number] = struct{}{}
	r.dirty = true
	return nil
}

func (r *FileRepository) List(_ context.Context) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, n := range slices.Sorted(maps.Keys(r.entries)) {
		out = append(out, r.entries[n])
	}
	return out, nil
}

func (r *FileRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries), nil
}

// Flush rewrites the file under an exclusive lock on <path>.lock. Numbers
// another process wrote since load are merged in, so concurrent runs do
// not drop each other's additions. Every number this repository loaded or
// added is written back, so a removal made by another process since load
// is undone.
func (r *FileRepository) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty {
		return nil
	}

	timer := logging.StartTimer(logging.CategoryOptOut, "FileRepository.Flush")
	defer timer.StopWithThreshold(time.Second)

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create opt-out directory: %w", err)
	}

	lock := flock.New(r.path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("acquiring opt-out lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("opt-out file %s is locked by another process", r.path)
	}
	defer lock.Unlock()

	onDisk, err := readNumbers(r.path)
	if err != nil {
		return err
	}
	for _, n := range onDisk {
		if _, gone := r.removed[n]; gone {
			continue
		}
		if _, ok := r.entries[n]; !ok {
			r.entries[n] = Entry{Number: n}
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	for _, n := range slices.Sorted(maps.Keys(r.entries)) {
		w.WriteString(n)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write opt-out file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync opt-out file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close opt-out file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("failed to replace opt-out file: %w", err)
	}

	r.dirty = false
	clear(r.removed)
	logging.OptOut("Flushed %d numbers to %s", len(r.entries), r.path)
	return nil
}

// Close flushes pending changes.
func (r *FileRepository) Close() error {
	return r.Flush(context.Background())
}
