package optout

import (
	"context"
	"fmt"
	"time"

	"spamstop/internal/logging"
	"spamstop/internal/phone"
)

// Stats summarizes the set.
type Stats struct {
	Total    int
	BySource map[string]int
}

// Service normalizes numbers before they reach the repository, so "+1
// (555) 123-4567" and "5551234567" are the same entry.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new opt-out service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func normalize(number string) (string, error) {
	n := phone.Clean(number)
	if n == "" {
		return "", ErrEmptyNumber
	}
	return n, nil
}

// IsOptedOut reports whether number has already been sent a STOP.
func (s *Service) IsOptedOut(ctx context.Context, number string) (bool, error) {
	n, err := normalize(number)
	if err != nil {
		return false, err
	}
	return s.repo.Contains(ctx, n)
}

// Add records number as opted out.
func (s *Service) Add(ctx context.Context, number, source, runID string) error {
	n, err := normalize(number)
	if err != nil {
		return err
	}
	if err := s.repo.Add(ctx, Entry{Number: n, Source: source, RunID: runID, AddedAt: s.now()}); err != nil {
		return fmt.Errorf("add %s: %w", logging.MaskPhone(n), err)
	}
	logging.OptOutDebug("added %s (source=%s)", logging.MaskPhone(n), source)
	return nil
}

// Remove deletes number from the set.
func (s *Service) Remove(ctx context.Context, number string) error {
	n, err := normalize(number)
	if err != nil {
		return err
	}
	if err := s.repo.Remove(ctx, n); err != nil {
		return err
	}
	logging.OptOut("removed %s", logging.MaskPhone(n))
	return nil
}

// List returns every entry, ascending.
func (s *Service) List(ctx context.Context) ([]Entry, error) {
	return s.repo.List(ctx)
}

// Count returns the number of opted-out numbers.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// Stats counts entries by source. Entries without a source are counted
// under "unknown".
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	entries, err := s.repo.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Total: len(entries), BySource: make(map[string]int)}
	for _, e := range entries {
		src := e.Source
		if src == "" {
			src = "unknown"
		}
		st.BySource[src]++
	}
	return st, nil
}

// Flush persists pending changes.
func (s *Service) Flush(ctx context.Context) error {
	return s.repo.Flush(ctx)
}

// Close flushes and releases the repository.
func (s *Service) Close() error {
	return s.repo.Close()
}
