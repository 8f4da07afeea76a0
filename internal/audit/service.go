package audit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Service writes the previous month's report into a directory on the first day of each month.
type Service struct {
	reporter *Reporter
	dir      string
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(reporter *Reporter, dir string, logger zerolog.Logger) *Service {
	return &Service{
		reporter: reporter,
		dir:      dir,
		logger:   logger.With().Str("component", "audit").Logger(),
		now:      time.Now,
	}
}

// Filename is the report name for a month, e.g. studio_2025_03.xlsx.
func Filename(year int, month time.Month) string {
	return fmt.Sprintf("studio_%d_%02d.xlsx", year, int(month))
}

// Start runs until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	next := nextFirstOfMonth(s.now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()
	s.logger.Info().Time("next_run", next).Msg("audit scheduled")

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := s.ExportPreviousMonth(ctx); err != nil {
				s.logger.Error().Err(err).Msg("monthly report failed")
			}
			next = nextFirstOfMonth(s.now())
			timer.Reset(time.Until(next))
			s.logger.Info().Time("next_run", next).Msg("audit scheduled")
		}
	}
}

// ExportPreviousMonth writes the report of the month before now.
func (s *Service) ExportPreviousMonth(ctx context.Context) (string, error) {
	now := s.now()
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
	return s.ExportMonth(ctx, prev.Year(), prev.Month())
}

// ExportMonth renders a month and writes it under the service directory. The file
// only appears once the workbook is complete.
func (s *Service) ExportMonth(ctx context.Context, year int, month time.Month) (string, error) {
	var buf bytes.Buffer
	if err := s.reporter.Export(ctx, year, month, &buf); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("audit: create %s: %w", s.dir, err)
	}
	path := filepath.Join(s.dir, Filename(year, month))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("audit: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("audit: rename %s: %w", tmp, err)
	}
	s.logger.Info().Str("path", path).Int("bytes", buf.Len()).Msg("monthly report written")
	return path, nil
}

// nextFirstOfMonth returns 00:01 on the first day of the month after t.
func nextFirstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 1, 0, 0, t.Location())
}
