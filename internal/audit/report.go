package audit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"studiobook/internal/availability"
	"studiobook/internal/domain"
	"studiobook/internal/exceptions"
	"studiobook/internal/slots"
)

// ExceptionLister is the part of the exceptions store the report reads.
type ExceptionLister interface {
	ListForRange(ctx context.Context, start, end domain.Date, f exceptions.RangeFilter) ([]domain.ExceptionRecord, error)
}

// StatsSource computes the month summary.
type StatsSource interface {
	MonthStats(ctx context.Context, year int, month time.Month) (*availability.MonthStats, error)
}

const (
	sheetBookings = "Bookings"
	sheetBlocks   = "Blocks"
	sheetSummary  = "Summary"
	timeLayout    = "2006-01-02 15:04"
)

// Reporter renders one month of bookings and blocks as an XLSX workbook.
type Reporter struct {
	exceptions ExceptionLister
	stats      StatsSource
	logger     zerolog.Logger
}

func NewReporter(exc ExceptionLister, stats StatsSource, logger zerolog.Logger) *Reporter {
	return &Reporter{
		exceptions: exc,
		stats:      stats,
		logger:     logger.With().Str("component", "audit").Logger(),
	}
}

// Export writes the workbook for year/month to w, cancelled records included.
func (r *Reporter) Export(ctx context.Context, year int, month time.Month, w io.Writer) error {
	start, end, err := domain.MonthRange(year, month)
	if err != nil {
		return err
	}
	records, err := r.exceptions.ListForRange(ctx, start, end, exceptions.RangeFilter{IncludeCancelled: true})
	if err != nil {
		return fmt.Errorf("audit: list %d-%02d: %w", year, int(month), err)
	}
	stats, err := r.stats.MonthStats(ctx, year, month)
	if err != nil {
		return fmt.Errorf("audit: stats %d-%02d: %w", year, int(month), err)
	}

	sw := newSheetWriter()
	defer sw.close()

	var bookings, blocks []domain.ExceptionRecord
	for _, rec := range records {
		if rec.Kind == domain.KindBooking {
			bookings = append(bookings, rec)
		} else {
			blocks = append(blocks, rec)
		}
	}

	if err := writeBookings(sw, bookings); err != nil {
		return fmt.Errorf("audit: bookings sheet: %w", err)
	}
	if err := writeBlocks(sw, blocks); err != nil {
		return fmt.Errorf("audit: blocks sheet: %w", err)
	}
	if err := writeSummary(sw, stats, len(records)); err != nil {
		return fmt.Errorf("audit: summary sheet: %w", err)
	}
	if err := sw.save(w); err != nil {
		return fmt.Errorf("audit: save workbook: %w", err)
	}

	r.logger.Debug().
		Int("year", year).
		Int("month", int(month)).
		Int("bookings", len(bookings)).
		Int("blocks", len(blocks)).
		Msg("report rendered")
	return nil
}

func writeBookings(sw *sheetWriter, recs []domain.ExceptionRecord) error {
	if err := sw.addSheet(sheetBookings); err != nil {
		return err
	}
	if err := sw.writeHeader("ID", "Date", "Time", "Status", "Customer", "Session type", "Details", "Created"); err != nil {
		return err
	}
	for _, rec := range recs {
		customer := ""
		if rec.CustomerRef != nil {
			customer = *rec.CustomerRef
		}
		err := sw.writeRow(
			rec.ID,
			rec.Date.String(),
			slots.FormatWithDuration(rec.Slots),
			string(rec.Status),
			customer,
			rec.SessionType,
			rec.Details,
			rec.CreatedAt.Format(timeLayout),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func writeBlocks(sw *sheetWriter, recs []domain.ExceptionRecord) error {
	if err := sw.addSheet(sheetBlocks); err != nil {
		return err
	}
	if err := sw.writeHeader("ID", "Date", "Time", "Status", "Reason", "Created"); err != nil {
		return err
	}
	for _, rec := range recs {
		span := slots.FormatRanges(rec.Slots)
		if rec.IsFullDay() {
			span = "full day"
		}
		err := sw.writeRow(rec.ID, rec.Date.String(), span, string(rec.Status), rec.Reason, rec.CreatedAt.Format(timeLayout))
		if err != nil {
			return err
		}
	}
	return nil
}

func writeSummary(sw *sheetWriter, s *availability.MonthStats, records int) error {
	if err := sw.addSheet(sheetSummary); err != nil {
		return err
	}
	if err := sw.writeHeader("Metric", "Value"); err != nil {
		return err
	}
	rows := [][]any{
		{"Month", fmt.Sprintf("%d-%02d", s.Year, int(s.Month))},
		{"Days", s.TotalDays},
		{"Days with free slots", s.AvailableDays},
		{"Days with bookings", s.DaysWithBookings},
		{"Active bookings", s.TotalBookings},
		{"Fully blocked days", s.BlockedDays},
		{"Records incl. cancelled", records},
	}
	for _, row := range rows {
		if err := sw.writeRow(row...); err != nil {
			return err
		}
	}
	return nil
}
