package availability

import (
	"context"
	"fmt"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/exceptions"
)

// MonthStats summarises a calendar month for the admin dashboard.
type MonthStats struct {
	Year             int        `json:"year"`
	Month            time.Month `json:"month"`
	TotalDays        int        `json:"total_days"`
	AvailableDays    int        `json:"available_days"`
	DaysWithBookings int        `json:"days_with_bookings"`
	TotalBookings    int        `json:"total_bookings"`
	BlockedDays      int        `json:"blocked_days"`
}

type monthData struct {
	start, end domain.Date
	entries    map[time.Weekday]*domain.WeeklyScheduleEntry
	byDate     map[domain.Date][]domain.ExceptionRecord
}

func (r *Resolver) loadMonth(ctx context.Context, year int, month time.Month) (*monthData, error) {
	start, end, err := domain.MonthRange(year, month)
	if err != nil {
		return nil, err
	}
	m := &monthData{
		start:   start,
		end:     end,
		entries: make(map[time.Weekday]*domain.WeeklyScheduleEntry, 7),
		byDate:  make(map[domain.Date][]domain.ExceptionRecord),
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		e, err := r.schedule.Get(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("availability: month %d-%02d: %w", year, int(month), err)
		}
		m.entries[d] = e
	}
	records, err := r.exceptions.ListForRange(ctx, start, end, exceptions.RangeFilter{})
	if err != nil {
		return nil, fmt.Errorf("availability: month %d-%02d: %w", year, int(month), err)
	}
	for _, rec := range records {
		m.byDate[rec.Date] = append(m.byDate[rec.Date], rec)
	}
	return m, nil
}

// AvailableDatesInMonth lists the dates of a month, today or later, with at least one
// free 30-minute slot.
func (r *Resolver) AvailableDatesInMonth(ctx context.Context, year int, month time.Month) ([]domain.Date, error) {
	m, err := r.loadMonth(ctx, year, month)
	if err != nil {
		return nil, err
	}
	today := r.today()
	var out []domain.Date
	_ = domain.EachDay(m.start, m.end, func(d domain.Date) error {
		if d.Before(today) {
			return nil
		}
		if !Compute(m.entries[d.Weekday()], m.byDate[d]).Empty() {
			out = append(out, d)
		}
		return nil
	})
	return out, nil
}

// IsDateAvailable reports whether any 30-minute slot of the date is free. Past dates never are.
func (r *Resolver) IsDateAvailable(ctx context.Context, date domain.Date) (bool, error) {
	if date.Before(r.today()) {
		return false, nil
	}
	items, err := r.AvailableSlots(ctx, date, domain.ModeThirtyMinutes)
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

// MonthStats counts non-cancelled bookings and full-day blocks of a month.
func (r *Resolver) MonthStats(ctx context.Context, year int, month time.Month) (*MonthStats, error) {
	m, err := r.loadMonth(ctx, year, month)
	if err != nil {
		return nil, err
	}
	stats := &MonthStats{Year: year, Month: month}
	_ = domain.EachDay(m.start, m.end, func(d domain.Date) error {
		stats.TotalDays++
		recs := m.byDate[d]
		if !Compute(m.entries[d.Weekday()], recs).Empty() {
			stats.AvailableDays++
		}
		bookings, fullDay := 0, false
		for i := range recs {
			switch {
			case recs[i].Kind == domain.KindBooking:
				bookings++
			case recs[i].IsFullDay():
				fullDay = true
			}
		}
		stats.TotalBookings += bookings
		if bookings > 0 {
			stats.DaysWithBookings++
		}
		if fullDay {
			stats.BlockedDays++
		}
		return nil
	})
	return stats, nil
}
