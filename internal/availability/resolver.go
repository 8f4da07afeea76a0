package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"studiobook/internal/cache"
	"studiobook/internal/domain"
	"studiobook/internal/metrics"
	"studiobook/internal/slots"
)

// AvailableSlot is one bookable item. In hourly mode it covers two 30-minute slots.
type AvailableSlot struct {
	Slot   slots.Slot   `json:"time_slot"`
	Covers []slots.Slot `json:"covers_slots"`
}

type Reason string

const (
	ReasonDayInactive     Reason = "day_inactive"
	ReasonNotInWeekly     Reason = "not_in_weekly_config"
	ReasonAlreadyOccupied Reason = "already_occupied"
)

type Unavailable struct {
	Slot   slots.Slot `json:"slot"`
	Reason Reason     `json:"reason"`
}

// Verification is the answer of VerifyRequestedSlotsAvailable.
type Verification struct {
	AllAvailable bool          `json:"all_available"`
	Unavailable  []Unavailable `json:"unavailable,omitempty"`
}

// Resolver answers what can be booked. It reads the weekly template and the
// exceptions of a date and caches results per date and display mode.
type Resolver struct {
	schedule   ScheduleReader
	exceptions ExceptionReader
	cache      cache.Cache
	office     OfficeHours
	now        func() time.Time
	logger     zerolog.Logger
}

func NewResolver(schedule ScheduleReader, exceptions ExceptionReader, c cache.Cache, office OfficeHours, logger zerolog.Logger) *Resolver {
	if c == nil {
		c = cache.Nop{}
	}
	return &Resolver{
		schedule:   schedule,
		exceptions: exceptions,
		cache:      c,
		office:     office,
		now:        time.Now,
		logger:     logger.With().Str("component", "availability").Logger(),
	}
}

// SetClock replaces the clock that decides which dates are already past.
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Resolver) today() domain.Date {
	return domain.DateOf(r.now())
}

// Compute returns the candidate slots of the entry minus everything occupied by
// the active records.
func Compute(entry *domain.WeeklyScheduleEntry, records []domain.ExceptionRecord) slots.Set {
	candidates := entry.Candidates()
	if candidates.Empty() {
		return candidates
	}
	booked, blocked := domain.Occupancy(records)
	return candidates.Minus(booked.Union(blocked))
}

// Aggregate presents a set of free 30-minute slots in the given mode, in chronological order.
func Aggregate(free slots.Set, mode domain.DisplayMode) []AvailableSlot {
	if mode == domain.ModeOneHour {
		free = slots.ToHourly(free)
	}
	out := make([]AvailableSlot, 0, free.Len())
	for s := range free.All() {
		item := AvailableSlot{Slot: s, Covers: []slots.Slot{s}}
		if mode == domain.ModeOneHour {
			item.Covers = slots.Covers(s)
		}
		out = append(out, item)
	}
	return out
}

// AvailableSlots returns the bookable items of a date. A missing weekly entry and backend
// failures are returned as errors, never as an empty day.
func (r *Resolver) AvailableSlots(ctx context.Context, date domain.Date, mode domain.DisplayMode) ([]AvailableSlot, error) {
	if _, err := domain.ParseDisplayMode(string(mode)); err != nil {
		return nil, err
	}
	key := cache.Key{Date: date, Mode: mode}
	if raw, ok := r.cache.Get(ctx, key); ok {
		var cached []AvailableSlot
		if err := json.Unmarshal(raw, &cached); err == nil {
			metrics.IncCacheLookup(true)
			return cached, nil
		}
		r.logger.Warn().Str("key", key.String()).Msg("dropping undecodable cache entry")
	}
	metrics.IncCacheLookup(false)

	stamp := r.cache.Stamp(ctx, date)
	started := time.Now()
	free, err := r.free(ctx, date)
	if err != nil {
		return nil, err
	}
	out := Aggregate(free, mode)
	metrics.ObserveResolve(time.Since(started))

	if raw, err := json.Marshal(out); err == nil {
		r.cache.Set(ctx, key, raw, stamp)
	}
	return out, nil
}

func (r *Resolver) free(ctx context.Context, date domain.Date) (slots.Set, error) {
	entry, err := r.schedule.Get(ctx, date.Weekday())
	if err != nil {
		return slots.Set{}, fmt.Errorf("availability: %s: %w", date, err)
	}
	if !entry.IsActive {
		return slots.Set{}, nil
	}
	records, err := r.exceptions.ListForDate(ctx, date)
	if err != nil {
		return slots.Set{}, fmt.Errorf("availability: %s: %w", date, err)
	}
	return Compute(entry, records), nil
}

// VerifyRequestedSlotsAvailable checks each requested 30-minute slot against fresh state,
// bypassing the cache.
func (r *Resolver) VerifyRequestedSlotsAvailable(ctx context.Context, date domain.Date, requested []slots.Slot) (*Verification, error) {
	if len(requested) == 0 {
		return nil, fmt.Errorf("availability: %w: no slots requested", domain.ErrValidation)
	}
	for _, s := range requested {
		if !s.Valid() {
			return nil, fmt.Errorf("availability: %w: invalid slot %d", domain.ErrValidation, int(s))
		}
	}

	entry, err := r.schedule.Get(ctx, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("availability: verify %s: %w", date, err)
	}
	records, err := r.exceptions.ListForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("availability: verify %s: %w", date, err)
	}
	booked, blocked := domain.Occupancy(records)
	occupied := booked.Union(blocked)

	v := &Verification{AllAvailable: true}
	for s := range slots.NewSet(requested...).All() {
		var reason Reason
		switch {
		case !entry.IsActive:
			reason = ReasonDayInactive
		case !entry.Flags[s]:
			reason = ReasonNotInWeekly
		case occupied.Has(s):
			reason = ReasonAlreadyOccupied
		default:
			continue
		}
		v.AllAvailable = false
		v.Unavailable = append(v.Unavailable, Unavailable{Slot: s, Reason: reason})
	}
	return v, nil
}

// InvalidateDates drops cached answers of the given dates.
func (r *Resolver) InvalidateDates(ctx context.Context, dates ...domain.Date) {
	for _, d := range dates {
		r.cache.InvalidateDate(ctx, d)
	}
}

// InvalidateWeekday drops cached answers of every date falling on day.
func (r *Resolver) InvalidateWeekday(ctx context.Context, day time.Weekday) {
	r.cache.InvalidateWeekday(ctx, day)
}

func (r *Resolver) InvalidateAll(ctx context.Context) {
	r.cache.InvalidateAll(ctx)
}
