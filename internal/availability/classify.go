package availability

import (
	"context"
	"fmt"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/slots"
)

// State is the derived admin-facing state of one slot on one date.
type State string

const (
	StateReserved      State = "reserved"
	StateBlocked       State = "blocked"
	StateAvailable     State = "available"
	StateInactive      State = "inactive"
	StateOutsideOffice State = "outside_office"
)

// OfficeHours is the band [Start, End) in whole hours used to tell Inactive from OutsideOffice.
type OfficeHours struct {
	Start int
	End   int
}

// DefaultOfficeHours is 09:00 to 18:00.
func DefaultOfficeHours() OfficeHours {
	return OfficeHours{Start: 9, End: 18}
}

// Contains reports whether the slot starts inside the band.
func (o OfficeHours) Contains(s slots.Slot) bool {
	return o.Start <= s.Hour() && s.Hour() < o.End
}

type SlotState struct {
	Slot        slots.Slot `json:"slot"`
	State       State      `json:"state"`
	FullDay     bool       `json:"full_day,omitempty"`
	ExceptionID string     `json:"exception_id,omitempty"`
}

// DayView is the admin grid of one date.
type DayView struct {
	Date      domain.Date  `json:"date"`
	Weekday   time.Weekday `json:"weekday"`
	DayActive bool         `json:"day_active"`
	FullDay   bool         `json:"full_day_blocked"`
	Slots     []SlotState  `json:"slots"`
}

// Classify derives the state of every slot from the weekly entry and the records of a date.
func Classify(entry *domain.WeeklyScheduleEntry, records []domain.ExceptionRecord, office OfficeHours) [slots.PerDay]SlotState {
	var out [slots.PerDay]SlotState
	for s := range slots.All() {
		out[s] = SlotState{Slot: s}
		switch {
		case entry.IsActive && entry.Flags[s]:
			out[s].State = StateAvailable
		case office.Contains(s):
			out[s].State = StateInactive
		default:
			out[s].State = StateOutsideOffice
		}
	}

	// Blocks first so a booking on the same slot wins.
	for _, kind := range []domain.ExceptionKind{domain.KindAdminBlock, domain.KindBooking} {
		for i := range records {
			r := &records[i]
			if !r.Active() || r.Kind != kind {
				continue
			}
			for s := range r.Occupied().All() {
				st := &out[s]
				st.ExceptionID = r.ID
				if kind == domain.KindBooking {
					st.State = StateReserved
					st.FullDay = false
					continue
				}
				st.State = StateBlocked
				st.FullDay = r.IsFullDay()
			}
		}
	}
	return out
}

// ClassifyDay returns the admin grid of a date.
func (r *Resolver) ClassifyDay(ctx context.Context, date domain.Date) (*DayView, error) {
	entry, err := r.schedule.Get(ctx, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("availability: classify %s: %w", date, err)
	}
	records, err := r.exceptions.ListForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("availability: classify %s: %w", date, err)
	}

	states := Classify(entry, records, r.office)
	view := &DayView{
		Date:      date,
		Weekday:   date.Weekday(),
		DayActive: entry.IsActive,
		Slots:     states[:],
	}
	for i := range records {
		if records[i].IsFullDay() {
			view.FullDay = true
			break
		}
	}
	return view, nil
}

// ClassifySlot returns the state of one slot.
func (r *Resolver) ClassifySlot(ctx context.Context, date domain.Date, slot slots.Slot) (SlotState, error) {
	if !slot.Valid() {
		return SlotState{}, fmt.Errorf("availability: %w: invalid slot %d", domain.ErrValidation, int(slot))
	}
	view, err := r.ClassifyDay(ctx, date)
	if err != nil {
		return SlotState{}, err
	}
	return view.Slots[slot], nil
}
