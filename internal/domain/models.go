package domain

import (
	"fmt"
	"time"

	"studiobook/internal/slots"
)

// WeeklyScheduleEntry is the recurring template of one weekday.
type WeeklyScheduleEntry struct {
	DayOfWeek time.Weekday `json:"day_of_week"`
	IsActive  bool         `json:"is_active"`
	Flags     slots.Flags  `json:"time_slots"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Candidates returns the offered slots, empty when the day is inactive.
func (e *WeeklyScheduleEntry) Candidates() slots.Set {
	if !e.IsActive {
		return slots.Set{}
	}
	return e.Flags.Active()
}

// ValidWeekday reports whether d is 0 (Sunday) .. 6 (Saturday).
func ValidWeekday(d time.Weekday) bool {
	return d >= time.Sunday && d <= time.Saturday
}

type ExceptionKind string

const (
	KindBooking    ExceptionKind = "booking"
	KindAdminBlock ExceptionKind = "admin_block"
)

func (k ExceptionKind) Valid() bool {
	return k == KindBooking || k == KindAdminBlock
}

type ExceptionStatus string

const (
	StatusPending   ExceptionStatus = "pending"
	StatusConfirmed ExceptionStatus = "confirmed"
	StatusCancelled ExceptionStatus = "cancelled"
)

func (s ExceptionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// ExceptionRecord is a date-specific booking or admin block.
type ExceptionRecord struct {
	ID          string          `json:"id"`
	Date        Date            `json:"date"`
	Kind        ExceptionKind   `json:"kind"`
	Slots       []slots.Slot    `json:"time_slots"`
	Status      ExceptionStatus `json:"status"`
	CustomerRef *string         `json:"customer_ref"`
	SessionType string          `json:"session_type,omitempty"`
	Details     string          `json:"details,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Active reports whether the record still occupies its slots.
func (r *ExceptionRecord) Active() bool {
	return r.Status != StatusCancelled
}

// IsFullDay reports whether the record is an admin block encoded with the full-day sentinel.
func (r *ExceptionRecord) IsFullDay() bool {
	return r.Kind == KindAdminBlock && slots.IsFullDaySentinel(r.Slots)
}

// Occupied returns the slots the record takes, expanding the full-day sentinel.
// The sentinel only applies to admin blocks; a booking at 00:00 is a booking at 00:00.
func (r *ExceptionRecord) Occupied() slots.Set {
	if r.IsFullDay() {
		return slots.FullDay()
	}
	return slots.NewSet(r.Slots...)
}

// Occupancy splits the occupied slots of active records by kind.
func Occupancy(records []ExceptionRecord) (booked, blocked slots.Set) {
	for i := range records {
		r := &records[i]
		if !r.Active() {
			continue
		}
		switch r.Kind {
		case KindBooking:
			booked = booked.Union(r.Occupied())
		case KindAdminBlock:
			blocked = blocked.Union(r.Occupied())
		}
	}
	return booked, blocked
}

type DisplayMode string

const (
	ModeThirtyMinutes DisplayMode = "30min"
	ModeOneHour       DisplayMode = "1hour"
)

// ParseDisplayMode accepts the stored labels.
func ParseDisplayMode(s string) (DisplayMode, error) {
	switch DisplayMode(s) {
	case ModeThirtyMinutes, ModeOneHour:
		return DisplayMode(s), nil
	}
	return "", fmt.Errorf("%w: unknown display mode %q", ErrValidation, s)
}

// DisplayConfig governs how availability is presented and how many selections a booking may carry.
type DisplayConfig struct {
	UserDisplayMode        DisplayMode `json:"user_display_mode"`
	AllowMultipleTimeSlots bool        `json:"allow_multiple_time_slots"`
}

// DefaultDisplayConfig is used when nothing is stored.
func DefaultDisplayConfig() DisplayConfig {
	return DisplayConfig{UserDisplayMode: ModeOneHour, AllowMultipleTimeSlots: false}
}
