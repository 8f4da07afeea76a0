package coordinator

import (
	"context"
	"time"

	"studiobook/internal/availability"
	"studiobook/internal/domain"
	"studiobook/internal/events"
	"studiobook/internal/exceptions"
	"studiobook/internal/schedule"
	"studiobook/internal/slots"
)

type ScheduleWriter interface {
	SetActive(ctx context.Context, day time.Weekday, active bool) error
	SetSlotActive(ctx context.Context, day time.Weekday, slot slots.Slot, active bool) error
	ActivateSlot(ctx context.Context, day time.Weekday, slot slots.Slot) error
	Put(ctx context.Context, day time.Weekday, active bool, flags slots.Flags) error
	ApplyRule(ctx context.Context, rule schedule.PresetRule) ([]time.Weekday, error)
}

type ExceptionWriter interface {
	Get(ctx context.Context, id string) (*domain.ExceptionRecord, error)
	CreateBooking(ctx context.Context, in exceptions.NewBooking) (*domain.ExceptionRecord, error)
	CreateAdminBlock(ctx context.Context, date domain.Date, list []slots.Slot, reason string) (*domain.ExceptionRecord, error)
	BlockDay(ctx context.Context, date domain.Date, reason string) (*domain.ExceptionRecord, bool, error)
	UnblockSlot(ctx context.Context, date domain.Date, slot slots.Slot) (int, error)
	CancelAdminBlocks(ctx context.Context, date domain.Date) (int64, error)
	Cancel(ctx context.Context, id string) (*domain.ExceptionRecord, error)
	Confirm(ctx context.Context, id string) (*domain.ExceptionRecord, error)
	Delete(ctx context.Context, id string) (*domain.ExceptionRecord, error)
}

type Resolver interface {
	ClassifySlot(ctx context.Context, date domain.Date, slot slots.Slot) (availability.SlotState, error)
	VerifyRequestedSlotsAvailable(ctx context.Context, date domain.Date, requested []slots.Slot) (*availability.Verification, error)
	InvalidateDates(ctx context.Context, dates ...domain.Date)
	InvalidateWeekday(ctx context.Context, day time.Weekday)
	InvalidateAll(ctx context.Context)
}

type EventPublisher interface {
	PublishChange(eventType string, c events.Change)
}
