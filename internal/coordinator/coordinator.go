package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studiobook/internal/availability"
	"studiobook/internal/domain"
	"studiobook/internal/events"
	"studiobook/internal/exceptions"
	"studiobook/internal/metrics"
	"studiobook/internal/schedule"
	"studiobook/internal/slots"
)

// MaxBatchDays bounds TogglePeriodBatch.
const MaxBatchDays = 366

type BatchAction string

const (
	ActionActivate   BatchAction = "activate"
	ActionDeactivate BatchAction = "deactivate"
)

// Transition reports what ToggleSlot did.
type Transition struct {
	Date domain.Date        `json:"date"`
	Slot slots.Slot         `json:"slot"`
	From availability.State `json:"from"`
	To   availability.State `json:"to"`
}

// Submission is a customer booking request as selected in the form.
type Submission struct {
	Date        domain.Date
	Slots       []slots.Slot
	CustomerRef string
	SessionType string
	Details     string
}

// UnavailableError is returned by SubmitBooking when fresh verification rejects a selection.
type UnavailableError struct {
	Date        domain.Date
	Unavailable []availability.Unavailable
}

func (e *UnavailableError) Error() string {
	parts := make([]string, 0, len(e.Unavailable))
	for _, u := range e.Unavailable {
		parts = append(parts, fmt.Sprintf("%s (%s)", u.Slot, u.Reason))
	}
	return fmt.Sprintf("slots unavailable on %s: %s", e.Date, strings.Join(parts, ", "))
}

func (e *UnavailableError) Unwrap() error { return domain.ErrSlotConflict }

// Coordinator sequences admin and booking writes over the stores. Every write drops the
// affected cached availability and publishes an event.
type Coordinator struct {
	schedule   ScheduleWriter
	exceptions ExceptionWriter
	resolver   Resolver
	events     EventPublisher
	now        func() time.Time
	logger     zerolog.Logger
}

func New(sched ScheduleWriter, exc ExceptionWriter, resolver Resolver, publisher EventPublisher, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		schedule:   sched,
		exceptions: exc,
		resolver:   resolver,
		events:     publisher,
		now:        time.Now,
		logger:     logger.With().Str("component", "coordinator").Logger(),
	}
}

// SetClock replaces the clock SubmitBooking uses to refuse past dates.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Coordinator) publish(eventType string, ch events.Change) {
	if c.events != nil {
		c.events.PublishChange(eventType, ch)
	}
}

// ToggleSlot moves a slot to its neighbouring state: Blocked and Available swap, Inactive and
// OutsideOffice become weekly-active. Reserved slots are refused.
func (c *Coordinator) ToggleSlot(ctx context.Context, date domain.Date, slot slots.Slot) (tr *Transition, err error) {
	defer func() { metrics.IncAdminAction("toggle_slot", err) }()

	current, err := c.resolver.ClassifySlot(ctx, date, slot)
	if err != nil {
		return nil, err
	}

	switch current.State {
	case availability.StateReserved:
		return nil, fmt.Errorf("coordinator: %w: %s on %s is reserved by booking %s, cancel the booking first",
			domain.ErrInvalidTransition, slot, date, current.ExceptionID)

	case availability.StateBlocked:
		if _, err := c.exceptions.UnblockSlot(ctx, date, slot); err != nil {
			return nil, err
		}
		c.resolver.InvalidateDates(ctx, date)
		c.publish(events.BlockChanged, events.Change{Action: "unblock_slot", Dates: []string{date.String()}, Slots: []string{slot.String()}})

	case availability.StateAvailable:
		rec, err := c.exceptions.CreateAdminBlock(ctx, date, []slots.Slot{slot}, "")
		if err != nil {
			return nil, err
		}
		c.resolver.InvalidateDates(ctx, date)
		c.publish(events.BlockChanged, events.Change{Action: "block_slot", ID: rec.ID, Dates: []string{date.String()}, Slots: []string{slot.String()}})

	default:
		if err := c.activateWeeklySlot(ctx, date.Weekday(), slot); err != nil {
			return nil, err
		}
	}

	after, err := c.resolver.ClassifySlot(ctx, date, slot)
	if err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("date", date.String()).
		Str("slot", slot.String()).
		Str("from", string(current.State)).
		Str("to", string(after.State)).
		Msg("slot toggled")
	return &Transition{Date: date, Slot: slot, From: current.State, To: after.State}, nil
}

func (c *Coordinator) activateWeeklySlot(ctx context.Context, day time.Weekday, slot slots.Slot) error {
	if err := c.schedule.ActivateSlot(ctx, day, slot); err != nil {
		return err
	}
	c.resolver.InvalidateWeekday(ctx, day)
	c.publish(events.ScheduleChanged, events.Change{Action: "activate_slot", Weekdays: []int{int(day)}, Slots: []string{slot.String()}})
	return nil
}

// DeactivateSlotPermanently clears the weekly flag of an Available slot, turning it Inactive
// on every date of that weekday.
func (c *Coordinator) DeactivateSlotPermanently(ctx context.Context, date domain.Date, slot slots.Slot) (tr *Transition, err error) {
	defer func() { metrics.IncAdminAction("deactivate_slot", err) }()

	current, err := c.resolver.ClassifySlot(ctx, date, slot)
	if err != nil {
		return nil, err
	}
	if current.State != availability.StateAvailable {
		return nil, fmt.Errorf("coordinator: %w: %s on %s is %s, only available slots can be deactivated",
			domain.ErrInvalidTransition, slot, date, current.State)
	}

	day := date.Weekday()
	if err := c.schedule.SetSlotActive(ctx, day, slot, false); err != nil {
		return nil, err
	}
	c.resolver.InvalidateWeekday(ctx, day)
	c.publish(events.ScheduleChanged, events.Change{Action: "deactivate_slot", Weekdays: []int{int(day)}, Slots: []string{slot.String()}})

	after, err := c.resolver.ClassifySlot(ctx, date, slot)
	if err != nil {
		return nil, err
	}
	return &Transition{Date: date, Slot: slot, From: current.State, To: after.State}, nil
}

// BlockEntireDay makes sure the date carries a full-day block.
func (c *Coordinator) BlockEntireDay(ctx context.Context, date domain.Date, reason string) (rec *domain.ExceptionRecord, err error) {
	defer func() { metrics.IncAdminAction("block_day", err) }()

	rec, created, err := c.exceptions.BlockDay(ctx, date, reason)
	if err != nil {
		return nil, err
	}
	c.resolver.InvalidateDates(ctx, date)
	if created {
		c.publish(events.BlockChanged, events.Change{Action: "block_day", ID: rec.ID, Dates: []string{date.String()}})
	}
	return rec, nil
}

// UnblockEntireDay cancels every active admin block of the date, partial ones included.
// Running it again is a no-op.
func (c *Coordinator) UnblockEntireDay(ctx context.Context, date domain.Date) (n int64, err error) {
	defer func() { metrics.IncAdminAction("unblock_day", err) }()

	n, err = c.exceptions.CancelAdminBlocks(ctx, date)
	if err != nil {
		return 0, err
	}
	c.resolver.InvalidateDates(ctx, date)
	if n > 0 {
		c.publish(events.BlockChanged, events.Change{Action: "unblock_day", Dates: []string{date.String()}})
	}
	return n, nil
}

// TogglePeriodBatch blocks (deactivate) or unblocks (activate) every date of [start, end].
// Dates are handled independently; failures are reported per date.
func (c *Coordinator) TogglePeriodBatch(ctx context.Context, start, end domain.Date, action BatchAction) (*BatchResult, error) {
	if action != ActionActivate && action != ActionDeactivate {
		return nil, fmt.Errorf("coordinator: %w: unknown batch action %q", domain.ErrValidation, action)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("coordinator: %w: period end %s is before start %s", domain.ErrValidation, end, start)
	}
	if days := start.DaysUntil(end) + 1; days > MaxBatchDays {
		return nil, fmt.Errorf("coordinator: %w: period of %d days exceeds %d", domain.ErrValidation, days, MaxBatchDays)
	}

	result := newBatch()
	var changed []string
	_ = domain.EachDay(start, end, func(d domain.Date) error {
		if err := ctx.Err(); err != nil {
			result.add(d.String(), false, err)
			return nil
		}
		var (
			skipped bool
			err     error
		)
		switch action {
		case ActionActivate:
			var n int64
			n, err = c.exceptions.CancelAdminBlocks(ctx, d)
			skipped = err == nil && n == 0
		case ActionDeactivate:
			var created bool
			_, created, err = c.exceptions.BlockDay(ctx, d, "")
			skipped = err == nil && !created
		}
		result.add(d.String(), skipped, err)
		if err == nil && !skipped {
			changed = append(changed, d.String())
		}
		c.resolver.InvalidateDates(ctx, d)
		return nil
	})

	if len(changed) > 0 {
		c.publish(events.BlockChanged, events.Change{Action: "period_" + string(action), Dates: changed})
	}
	failed := result.Failed()
	metrics.IncAdminAction("period_"+string(action), batchErr(failed))
	c.logger.Info().
		Str("action", string(action)).
		Str("start", start.String()).
		Str("end", end.String()).
		Int("changed", len(changed)).
		Int("failed", len(failed)).
		Msg("period batch applied")
	return result, nil
}

// ApplyWeeklyPreset applies each rule on its own so a bad rule does not discard the others.
func (c *Coordinator) ApplyWeeklyPreset(ctx context.Context, p schedule.Preset) (*BatchResult, error) {
	if len(p.Rules) == 0 {
		return nil, fmt.Errorf("coordinator: %w: empty preset", domain.ErrValidation)
	}
	result := newBatch()
	var touched []int
	for i, rule := range p.Rules {
		days, err := c.schedule.ApplyRule(ctx, rule)
		result.add(fmt.Sprintf("%d:%s", i, rule.Group), false, err)
		for _, d := range days {
			c.resolver.InvalidateWeekday(ctx, d)
			touched = append(touched, int(d))
		}
	}
	if len(touched) > 0 {
		c.publish(events.ScheduleChanged, events.Change{Action: "apply_preset", Weekdays: touched})
	}
	metrics.IncAdminAction("apply_preset", batchErr(result.Failed()))
	return result, nil
}

// EmergencyCloseAll switches all seven weekdays off. Exceptions are left alone and the
// weekly flags survive, so reopening a day restores it.
func (c *Coordinator) EmergencyCloseAll(ctx context.Context) *BatchResult {
	result := newBatch()
	var closed []int
	for d := time.Sunday; d <= time.Saturday; d++ {
		err := c.schedule.SetActive(ctx, d, false)
		result.add(d.String(), false, err)
		if err == nil {
			closed = append(closed, int(d))
		}
	}
	c.resolver.InvalidateAll(ctx)
	c.publish(events.ScheduleChanged, events.Change{Action: "emergency_close", Weekdays: closed})
	metrics.IncAdminAction("emergency_close", batchErr(result.Failed()))
	c.logger.Warn().Int("closed", len(closed)).Msg("emergency close applied")
	return result
}

// SetDayActive switches one weekday on or off, keeping its flags.
func (c *Coordinator) SetDayActive(ctx context.Context, day time.Weekday, active bool) (err error) {
	defer func() { metrics.IncAdminAction("set_day_active", err) }()

	if err := c.schedule.SetActive(ctx, day, active); err != nil {
		return err
	}
	c.resolver.InvalidateWeekday(ctx, day)
	c.publish(events.ScheduleChanged, events.Change{Action: "set_day_active", Weekdays: []int{int(day)}})
	return nil
}

// SetWeeklyEntry replaces the active switch and the full flag mapping of a weekday.
func (c *Coordinator) SetWeeklyEntry(ctx context.Context, day time.Weekday, active bool, flags slots.Flags) (err error) {
	defer func() { metrics.IncAdminAction("set_weekly_entry", err) }()

	if err := c.schedule.Put(ctx, day, active, flags); err != nil {
		return err
	}
	c.resolver.InvalidateWeekday(ctx, day)
	c.publish(events.ScheduleChanged, events.Change{Action: "set_weekly_entry", Weekdays: []int{int(day)}})
	return nil
}

// SubmitBooking turns a form selection into a pending booking. Hourly selections are expanded
// to their two halves, the halves are verified against fresh state, and the store re-checks
// occupancy inside its transaction.
func (c *Coordinator) SubmitBooking(ctx context.Context, sub Submission, cfg domain.DisplayConfig) (*domain.ExceptionRecord, error) {
	if today := domain.DateOf(c.now()); sub.Date.Before(today) {
		return nil, fmt.Errorf("coordinator: %w: %s is in the past", domain.ErrValidation, sub.Date)
	}
	if len(sub.Slots) == 0 {
		return nil, fmt.Errorf("coordinator: %w: select at least one slot", domain.ErrValidation)
	}
	if !cfg.AllowMultipleTimeSlots && len(sub.Slots) > 1 {
		return nil, fmt.Errorf("coordinator: %w: only one time slot may be selected", domain.ErrValidation)
	}

	requested := slots.NewSet(sub.Slots...).Sorted()
	if cfg.UserDisplayMode == domain.ModeOneHour {
		requested = slots.ExpandHourly(sub.Slots)
	}

	v, err := c.resolver.VerifyRequestedSlotsAvailable(ctx, sub.Date, requested)
	if err != nil {
		return nil, err
	}
	if !v.AllAvailable {
		metrics.IncBookingCreated("unavailable")
		return nil, &UnavailableError{Date: sub.Date, Unavailable: v.Unavailable}
	}

	rec, err := c.exceptions.CreateBooking(ctx, exceptions.NewBooking{
		Date:        sub.Date,
		Slots:       requested,
		CustomerRef: sub.CustomerRef,
		SessionType: sub.SessionType,
		Details:     sub.Details,
	})
	if err != nil {
		if errors.Is(err, domain.ErrSlotConflict) {
			metrics.IncSlotConflict()
			metrics.IncBookingCreated("conflict")
		}
		return nil, err
	}

	c.resolver.InvalidateDates(ctx, sub.Date)
	metrics.IncBookingCreated("created")
	metrics.IncTransition(string(rec.Kind), string(rec.Status))
	c.publish(events.BookingCreated, events.Change{
		Action: "create",
		ID:     rec.ID,
		Kind:   string(rec.Kind),
		Status: string(rec.Status),
		Dates:  []string{rec.Date.String()},
		Slots:  slots.NewSet(rec.Slots...).Labels(),
	})
	return rec, nil
}

// CancelBooking cancels a customer booking. Admin blocks under the same id space are
// reported as not found.
func (c *Coordinator) CancelBooking(ctx context.Context, id string) (*domain.ExceptionRecord, error) {
	rec, err := c.exceptions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Kind != domain.KindBooking {
		return nil, fmt.Errorf("coordinator: booking %s: %w", id, domain.ErrNotFound)
	}
	return c.CancelException(ctx, id)
}

// CancelException cancels a booking or a block by id.
func (c *Coordinator) CancelException(ctx context.Context, id string) (*domain.ExceptionRecord, error) {
	rec, err := c.exceptions.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	c.afterStatusChange(ctx, "cancel", rec)
	return rec, nil
}

func (c *Coordinator) ConfirmBooking(ctx context.Context, id string) (*domain.ExceptionRecord, error) {
	rec, err := c.exceptions.Confirm(ctx, id)
	if err != nil {
		return nil, err
	}
	c.afterStatusChange(ctx, "confirm", rec)
	return rec, nil
}

// DeleteBooking removes a booking record for good.
func (c *Coordinator) DeleteBooking(ctx context.Context, id string) (*domain.ExceptionRecord, error) {
	rec, err := c.exceptions.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	c.afterStatusChange(ctx, "delete", rec)
	return rec, nil
}

func (c *Coordinator) afterStatusChange(ctx context.Context, action string, rec *domain.ExceptionRecord) {
	c.resolver.InvalidateDates(ctx, rec.Date)
	metrics.IncTransition(string(rec.Kind), action)

	eventType := events.BookingUpdated
	if rec.Kind == domain.KindAdminBlock {
		eventType = events.BlockChanged
	}
	c.publish(eventType, events.Change{
		Action: action,
		ID:     rec.ID,
		Kind:   string(rec.Kind),
		Status: string(rec.Status),
		Dates:  []string{rec.Date.String()},
	})
}

func batchErr(failed []BatchItem) error {
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%d of batch failed", len(failed))
}
