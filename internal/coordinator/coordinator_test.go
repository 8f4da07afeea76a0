package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studiobook/internal/availability"
	"studiobook/internal/cache"
	"studiobook/internal/database"
	"studiobook/internal/domain"
	"studiobook/internal/events"
	"studiobook/internal/exceptions"
	"studiobook/internal/schedule"
	"studiobook/internal/slots"
)

type fixture struct {
	schedule    *schedule.Store
	exceptions  *exceptions.Store
	resolver    *availability.Resolver
	coordinator *Coordinator
	published   []events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	backend := database.NewMemoryBackend()
	f := &fixture{
		schedule:   schedule.NewStore(backend, zerolog.Nop()),
		exceptions: exceptions.NewStore(backend, zerolog.Nop()),
	}
	_, err := f.schedule.Provision(ctx)
	require.NoError(t, err)

	// Every day open 09:00 to 18:00.
	_, err = f.schedule.ApplyRule(ctx, schedule.PresetRule{Group: schedule.GroupEveryday, Active: true, Start: "09:00", End: "18:00"})
	require.NoError(t, err)

	f.resolver = availability.NewResolver(f.schedule, f.exceptions, cache.NewMemory(time.Minute), availability.DefaultOfficeHours(), zerolog.Nop())
	bus := events.NewEventBus(zerolog.Nop())
	bus.Subscribe("*", func(e events.Event) error {
		f.published = append(f.published, e)
		return nil
	})
	f.coordinator = New(f.schedule, f.exceptions, f.resolver, bus, zerolog.Nop())
	f.resolver.SetClock(clock)
	f.coordinator.SetClock(clock)
	return f
}

// clock pins today to 2025-03-01, a Saturday.
func clock() time.Time { return time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC) }

func (f *fixture) available(t *testing.T, d domain.Date) []string {
	t.Helper()
	items, err := f.resolver.AvailableSlots(context.Background(), d, domain.ModeThirtyMinutes)
	require.NoError(t, err)
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Slot.String())
	}
	return out
}

func (f *fixture) state(t *testing.T, d domain.Date, label string) availability.State {
	t.Helper()
	st, err := f.resolver.ClassifySlot(context.Background(), d, slots.MustParse(label))
	require.NoError(t, err)
	return st.State
}

var day = domain.MustParseDate("2025-03-03")

func TestPeriodBatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	start, end := domain.MustParseDate("2025-03-01"), domain.MustParseDate("2025-03-03")

	before := map[domain.Date][]string{}
	for d := start; !d.After(end); d = d.AddDays(1) {
		before[d] = f.available(t, d)
		require.NotEmpty(t, before[d])
	}

	res, err := f.coordinator.TogglePeriodBatch(ctx, start, end, ActionDeactivate)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, res.Items, 3)
	for d := range before {
		assert.Empty(t, f.available(t, d), d)
	}

	again, err := f.coordinator.TogglePeriodBatch(ctx, start, end, ActionDeactivate)
	require.NoError(t, err)
	for _, it := range again.Items {
		assert.True(t, it.Skipped, it.Key)
	}

	res, err = f.coordinator.TogglePeriodBatch(ctx, start, end, ActionActivate)
	require.NoError(t, err)
	assert.True(t, res.Success)
	for d, want := range before {
		assert.Equal(t, want, f.available(t, d), d)
	}

	res, err = f.coordinator.TogglePeriodBatch(ctx, start, end, ActionActivate)
	require.NoError(t, err)
	assert.True(t, res.Success)
	for _, it := range res.Items {
		assert.True(t, it.Skipped)
	}
}

func TestPeriodBatchValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.coordinator.TogglePeriodBatch(ctx, day, day.AddDays(-1), ActionActivate)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = f.coordinator.TogglePeriodBatch(ctx, day, day.AddDays(MaxBatchDays), ActionActivate)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = f.coordinator.TogglePeriodBatch(ctx, day, day, "pause")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestToggleReservedSlotIsRefused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.exceptions.CreateBooking(ctx, exceptions.NewBooking{Date: day, Slots: []slots.Slot{slots.MustParse("14:00")}, CustomerRef: "c"})
	require.NoError(t, err)
	records, err := f.exceptions.ListForRange(ctx, day, day, exceptions.RangeFilter{IncludeCancelled: true})
	require.NoError(t, err)
	entry, err := f.schedule.Get(ctx, day.Weekday())
	require.NoError(t, err)

	_, err = f.coordinator.ToggleSlot(ctx, day, slots.MustParse("14:00"))
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	after, err := f.exceptions.ListForRange(ctx, day, day, exceptions.RangeFilter{IncludeCancelled: true})
	require.NoError(t, err)
	assert.Equal(t, records, after)
	entryAfter, err := f.schedule.Get(ctx, day.Weekday())
	require.NoError(t, err)
	assert.Equal(t, entry.Flags, entryAfter.Flags)
	assert.Equal(t, entry.IsActive, entryAfter.IsActive)
	assert.Empty(t, f.published)
}

func TestToggleSlotTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tr, err := f.coordinator.ToggleSlot(ctx, day, slots.MustParse("10:00"))
	require.NoError(t, err)
	assert.Equal(t, availability.StateAvailable, tr.From)
	assert.Equal(t, availability.StateBlocked, tr.To)
	assert.NotContains(t, f.available(t, day), "10:00")

	tr, err = f.coordinator.ToggleSlot(ctx, day, slots.MustParse("10:00"))
	require.NoError(t, err)
	assert.Equal(t, availability.StateBlocked, tr.From)
	assert.Equal(t, availability.StateAvailable, tr.To)
	assert.Contains(t, f.available(t, day), "10:00")

	tr, err = f.coordinator.ToggleSlot(ctx, day, slots.MustParse("19:00"))
	require.NoError(t, err)
	assert.Equal(t, availability.StateOutsideOffice, tr.From)
	assert.Equal(t, availability.StateAvailable, tr.To)
	// Weekly change: every Monday gets 19:00.
	assert.Contains(t, f.available(t, day.AddDays(7)), "19:00")

	require.Len(t, f.published, 3)
	assert.Equal(t, events.ScheduleChanged, f.published[2].Type)
}

func TestToggleSlotActivatesInactiveDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.coordinator.SetDayActive(ctx, day.Weekday(), false))
	assert.Equal(t, availability.StateInactive, f.state(t, day, "09:00"))

	tr, err := f.coordinator.ToggleSlot(ctx, day, slots.MustParse("09:00"))
	require.NoError(t, err)
	assert.Equal(t, availability.StateInactive, tr.From)
	assert.Equal(t, availability.StateAvailable, tr.To)
}

func TestDeactivateSlotPermanently(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tr, err := f.coordinator.DeactivateSlotPermanently(ctx, day, slots.MustParse("12:00"))
	require.NoError(t, err)
	assert.Equal(t, availability.StateInactive, tr.To)
	assert.NotContains(t, f.available(t, day.AddDays(7)), "12:00")

	_, err = f.coordinator.DeactivateSlotPermanently(ctx, day, slots.MustParse("12:00"))
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestBlockAndUnblockEntireDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Partial blocks accumulated over time are all cleared by the unblock.
	_, err := f.coordinator.ToggleSlot(ctx, day, slots.MustParse("09:00"))
	require.NoError(t, err)
	_, err = f.coordinator.ToggleSlot(ctx, day, slots.MustParse("11:00"))
	require.NoError(t, err)

	rec, err := f.coordinator.BlockEntireDay(ctx, day, "closed")
	require.NoError(t, err)
	assert.True(t, rec.IsFullDay())
	assert.Empty(t, f.available(t, day))

	_, err = f.exceptions.CreateAdminBlock(ctx, day.AddDays(1), []slots.Slot{slots.MustParse("09:00")}, "")
	require.NoError(t, err)

	n, err := f.coordinator.UnblockEntireDay(ctx, day)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Len(t, f.available(t, day), 18)

	n, err = f.coordinator.UnblockEntireDay(ctx, day)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.available(t, day), 18)
	assert.NotContains(t, f.available(t, day.AddDays(1)), "09:00")
}

func TestEmergencyCloseAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NotEmpty(t, f.available(t, day))

	res := f.coordinator.EmergencyCloseAll(ctx)
	assert.True(t, res.Success)
	assert.Len(t, res.Items, 7)
	for i := 0; i < 7; i++ {
		assert.Empty(t, f.available(t, day.AddDays(i)))
	}

	require.NoError(t, f.coordinator.SetDayActive(ctx, day.Weekday(), true))
	assert.Len(t, f.available(t, day), 18)
}

func TestApplyWeeklyPreset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NotEmpty(t, f.available(t, day))

	res, err := f.coordinator.ApplyWeeklyPreset(ctx, schedule.Preset{Rules: []schedule.PresetRule{
		{Group: schedule.GroupWeekdays, Active: true, Start: "10:00", End: "12:00"},
		{Group: "holidays", Active: true},
	}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Failed(), 1)
	assert.True(t, errors.Is(res.Failed()[0].Err, domain.ErrValidation))

	assert.Equal(t, []string{"10:00", "10:30", "11:00", "11:30"}, f.available(t, day))

	_, err = f.coordinator.ApplyWeeklyPreset(ctx, schedule.Preset{})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestSetWeeklyEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NotEmpty(t, f.available(t, day))

	flags := slots.FlagsFromSet(slots.NewSet(slots.MustParse("20:00")))
	require.NoError(t, f.coordinator.SetWeeklyEntry(ctx, day.Weekday(), true, flags))
	assert.Equal(t, []string{"20:00"}, f.available(t, day))
}

func TestSubmitBooking(t *testing.T) {
	ctx := context.Background()
	hourly := domain.DisplayConfig{UserDisplayMode: domain.ModeOneHour}
	multi := domain.DisplayConfig{UserDisplayMode: domain.ModeThirtyMinutes, AllowMultipleTimeSlots: true}

	t.Run("hourly selection books both halves", func(t *testing.T) {
		f := newFixture(t)
		require.NotEmpty(t, f.available(t, day))

		rec, err := f.coordinator.SubmitBooking(ctx, Submission{Date: day, Slots: []slots.Slot{slots.MustParse("10:00")}, CustomerRef: "c"}, hourly)
		require.NoError(t, err)
		assert.Equal(t, []slots.Slot{slots.MustParse("10:00"), slots.MustParse("10:30")}, rec.Slots)
		assert.NotContains(t, f.available(t, day), "10:30")
		assert.Equal(t, events.BookingCreated, f.published[len(f.published)-1].Type)
	})

	t.Run("single selection enforced", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.coordinator.SubmitBooking(ctx, Submission{Date: day, Slots: []slots.Slot{10, 20}, CustomerRef: "c"}, hourly)
		assert.True(t, errors.Is(err, domain.ErrValidation))

		_, err = f.coordinator.SubmitBooking(ctx, Submission{Date: day, CustomerRef: "c"}, multi)
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})

	t.Run("past dates are refused", func(t *testing.T) {
		f := newFixture(t)
		yesterday := domain.DateOf(clock()).AddDays(-1)
		_, err := f.coordinator.SubmitBooking(ctx, Submission{Date: yesterday, Slots: []slots.Slot{slots.MustParse("10:00")}, CustomerRef: "c"}, multi)
		assert.True(t, errors.Is(err, domain.ErrValidation))

		_, err = f.coordinator.SubmitBooking(ctx, Submission{Date: domain.MustParseDate("2001-01-01"), Slots: []slots.Slot{slots.MustParse("10:00")}, CustomerRef: "c"}, multi)
		assert.True(t, errors.Is(err, domain.ErrValidation))

		recs, err := f.exceptions.ListForDate(ctx, yesterday)
		require.NoError(t, err)
		assert.Empty(t, recs)

		rec, err := f.coordinator.SubmitBooking(ctx, Submission{Date: domain.DateOf(clock()), Slots: []slots.Slot{slots.MustParse("10:00")}, CustomerRef: "c"}, multi)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, rec.Status)
	})

	t.Run("stale selection is rejected with reasons", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.coordinator.SubmitBooking(ctx, Submission{Date: day, Slots: []slots.Slot{slots.MustParse("09:30")}, CustomerRef: "a"}, multi)
		require.NoError(t, err)

		_, err = f.coordinator.SubmitBooking(ctx, Submission{Date: day, Slots: []slots.Slot{slots.MustParse("09:00")}, CustomerRef: "b"}, hourly)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrSlotConflict))

		var unavailable *UnavailableError
		require.True(t, errors.As(err, &unavailable))
		require.Len(t, unavailable.Unavailable, 1)
		assert.Equal(t, availability.ReasonAlreadyOccupied, unavailable.Unavailable[0].Reason)
		assert.Equal(t, "09:30", unavailable.Unavailable[0].Slot.String())
	})

	t.Run("cancel frees the slot", func(t *testing.T) {
		f := newFixture(t)
		rec, err := f.coordinator.SubmitBooking(ctx, Submission{Date: day, Slots: []slots.Slot{slots.MustParse("15:00")}, CustomerRef: "a"}, multi)
		require.NoError(t, err)
		assert.NotContains(t, f.available(t, day), "15:00")

		confirmed, err := f.coordinator.ConfirmBooking(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusConfirmed, confirmed.Status)

		_, err = f.coordinator.CancelException(ctx, rec.ID)
		require.NoError(t, err)
		assert.Contains(t, f.available(t, day), "15:00")

		_, err = f.coordinator.DeleteBooking(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, events.BookingUpdated, f.published[len(f.published)-1].Type)
	})
}

func TestCancelBookingRefusesBlocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	block, err := f.coordinator.BlockEntireDay(ctx, day, "maintenance")
	require.NoError(t, err)

	_, err = f.coordinator.CancelBooking(ctx, block.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	still, err := f.exceptions.Get(ctx, block.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, still.Status)

	other := day.AddDays(1)
	rec, err := f.coordinator.SubmitBooking(ctx, Submission{Date: other, Slots: []slots.Slot{slots.MustParse("11:00")}, CustomerRef: "c"}, domain.DisplayConfig{UserDisplayMode: domain.ModeThirtyMinutes})
	require.NoError(t, err)
	cancelled, err := f.coordinator.CancelBooking(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Contains(t, f.available(t, other), "11:00")

	_, err = f.coordinator.CancelBooking(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

// twoStepSchedule refuses the separate flag and day writes.
type twoStepSchedule struct {
	*schedule.Store
}

func (twoStepSchedule) SetActive(context.Context, time.Weekday, bool) error {
	return errors.New("separate day write")
}

func (twoStepSchedule) SetSlotActive(context.Context, time.Weekday, slots.Slot, bool) error {
	return errors.New("separate flag write")
}

func TestToggleSlotActivatesDayInOneWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.schedule.SetActive(ctx, day.Weekday(), false))
	require.NoError(t, f.schedule.SetSlotActive(ctx, day.Weekday(), slots.MustParse("12:00"), false))
	f.resolver.InvalidateAll(ctx)

	c := New(twoStepSchedule{f.schedule}, f.exceptions, f.resolver, nil, zerolog.Nop())
	tr, err := c.ToggleSlot(ctx, day, slots.MustParse("12:00"))
	require.NoError(t, err)
	assert.Equal(t, availability.StateInactive, tr.From)
	assert.Equal(t, availability.StateAvailable, tr.To)

	entry, err := f.schedule.Get(ctx, day.Weekday())
	require.NoError(t, err)
	assert.True(t, entry.IsActive)
	assert.True(t, entry.Flags[slots.MustParse("12:00")])
	assert.True(t, entry.Flags[slots.MustParse("09:00")])
}

// lateWriter runs write once, right after the resolver has read the exceptions of a date
// and before it stores its answer.
type lateWriter struct {
	*exceptions.Store
	fired bool
	write func()
}

func (w *lateWriter) ListForDate(ctx context.Context, date domain.Date) ([]domain.ExceptionRecord, error) {
	recs, err := w.Store.ListForDate(ctx, date)
	if !w.fired && w.write != nil {
		w.fired = true
		w.write()
	}
	return recs, err
}

func TestBookingDuringCacheFillIsNotServedStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	reader := &lateWriter{Store: f.exceptions}
	resolver := availability.NewResolver(f.schedule, reader, cache.NewMemory(time.Minute), availability.DefaultOfficeHours(), zerolog.Nop())
	resolver.SetClock(clock)
	c := New(f.schedule, f.exceptions, resolver, nil, zerolog.Nop())
	c.SetClock(clock)

	ten := slots.MustParse("10:00")
	reader.write = func() {
		_, err := c.SubmitBooking(ctx, Submission{Date: day, Slots: []slots.Slot{ten}, CustomerRef: "c"}, domain.DisplayConfig{UserDisplayMode: domain.ModeThirtyMinutes})
		require.NoError(t, err)
	}

	first, err := resolver.AvailableSlots(ctx, day, domain.ModeThirtyMinutes)
	require.NoError(t, err)
	require.True(t, reader.fired)
	assert.True(t, containsSlot(first, ten), "first answer was read before the booking")

	second, err := resolver.AvailableSlots(ctx, day, domain.ModeThirtyMinutes)
	require.NoError(t, err)
	assert.False(t, containsSlot(second, ten), "10:00 reported available after the booking committed")
}

func containsSlot(items []availability.AvailableSlot, s slots.Slot) bool {
	for _, it := range items {
		if it.Slot == s {
			return true
		}
	}
	return false
}

type exceptionsMock struct {
	mock.Mock
	ExceptionWriter
}

func (m *exceptionsMock) BlockDay(ctx context.Context, date domain.Date, reason string) (*domain.ExceptionRecord, bool, error) {
	args := m.Called(ctx, date, reason)
	rec, _ := args.Get(0).(*domain.ExceptionRecord)
	return rec, args.Bool(1), args.Error(2)
}

type recordingResolver struct {
	Resolver
	invalidated []domain.Date
}

func (r *recordingResolver) InvalidateDates(_ context.Context, dates ...domain.Date) {
	r.invalidated = append(r.invalidated, dates...)
}

func TestPeriodBatchReportsPartialFailure(t *testing.T) {
	ctx := context.Background()
	start := domain.MustParseDate("2025-03-01")

	exc := &exceptionsMock{}
	exc.On("BlockDay", mock.Anything, start, "").Return(&domain.ExceptionRecord{ID: "a"}, true, nil)
	exc.On("BlockDay", mock.Anything, start.AddDays(1), "").Return(nil, false, domain.ErrBackendUnavailable)
	exc.On("BlockDay", mock.Anything, start.AddDays(2), "").Return(nil, false, domain.ErrSlotConflict)
	exc.On("BlockDay", mock.Anything, start.AddDays(3), "").Return(&domain.ExceptionRecord{ID: "b"}, true, nil)
	res := &recordingResolver{}

	c := New(nil, exc, res, nil, zerolog.Nop())
	result, err := c.TogglePeriodBatch(ctx, start, start.AddDays(3), ActionDeactivate)
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Items, 4)
	failed := result.Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, "2025-03-02", failed[0].Key)
	assert.True(t, errors.Is(failed[0].Err, domain.ErrBackendUnavailable))
	assert.Equal(t, "2025-03-03", failed[1].Key)
	assert.True(t, errors.Is(failed[1].Err, domain.ErrSlotConflict))
	assert.Len(t, res.invalidated, 4)
	exc.AssertExpectations(t)
}
