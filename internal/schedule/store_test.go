package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studiobook/internal/database"
	"studiobook/internal/domain"
	"studiobook/internal/slots"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(database.NewMemoryBackend(), zerolog.Nop())
	n, err := s.Provision(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, n)
	return s
}

func TestProvision(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	n, err := s.Provision(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 7)
	for i, e := range entries {
		assert.Equal(t, time.Weekday(i), e.DayOfWeek)
		assert.False(t, e.IsActive)
		assert.True(t, e.Flags.Active().Empty())
	}
}

func TestGetUnprovisioned(t *testing.T) {
	s := NewStore(database.NewMemoryBackend(), zerolog.Nop())

	_, err := s.Get(context.Background(), time.Monday)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	err = s.SetActive(context.Background(), time.Monday, true)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = s.Get(context.Background(), time.Weekday(9))
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestSetActiveKeepsFlags(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	flags := slots.FlagsFromSet(slots.NewSet(slots.MustParse("09:00"), slots.MustParse("09:30")))
	require.NoError(t, s.SetSlotFlags(ctx, time.Monday, flags))
	require.NoError(t, s.SetActive(ctx, time.Monday, true))
	require.NoError(t, s.SetActive(ctx, time.Monday, true))

	e, err := s.Get(ctx, time.Monday)
	require.NoError(t, err)
	assert.True(t, e.IsActive)
	assert.Equal(t, flags, e.Flags)

	require.NoError(t, s.SetActive(ctx, time.Monday, false))
	e, err = s.Get(ctx, time.Monday)
	require.NoError(t, err)
	assert.False(t, e.IsActive)
	assert.Equal(t, flags, e.Flags)
}

func TestSetSlotActiveWritesFullMapping(t *testing.T) {
	ctx := context.Background()
	backend := database.NewMemoryBackend()
	s := NewStore(backend, zerolog.Nop())
	_, err := s.Provision(ctx)
	require.NoError(t, err)

	// A legacy row holding only a partial mapping.
	_, err = backend.Update(ctx, database.TableWeeklySchedule,
		database.Where(database.Eq("day_of_week", int64(time.Tuesday))),
		database.Row{"time_slots": `[{"slot":"10:00","active":true}]`},
	)
	require.NoError(t, err)

	require.NoError(t, s.SetSlotActive(ctx, time.Tuesday, slots.MustParse("14:00"), true))

	rows, err := backend.Query(ctx, database.TableWeeklySchedule, database.Where(database.Eq("day_of_week", int64(time.Tuesday))))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	e, err := decodeEntry(rows[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "14:00"}, e.Flags.Active().Labels())
	assert.Contains(t, rows[0].String("time_slots"), `"slot":"23:30"`)

	require.NoError(t, s.SetSlotActive(ctx, time.Tuesday, slots.MustParse("10:00"), false))
	e, err = s.Get(ctx, time.Tuesday)
	require.NoError(t, err)
	assert.Equal(t, []string{"14:00"}, e.Flags.Active().Labels())
}

func TestActivateSlotTurnsDayOn(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SetSlotActive(ctx, time.Friday, slots.MustParse("09:00"), true))

	require.NoError(t, s.ActivateSlot(ctx, time.Friday, slots.MustParse("17:30")))
	e, err := s.Get(ctx, time.Friday)
	require.NoError(t, err)
	assert.True(t, e.IsActive)
	assert.Equal(t, []string{"09:00", "17:30"}, e.Flags.Active().Labels())

	assert.True(t, errors.Is(s.ActivateSlot(ctx, time.Friday, 48), domain.ErrValidation))
}

func TestApplyPreset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.ActivateAll(ctx, time.Wednesday))

	touched, err := s.ApplyPreset(ctx, Preset{
		Name: "standard",
		Rules: []PresetRule{
			{Group: GroupWeekdays, Active: true, Start: "09:00", End: "18:00"},
			{Group: GroupSaturday, Active: true, Start: "10:00", End: "14:00"},
			{Group: GroupSunday, Active: false},
		},
	})
	require.NoError(t, err)
	assert.Len(t, touched, 7)

	wed, err := s.Get(ctx, time.Wednesday)
	require.NoError(t, err)
	assert.True(t, wed.IsActive)
	assert.Equal(t, 18, wed.Flags.Active().Len())
	assert.Equal(t, "09:00", wed.Flags.Active().Sorted()[0].String())
	assert.Equal(t, "17:30", wed.Flags.Active().Sorted()[17].String())

	sat, err := s.Get(ctx, time.Saturday)
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "10:30", "11:00", "11:30", "12:00", "12:30", "13:00", "13:30"}, sat.Flags.Active().Labels())

	sun, err := s.Get(ctx, time.Sunday)
	require.NoError(t, err)
	assert.False(t, sun.IsActive)
	assert.True(t, sun.Flags.Active().Empty())
}

func TestApplyPresetValidation(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	tests := []struct {
		name string
		rule PresetRule
	}{
		{name: "unknown group", rule: PresetRule{Group: "holidays"}},
		{name: "custom without days", rule: PresetRule{Group: GroupCustom}},
		{name: "custom with bad day", rule: PresetRule{Group: GroupCustom, Days: []time.Weekday{8}}},
		{name: "active without range", rule: PresetRule{Group: GroupSunday, Active: true}},
		{name: "inverted range", rule: PresetRule{Group: GroupSunday, Active: true, Start: "18:00", End: "09:00"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ApplyRule(ctx, tt.rule)
			assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
		})
	}

	_, err := s.ApplyPreset(ctx, Preset{})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestApplyPresetIsAtomic(t *testing.T) {
	ctx := context.Background()
	backend := database.NewMemoryBackend()
	s := NewStore(backend, zerolog.Nop())
	_, err := s.Provision(ctx)
	require.NoError(t, err)

	// Saturday row missing: the whole preset must roll back.
	_, err = backend.Delete(ctx, database.TableWeeklySchedule, database.Where(database.Eq("day_of_week", int64(time.Saturday))))
	require.NoError(t, err)

	_, err = s.ApplyPreset(ctx, Preset{Rules: []PresetRule{{Group: GroupEveryday, Active: true, Start: "09:00", End: "10:00"}}})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	mon, err := s.Get(ctx, time.Monday)
	require.NoError(t, err)
	assert.False(t, mon.IsActive)
}

func TestApplyOfficeHours(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.ActivateAll(ctx, time.Friday))
	require.NoError(t, s.ApplyOfficeHours(ctx, time.Friday, "09:00", "11:00"))

	fri, err := s.Get(ctx, time.Friday)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30"}, fri.Flags.Active().Labels())

	err = s.ApplyOfficeHours(ctx, time.Friday, "11:00", "09:00")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}
