package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studiobook/internal/availability"
	"studiobook/internal/cache"
	"studiobook/internal/config"
	"studiobook/internal/coordinator"
	"studiobook/internal/database"
	"studiobook/internal/domain"
	"studiobook/internal/events"
	"studiobook/internal/exceptions"
	"studiobook/internal/schedule"
)

func TestToPreset(t *testing.T) {
	cfg := &config.PresetsConfig{
		Weekly: []config.PresetRuleConfig{
			{Group: "weekdays", Active: true, Start: "10:00", End: "19:00"},
			{Group: "custom", Days: []int{0, 6}, Active: false},
		},
		Holidays: []config.HolidayConfig{{Date: "2026-01-01", Reason: "new year"}},
	}

	p, holidays, err := toPreset(cfg)
	require.NoError(t, err)
	require.Len(t, p.Rules, 2)
	assert.Equal(t, schedule.GroupWeekdays, p.Rules[0].Group)
	assert.Equal(t, []time.Weekday{time.Sunday, time.Saturday}, p.Rules[1].Days)
	require.Len(t, holidays, 1)
	assert.Equal(t, domain.MustParseDate("2026-01-01"), holidays[0].date)
	assert.Equal(t, "new year", holidays[0].reason)

	_, _, err = toPreset(&config.PresetsConfig{Holidays: []config.HolidayConfig{{Date: "01.01.2026"}}})
	assert.Error(t, err)
}

func TestApplyPresets(t *testing.T) {
	ctx := context.Background()
	backend := database.NewMemoryBackend()
	sched := schedule.NewStore(backend, zerolog.Nop())
	_, err := sched.Provision(ctx)
	require.NoError(t, err)
	exc := exceptions.NewStore(backend, zerolog.Nop())
	resolver := availability.NewResolver(sched, exc, cache.NewMemory(time.Minute), availability.DefaultOfficeHours(), zerolog.Nop())
	coord := coordinator.New(sched, exc, resolver, events.NewEventBus(zerolog.Nop()), zerolog.Nop())

	applyPresets(ctx, coord, &config.PresetsConfig{
		Weekly:   []config.PresetRuleConfig{{Group: "everyday", Active: true, Start: "09:00", End: "12:00"}},
		Holidays: []config.HolidayConfig{{Date: "2025-03-04", Reason: "holiday"}},
	}, zerolog.Nop())

	items, err := resolver.AvailableSlots(ctx, domain.MustParseDate("2025-03-03"), domain.ModeThirtyMinutes)
	require.NoError(t, err)
	assert.Len(t, items, 6)

	items, err = resolver.AvailableSlots(ctx, domain.MustParseDate("2025-03-04"), domain.ModeThirtyMinutes)
	require.NoError(t, err)
	assert.Empty(t, items)

	// reapplying the same file is harmless
	applyPresets(ctx, coord, &config.PresetsConfig{
		Holidays: []config.HolidayConfig{{Date: "2025-03-04", Reason: "holiday"}},
	}, zerolog.Nop())
	recs, err := exc.ListForDate(ctx, domain.MustParseDate("2025-03-04"))
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
