package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studiobook/internal/slots"
)

func TestDate(t *testing.T) {
	t.Run("Parse", func(t *testing.T) {
		d, err := ParseDate("2025-03-03")
		require.NoError(t, err)
		assert.Equal(t, Date{Year: 2025, Month: time.March, Day: 3}, d)
		assert.Equal(t, time.Monday, d.Weekday())
		assert.Equal(t, "2025-03-03", d.String())

		_, err = ParseDate("03/03/2025")
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("Arithmetic", func(t *testing.T) {
		d := MustParseDate("2025-02-27")
		assert.Equal(t, "2025-03-01", d.AddDays(2).String())
		assert.Equal(t, 2, d.DaysUntil(d.AddDays(2)))
		assert.True(t, d.Before(d.AddDays(1)))
		assert.True(t, d.AddDays(1).After(d))
		assert.Equal(t, "2024-12-31", NewDate(2025, time.January, 0).String())
	})

	t.Run("MonthRange", func(t *testing.T) {
		first, last, err := MonthRange(2024, time.February)
		require.NoError(t, err)
		assert.Equal(t, "2024-02-01", first.String())
		assert.Equal(t, "2024-02-29", last.String())

		_, _, err = MonthRange(2024, 13)
		assert.ErrorIs(t, err, ErrValidation)

		assert.Equal(t, 28, DaysInMonth(2025, time.February))
		assert.Equal(t, 31, DaysInMonth(2025, time.December))
		assert.True(t, first.Equal(NewDate(2024, time.January, 32)))
	})

	t.Run("EachDay", func(t *testing.T) {
		var seen []string
		err := EachDay(MustParseDate("2025-03-01"), MustParseDate("2025-03-03"), func(d Date) error {
			seen = append(seen, d.String())
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"2025-03-01", "2025-03-02", "2025-03-03"}, seen)
	})

	t.Run("JSON", func(t *testing.T) {
		raw, err := json.Marshal(struct {
			D Date `json:"d"`
		}{D: MustParseDate("2025-01-05")})
		require.NoError(t, err)
		assert.JSONEq(t, `{"d":"2025-01-05"}`, string(raw))

		var back struct {
			D Date `json:"d"`
		}
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.Equal(t, "2025-01-05", back.D.String())
	})
}

func TestExceptionRecordOccupancy(t *testing.T) {
	ten := slots.MustParse("10:00")
	records := []ExceptionRecord{
		{Kind: KindBooking, Status: StatusPending, Slots: []slots.Slot{ten}},
		{Kind: KindBooking, Status: StatusCancelled, Slots: []slots.Slot{slots.MustParse("11:00")}},
		{Kind: KindAdminBlock, Status: StatusConfirmed, Slots: []slots.Slot{slots.MustParse("12:00")}},
	}

	booked, blocked := Occupancy(records)
	assert.Equal(t, []string{"10:00"}, booked.Labels())
	assert.Equal(t, []string{"12:00"}, blocked.Labels())

	fullDay := ExceptionRecord{Kind: KindAdminBlock, Status: StatusConfirmed, Slots: []slots.Slot{slots.Midnight}}
	assert.True(t, fullDay.IsFullDay())
	assert.Equal(t, slots.PerDay, fullDay.Occupied().Len())

	midnightBooking := ExceptionRecord{Kind: KindBooking, Status: StatusPending, Slots: []slots.Slot{slots.Midnight}}
	assert.False(t, midnightBooking.IsFullDay())
	assert.Equal(t, 1, midnightBooking.Occupied().Len())
}

func TestWeeklyScheduleEntryCandidates(t *testing.T) {
	entry := WeeklyScheduleEntry{
		DayOfWeek: time.Monday,
		IsActive:  true,
		Flags:     slots.FlagsFromSet(slots.NewSet(slots.MustParse("09:00"))),
	}
	assert.Equal(t, []string{"09:00"}, entry.Candidates().Labels())

	entry.IsActive = false
	assert.True(t, entry.Candidates().Empty())
}

func TestDisplayMode(t *testing.T) {
	m, err := ParseDisplayMode("30min")
	require.NoError(t, err)
	assert.Equal(t, ModeThirtyMinutes, m)

	_, err = ParseDisplayMode("15min")
	assert.True(t, errors.Is(err, ErrValidation))

	assert.Equal(t, ModeOneHour, DefaultDisplayConfig().UserDisplayMode)
}
