package audit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"studiobook/internal/availability"
	"studiobook/internal/cache"
	"studiobook/internal/database"
	"studiobook/internal/domain"
	"studiobook/internal/exceptions"
	"studiobook/internal/schedule"
	"studiobook/internal/slots"
)

func newReporter(t *testing.T) (*Reporter, *exceptions.Store) {
	t.Helper()
	ctx := context.Background()
	backend := database.NewMemoryBackend()
	sched := schedule.NewStore(backend, zerolog.Nop())
	_, err := sched.Provision(ctx)
	require.NoError(t, err)
	_, err = sched.ApplyRule(ctx, schedule.PresetRule{Group: schedule.GroupEveryday, Active: true, Start: "09:00", End: "18:00"})
	require.NoError(t, err)

	exc := exceptions.NewStore(backend, zerolog.Nop())
	resolver := availability.NewResolver(sched, exc, cache.Nop{}, availability.DefaultOfficeHours(), zerolog.Nop())
	return NewReporter(exc, resolver, zerolog.Nop()), exc
}

func seed(t *testing.T, exc *exceptions.Store) {
	t.Helper()
	ctx := context.Background()
	_, err := exc.CreateBooking(ctx, exceptions.NewBooking{
		Date:        domain.MustParseDate("2025-03-03"),
		Slots:       []slots.Slot{slots.MustParse("10:00"), slots.MustParse("10:30")},
		CustomerRef: "client-7",
		SessionType: "portrait",
	})
	require.NoError(t, err)
	cancelled, err := exc.CreateBooking(ctx, exceptions.NewBooking{
		Date:        domain.MustParseDate("2025-03-04"),
		Slots:       []slots.Slot{slots.MustParse("12:00")},
		CustomerRef: "client-8",
	})
	require.NoError(t, err)
	_, err = exc.Cancel(ctx, cancelled.ID)
	require.NoError(t, err)
	_, _, err = exc.BlockDay(ctx, domain.MustParseDate("2025-03-08"), "holiday")
	require.NoError(t, err)
	// outside the month
	_, _, err = exc.BlockDay(ctx, domain.MustParseDate("2025-04-01"), "")
	require.NoError(t, err)
}

func TestExportWorkbook(t *testing.T) {
	r, exc := newReporter(t)
	seed(t, exc)

	var buf bytes.Buffer
	require.NoError(t, r.Export(context.Background(), 2025, time.March, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{sheetBookings, sheetBlocks, sheetSummary}, f.GetSheetList())

	rows, err := f.GetRows(sheetBookings)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Customer", rows[0][4])
	assert.Equal(t, "2025-03-03", rows[1][1])
	assert.Equal(t, "10:00 - 11:00 (60 min)", rows[1][2])
	assert.Equal(t, "client-7", rows[1][4])
	assert.Equal(t, string(domain.StatusCancelled), rows[2][3])

	rows, err = f.GetRows(sheetBlocks)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "full day", rows[1][2])
	assert.Equal(t, "holiday", rows[1][4])

	rows, err = f.GetRows(sheetSummary)
	require.NoError(t, err)
	summary := map[string]string{}
	for _, row := range rows[1:] {
		summary[row[0]] = row[1]
	}
	assert.Equal(t, "2025-03", summary["Month"])
	assert.Equal(t, "31", summary["Days"])
	assert.Equal(t, "1", summary["Active bookings"])
	assert.Equal(t, "1", summary["Fully blocked days"])
	assert.Equal(t, "30", summary["Days with free slots"])
	assert.Equal(t, "3", summary["Records incl. cancelled"])
}

type failingLister struct{}

func (failingLister) ListForRange(context.Context, domain.Date, domain.Date, exceptions.RangeFilter) ([]domain.ExceptionRecord, error) {
	return nil, domain.ErrBackendUnavailable
}

func TestExportPropagatesErrors(t *testing.T) {
	r := NewReporter(failingLister{}, nil, zerolog.Nop())
	err := r.Export(context.Background(), 2025, time.March, &bytes.Buffer{})
	assert.True(t, errors.Is(err, domain.ErrBackendUnavailable))

	err = r.Export(context.Background(), 2025, 13, &bytes.Buffer{})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestServiceWritesPreviousMonth(t *testing.T) {
	r, exc := newReporter(t)
	seed(t, exc)
	dir := filepath.Join(t.TempDir(), "reports")

	svc := NewService(r, dir, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2025, time.April, 1, 0, 1, 0, 0, time.UTC) }

	path, err := svc.ExportPreviousMonth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "studio_2025_03.xlsx"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestNextFirstOfMonth(t *testing.T) {
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC), time.Date(2025, 4, 1, 0, 1, 0, 0, time.UTC)},
		{time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)},
		{time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), time.Date(2025, 2, 1, 0, 1, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextFirstOfMonth(tt.now))
	}
}
