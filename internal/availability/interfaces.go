package availability

import (
	"context"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/exceptions"
)

type ScheduleReader interface {
	Get(ctx context.Context, day time.Weekday) (*domain.WeeklyScheduleEntry, error)
}

type ExceptionReader interface {
	ListForDate(ctx context.Context, date domain.Date) ([]domain.ExceptionRecord, error)
	ListForRange(ctx context.Context, start, end domain.Date, f exceptions.RangeFilter) ([]domain.ExceptionRecord, error)
}
