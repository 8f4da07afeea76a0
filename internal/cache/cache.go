package cache

import (
	"context"
	"fmt"
	"time"

	"studiobook/internal/domain"
)

const keyPrefix = "availability"

// Key identifies one cached availability answer.
type Key struct {
	Date domain.Date
	Mode domain.DisplayMode
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, k.Date, k.Mode)
}

// Stamp is the invalidation generation a date had when a reader started computing its
// answer. Every invalidation covering the date moves one of the counters forward.
type Stamp struct {
	All     uint64
	Weekday uint64
	Date    uint64
}

// Cache stores encoded availability per date and display mode. Implementations treat
// their own failures as misses; a broken cache never fails a read.
//
// Readers take a Stamp before loading state and pass it to Set. Set drops the value when
// an invalidation of the date landed in between.
type Cache interface {
	Get(ctx context.Context, key Key) ([]byte, bool)
	Stamp(ctx context.Context, date domain.Date) Stamp
	Set(ctx context.Context, key Key, value []byte, stamp Stamp)
	InvalidateDate(ctx context.Context, date domain.Date)
	InvalidateWeekday(ctx context.Context, day time.Weekday)
	InvalidateAll(ctx context.Context)
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, Key) ([]byte, bool) { return nil, false }

func (Nop) Stamp(context.Context, domain.Date) Stamp { return Stamp{} }

func (Nop) Set(context.Context, Key, []byte, Stamp) {}

func (Nop) InvalidateDate(context.Context, domain.Date) {}

func (Nop) InvalidateWeekday(context.Context, time.Weekday) {}

func (Nop) InvalidateAll(context.Context) {}

var modes = []domain.DisplayMode{domain.ModeThirtyMinutes, domain.ModeOneHour}
