package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"studiobook/internal/database"
	"studiobook/internal/domain"
	"studiobook/internal/slots"
)

// Store keeps the seven weekly template rows.
type Store struct {
	backend database.Backend
	logger  zerolog.Logger
	now     func() time.Time
}

func NewStore(backend database.Backend, logger zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger.With().Str("component", "schedule").Logger(),
		now:     time.Now,
	}
}

// Provision creates the weekday rows that do not exist yet: inactive, every slot off.
// Existing rows are left alone. Returns the number of rows created.
func (s *Store) Provision(ctx context.Context) (int, error) {
	created := 0
	err := s.backend.Tx(ctx, func(ctx context.Context, tx database.Backend) error {
		rows, err := tx.Query(ctx, database.TableWeeklySchedule, nil)
		if err != nil {
			return err
		}
		existing := make(map[int64]bool, len(rows))
		for _, r := range rows {
			existing[r.Int64("day_of_week")] = true
		}

		now := s.now().UTC()
		var missing []database.Row
		for day := time.Sunday; day <= time.Saturday; day++ {
			if existing[int64(day)] {
				continue
			}
			raw, err := encodeFlags(slots.Flags{})
			if err != nil {
				return err
			}
			missing = append(missing, database.Row{
				"day_of_week": int64(day),
				"is_active":   false,
				"time_slots":  raw,
				"created_at":  now,
				"updated_at":  now,
			})
		}
		if len(missing) == 0 {
			return nil
		}
		if _, err := tx.Insert(ctx, database.TableWeeklySchedule, missing...); err != nil {
			return err
		}
		created = len(missing)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("schedule: provision: %w", err)
	}
	if created > 0 {
		s.logger.Info().Int("created", created).Msg("weekly schedule provisioned")
	}
	return created, nil
}

// Get returns the entry of one weekday. ErrNotFound means the rows were never provisioned.
func (s *Store) Get(ctx context.Context, day time.Weekday) (*domain.WeeklyScheduleEntry, error) {
	if !domain.ValidWeekday(day) {
		return nil, fmt.Errorf("schedule: %w: invalid weekday %d", domain.ErrValidation, int(day))
	}
	return s.get(ctx, s.backend, day)
}

func (s *Store) get(ctx context.Context, b database.Backend, day time.Weekday) (*domain.WeeklyScheduleEntry, error) {
	rows, err := b.Query(ctx, database.TableWeeklySchedule, database.Where(database.Eq("day_of_week", int64(day))))
	if err != nil {
		return nil, fmt.Errorf("schedule: get %s: %w", day, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("schedule: weekly entry for %s: %w", day, domain.ErrNotFound)
	}
	return decodeEntry(rows[0])
}

// List returns all entries ordered Sunday to Saturday.
func (s *Store) List(ctx context.Context) ([]domain.WeeklyScheduleEntry, error) {
	rows, err := s.backend.Query(ctx, database.TableWeeklySchedule, nil, "day_of_week")
	if err != nil {
		return nil, fmt.Errorf("schedule: list: %w", err)
	}
	out := make([]domain.WeeklyScheduleEntry, 0, len(rows))
	for _, r := range rows {
		e, err := decodeEntry(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// SetActive switches the whole day on or off without touching its slot flags.
func (s *Store) SetActive(ctx context.Context, day time.Weekday, active bool) error {
	return s.update(ctx, s.backend, day, database.Row{"is_active": active})
}

// SetSlotFlags replaces the flag mapping; all 48 entries are always written.
func (s *Store) SetSlotFlags(ctx context.Context, day time.Weekday, flags slots.Flags) error {
	raw, err := encodeFlags(flags)
	if err != nil {
		return err
	}
	return s.update(ctx, s.backend, day, database.Row{"time_slots": raw})
}

// Put writes the active switch and the flags together.
func (s *Store) Put(ctx context.Context, day time.Weekday, active bool, flags slots.Flags) error {
	return s.put(ctx, s.backend, day, active, flags)
}

func (s *Store) put(ctx context.Context, b database.Backend, day time.Weekday, active bool, flags slots.Flags) error {
	raw, err := encodeFlags(flags)
	if err != nil {
		return err
	}
	return s.update(ctx, b, day, database.Row{"is_active": active, "time_slots": raw})
}

// SetSlotActive flips one flag. The read and write share a transaction and the
// full mapping is written back.
func (s *Store) SetSlotActive(ctx context.Context, day time.Weekday, slot slots.Slot, active bool) error {
	if !slot.Valid() {
		return fmt.Errorf("schedule: %w: invalid slot %d", domain.ErrValidation, int(slot))
	}
	return s.backend.Tx(ctx, func(ctx context.Context, tx database.Backend) error {
		entry, err := s.get(ctx, tx, day)
		if err != nil {
			return err
		}
		if entry.Flags[slot] == active {
			return nil
		}
		entry.Flags[slot] = active
		raw, err := encodeFlags(entry.Flags)
		if err != nil {
			return err
		}
		return s.update(ctx, tx, day, database.Row{"time_slots": raw})
	})
}

// ActivateSlot turns one flag on and the day active in a single write.
func (s *Store) ActivateSlot(ctx context.Context, day time.Weekday, slot slots.Slot) error {
	if !slot.Valid() {
		return fmt.Errorf("schedule: %w: invalid slot %d", domain.ErrValidation, int(slot))
	}
	return s.backend.Tx(ctx, func(ctx context.Context, tx database.Backend) error {
		entry, err := s.get(ctx, tx, day)
		if err != nil {
			return err
		}
		entry.Flags[slot] = true
		return s.put(ctx, tx, day, true, entry.Flags)
	})
}

// ActivateAll turns on every slot of the day.
func (s *Store) ActivateAll(ctx context.Context, day time.Weekday) error {
	return s.SetSlotFlags(ctx, day, slots.FlagsFromSet(slots.FullDay()))
}

// ApplyOfficeHours turns on exactly the slots in [start, end) and everything else off.
func (s *Store) ApplyOfficeHours(ctx context.Context, day time.Weekday, start, end string) error {
	set, err := slots.RangeSet(start, end)
	if err != nil {
		return fmt.Errorf("schedule: %w: %v", domain.ErrValidation, err)
	}
	return s.SetSlotFlags(ctx, day, slots.FlagsFromSet(set))
}

func (s *Store) update(ctx context.Context, b database.Backend, day time.Weekday, patch database.Row) error {
	if !domain.ValidWeekday(day) {
		return fmt.Errorf("schedule: %w: invalid weekday %d", domain.ErrValidation, int(day))
	}
	patch["updated_at"] = s.now().UTC()

	n, err := b.Update(ctx, database.TableWeeklySchedule, database.Where(database.Eq("day_of_week", int64(day))), patch)
	if err != nil {
		return fmt.Errorf("schedule: update %s: %w", day, err)
	}
	if n == 0 {
		return fmt.Errorf("schedule: weekly entry for %s: %w", day, domain.ErrNotFound)
	}
	return nil
}

func encodeFlags(f slots.Flags) (string, error) {
	raw, err := json.Marshal(f.Entries())
	if err != nil {
		return "", fmt.Errorf("schedule: encode flags: %w", err)
	}
	return string(raw), nil
}

func decodeEntry(r database.Row) (*domain.WeeklyScheduleEntry, error) {
	var entries []slots.FlagEntry
	if raw := r.String("time_slots"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("schedule: decode time_slots: %w", err)
		}
	}
	flags, err := slots.FlagsFromEntries(entries)
	if err != nil {
		return nil, fmt.Errorf("schedule: decode time_slots: %w", err)
	}
	return &domain.WeeklyScheduleEntry{
		DayOfWeek: time.Weekday(r.Int64("day_of_week")),
		IsActive:  r.Bool("is_active"),
		Flags:     flags,
		UpdatedAt: r.Time("updated_at"),
	}, nil
}
