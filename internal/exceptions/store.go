package exceptions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studiobook/internal/database"
	"studiobook/internal/domain"
	"studiobook/internal/slots"
)

// Store keeps bookings and admin blocks. Every write that adds occupancy checks for
// overlap and inserts inside one backend transaction.
type Store struct {
	backend database.Backend
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() string
}

func NewStore(backend database.Backend, logger zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger.With().Str("component", "exceptions").Logger(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// NewBooking is the input of CreateBooking.
type NewBooking struct {
	Date        domain.Date
	Slots       []slots.Slot
	CustomerRef string
	SessionType string
	Details     string
}

// RangeFilter narrows ListForRange. A zero Kind matches both kinds.
type RangeFilter struct {
	Kind             domain.ExceptionKind
	IncludeCancelled bool
}

// CreateBooking stores a pending booking.
func (s *Store) CreateBooking(ctx context.Context, in NewBooking) (*domain.ExceptionRecord, error) {
	if in.Date.IsZero() {
		return nil, fmt.Errorf("exceptions: %w: booking date is required", domain.ErrValidation)
	}
	if len(in.Slots) == 0 {
		return nil, fmt.Errorf("exceptions: %w: booking needs at least one slot", domain.ErrValidation)
	}
	if err := validateSlots(in.Slots); err != nil {
		return nil, err
	}
	ref := strings.TrimSpace(in.CustomerRef)
	if ref == "" {
		return nil, fmt.Errorf("exceptions: %w: customer reference is required", domain.ErrValidation)
	}

	rec := s.newRecord(in.Date, domain.KindBooking, domain.StatusPending, slots.NewSet(in.Slots...).Sorted())
	rec.CustomerRef = &ref
	rec.SessionType = in.SessionType
	rec.Details = in.Details

	if err := s.create(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("id", rec.ID).
		Str("date", rec.Date.String()).
		Str("slots", slots.FormatRanges(rec.Slots)).
		Msg("booking created")
	return rec, nil
}

// CreateAdminBlock stores a confirmed block. The full-day sentinel delegates to BlockDay.
func (s *Store) CreateAdminBlock(ctx context.Context, date domain.Date, list []slots.Slot, reason string) (*domain.ExceptionRecord, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("exceptions: %w: block date is required", domain.ErrValidation)
	}
	if slots.IsFullDaySentinel(list) {
		rec, _, err := s.BlockDay(ctx, date, reason)
		return rec, err
	}
	if err := validateSlots(list); err != nil {
		return nil, err
	}

	rec := s.newRecord(date, domain.KindAdminBlock, domain.StatusConfirmed, slots.NewSet(list...).Sorted())
	rec.Reason = reason
	if err := s.create(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info().Str("id", rec.ID).Str("date", date.String()).Str("slots", slots.FormatRanges(rec.Slots)).Msg("slots blocked")
	return rec, nil
}

// BlockDay makes sure the date has one full-day block. Partial blocks on the date are
// superseded and cancelled; an active booking on the date is a conflict. created is false
// when a full-day block already existed.
func (s *Store) BlockDay(ctx context.Context, date domain.Date, reason string) (rec *domain.ExceptionRecord, created bool, err error) {
	if date.IsZero() {
		return nil, false, fmt.Errorf("exceptions: %w: block date is required", domain.ErrValidation)
	}

	err = s.backend.Tx(ctx, func(ctx context.Context, tx database.Backend) error {
		active, err := s.listForDate(ctx, tx, date)
		if err != nil {
			return err
		}

		var partial []any
		var bookings []slots.Slot
		for i := range active {
			r := &active[i]
			switch {
			case r.IsFullDay():
				rec = r
				return nil
			case r.Kind == domain.KindBooking:
				bookings = append(bookings, r.Slots...)
			default:
				partial = append(partial, r.ID)
			}
		}
		if len(bookings) > 0 {
			return fmt.Errorf("exceptions: %w: %s has bookings at %s", domain.ErrSlotConflict, date, slots.FormatRanges(bookings))
		}

		if len(partial) > 0 {
			if err := s.setStatus(ctx, tx, database.Where(database.In("id", partial...)), domain.StatusCancelled); err != nil {
				return err
			}
		}

		rec = s.newRecord(date, domain.KindAdminBlock, domain.StatusConfirmed, []slots.Slot{slots.Midnight})
		rec.Reason = reason
		created = true
		return s.insert(ctx, tx, rec)
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.Info().Str("id", rec.ID).Str("date", date.String()).Msg("day blocked")
	}
	return rec, created, nil
}

// UnblockSlot releases one slot from the partial blocks covering it. Blocks spanning more
// slots are replaced by a block of the remainder. Returns how many blocks were changed.
func (s *Store) UnblockSlot(ctx context.Context, date domain.Date, slot slots.Slot) (int, error) {
	if !slot.Valid() {
		return 0, fmt.Errorf("exceptions: %w: invalid slot %d", domain.ErrValidation, int(slot))
	}

	changed := 0
	err := s.backend.Tx(ctx, func(ctx context.Context, tx database.Backend) error {
		active, err := s.listForDate(ctx, tx, date)
		if err != nil {
			return err
		}

		for i := range active {
			r := &active[i]
			if r.Kind != domain.KindAdminBlock || !r.Occupied().Has(slot) {
				continue
			}
			if r.IsFullDay() {
				return fmt.Errorf("exceptions: %w: %s is part of a full-day block on %s, unblock the entire day", domain.ErrInvalidTransition, slot, date)
			}

			if err := s.setStatus(ctx, tx, database.Where(database.Eq("id", r.ID)), domain.StatusCancelled); err != nil {
				return err
			}
			changed++

			remaining := r.Occupied().Remove(slot)
			if remaining.Empty() {
				continue
			}
			rest := s.newRecord(date, domain.KindAdminBlock, domain.StatusConfirmed, remaining.Sorted())
			rest.Reason = r.Reason
			if err := s.insert(ctx, tx, rest); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// CancelAdminBlocks cancels every active admin block on the date and returns the count.
func (s *Store) CancelAdminBlocks(ctx context.Context, date domain.Date) (int64, error) {
	n, err := s.backend.Update(ctx, database.TableExceptions,
		database.Where(
			database.Eq("booking_date", date.String()),
			database.Eq("kind", string(domain.KindAdminBlock)),
			database.Neq("status", string(domain.StatusCancelled)),
		),
		database.Row{"status": string(domain.StatusCancelled), "updated_at": s.now().UTC()},
	)
	if err != nil {
		return 0, fmt.Errorf("exceptions: cancel blocks on %s: %w", date, err)
	}
	if n > 0 {
		s.logger.Info().Str("date", date.String()).Int64("cancelled", n).Msg("admin blocks cancelled")
	}
	return n, nil
}

// Get returns one record by id.
func (s *Store) Get(ctx context.Context, id string) (*domain.ExceptionRecord, error) {
	return s.get(ctx, s.backend, id)
}

// ListForDate returns the non-cancelled records of a date.
func (s *Store) ListForDate(ctx context.Context, date domain.Date) ([]domain.ExceptionRecord, error) {
	return s.listForDate(ctx, s.backend, date)
}

// ListForRange returns records with dates in [start, end].
func (s *Store) ListForRange(ctx context.Context, start, end domain.Date, f RangeFilter) ([]domain.ExceptionRecord, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("exceptions: %w: range end %s is before start %s", domain.ErrValidation, end, start)
	}
	filter := database.Where(
		database.Gte("booking_date", start.String()),
		database.Lte("booking_date", end.String()),
	)
	if f.Kind != "" {
		if !f.Kind.Valid() {
			return nil, fmt.Errorf("exceptions: %w: unknown kind %q", domain.ErrValidation, f.Kind)
		}
		filter = append(filter, database.Eq("kind", string(f.Kind)))
	}
	if !f.IncludeCancelled {
		filter = append(filter, database.Neq("status", string(domain.StatusCancelled)))
	}
	return s.query(ctx, s.backend, filter)
}

// Cancel soft-deletes a record. Cancelling twice is a no-op.
func (s *Store) Cancel(ctx context.Context, id string) (*domain.ExceptionRecord, error) {
	var rec *domain.ExceptionRecord
	err := s.backend.Tx(ctx, func(ctx context.Context, tx database.Backend) error {
		r, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		rec = r
		if r.Status == domain.StatusCancelled {
			return nil
		}
		if err := s.setStatus(ctx, tx, database.Where(database.Eq("id", id)), domain.StatusCancelled); err != nil {
			return err
		}
		rec.Status = domain.StatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("id", id).Str("kind", string(rec.Kind)).Msg("exception cancelled")
	return rec, nil
}

// Confirm moves a pending booking to confirmed.
func (s *Store) Confirm(ctx context.Context, id string) (*domain.ExceptionRecord, error) {
	var rec *domain.ExceptionRecord
	err := s.backend.Tx(ctx, func(ctx context.Context, tx database.Backend) error {
		r, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		rec = r
		switch {
		case r.Kind != domain.KindBooking:
			return fmt.Errorf("exceptions: %w: only bookings can be confirmed", domain.ErrInvalidTransition)
		case r.Status == domain.StatusCancelled:
			return fmt.Errorf("exceptions: %w: booking %s is cancelled", domain.ErrInvalidTransition, id)
		case r.Status == domain.StatusConfirmed:
			return nil
		}
		if err := s.setStatus(ctx, tx, database.Where(database.Eq("id", id)), domain.StatusConfirmed); err != nil {
			return err
		}
		rec.Status = domain.StatusConfirmed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes a booking for good. Admin blocks are only ever cancelled.
func (s *Store) Delete(ctx context.Context, id string) (*domain.ExceptionRecord, error) {
	var rec *domain.ExceptionRecord
	err := s.backend.Tx(ctx, func(ctx context.Context, tx database.Backend) error {
		r, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if r.Kind != domain.KindBooking {
			return fmt.Errorf("exceptions: %w: admin blocks are cancelled, not deleted", domain.ErrInvalidTransition)
		}
		rec = r
		_, err = tx.Delete(ctx, database.TableExceptions, database.Where(database.Eq("id", id)))
		if err != nil {
			return fmt.Errorf("exceptions: delete %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn().Str("id", id).Str("date", rec.Date.String()).Msg("booking deleted")
	return rec, nil
}

func (s *Store) newRecord(date domain.Date, kind domain.ExceptionKind, status domain.ExceptionStatus, list []slots.Slot) *domain.ExceptionRecord {
	now := s.now().UTC()
	return &domain.ExceptionRecord{
		ID:        s.newID(),
		Date:      date,
		Kind:      kind,
		Slots:     list,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// create checks the new record against active occupancy of its date and inserts it.
func (s *Store) create(ctx context.Context, rec *domain.ExceptionRecord) error {
	return s.backend.Tx(ctx, func(ctx context.Context, tx database.Backend) error {
		active, err := s.listForDate(ctx, tx, rec.Date)
		if err != nil {
			return err
		}
		var occupied slots.Set
		for i := range active {
			occupied = occupied.Union(active[i].Occupied())
		}
		if overlap := occupied.Intersect(rec.Occupied()); !overlap.Empty() {
			return fmt.Errorf("exceptions: %w: %s already taken on %s", domain.ErrSlotConflict, overlap, rec.Date)
		}
		return s.insert(ctx, tx, rec)
	})
}

func (s *Store) insert(ctx context.Context, b database.Backend, rec *domain.ExceptionRecord) error {
	row, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if _, err := b.Insert(ctx, database.TableExceptions, row); err != nil {
		return fmt.Errorf("exceptions: insert: %w", err)
	}
	return nil
}

func (s *Store) setStatus(ctx context.Context, b database.Backend, filter database.Filter, status domain.ExceptionStatus) error {
	_, err := b.Update(ctx, database.TableExceptions, filter, database.Row{
		"status":     string(status),
		"updated_at": s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("exceptions: set status %s: %w", status, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, b database.Backend, id string) (*domain.ExceptionRecord, error) {
	recs, err := s.query(ctx, b, database.Where(database.Eq("id", id)))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("exceptions: record %s: %w", id, domain.ErrNotFound)
	}
	return &recs[0], nil
}

func (s *Store) listForDate(ctx context.Context, b database.Backend, date domain.Date) ([]domain.ExceptionRecord, error) {
	return s.query(ctx, b, database.Where(
		database.Eq("booking_date", date.String()),
		database.Neq("status", string(domain.StatusCancelled)),
	))
}

func (s *Store) query(ctx context.Context, b database.Backend, filter database.Filter) ([]domain.ExceptionRecord, error) {
	rows, err := b.Query(ctx, database.TableExceptions, filter, "booking_date", "created_at", "id")
	if err != nil {
		return nil, fmt.Errorf("exceptions: query: %w", err)
	}
	out := make([]domain.ExceptionRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := decodeRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func validateSlots(list []slots.Slot) error {
	for _, s := range list {
		if !s.Valid() {
			return fmt.Errorf("exceptions: %w: invalid slot %d", domain.ErrValidation, int(s))
		}
	}
	return nil
}

func encodeRecord(rec *domain.ExceptionRecord) (database.Row, error) {
	labels := make([]string, 0, len(rec.Slots))
	for _, s := range rec.Slots {
		labels = append(labels, s.String())
	}
	raw, err := json.Marshal(labels)
	if err != nil {
		return nil, fmt.Errorf("exceptions: encode slots: %w", err)
	}
	return database.Row{
		"id":           rec.ID,
		"booking_date": rec.Date.String(),
		"kind":         string(rec.Kind),
		"time_slots":   string(raw),
		"status":       string(rec.Status),
		"customer_ref": rec.CustomerRef,
		"session_type": rec.SessionType,
		"details":      rec.Details,
		"reason":       rec.Reason,
		"created_at":   rec.CreatedAt,
		"updated_at":   rec.UpdatedAt,
	}, nil
}

func decodeRecord(r database.Row) (*domain.ExceptionRecord, error) {
	date, err := domain.ParseDate(r.String("booking_date"))
	if err != nil {
		return nil, fmt.Errorf("exceptions: decode %s: %w", r.String("id"), err)
	}
	var labels []string
	if raw := r.String("time_slots"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &labels); err != nil {
			return nil, fmt.Errorf("exceptions: decode %s slots: %w", r.String("id"), err)
		}
	}
	list, err := slots.ParseList(labels)
	if err != nil {
		return nil, fmt.Errorf("exceptions: decode %s slots: %w", r.String("id"), err)
	}

	return &domain.ExceptionRecord{
		ID:          r.String("id"),
		Date:        date,
		Kind:        domain.ExceptionKind(r.String("kind")),
		Slots:       list,
		Status:      domain.ExceptionStatus(r.String("status")),
		CustomerRef: r.NullString("customer_ref"),
		SessionType: r.String("session_type"),
		Details:     r.String("details"),
		Reason:      r.String("reason"),
		CreatedAt:   r.Time("created_at"),
		UpdatedAt:   r.Time("updated_at"),
	}, nil
}
