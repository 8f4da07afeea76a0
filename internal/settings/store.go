package settings

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"studiobook/internal/database"
	"studiobook/internal/domain"
)

// Stored keys.
const (
	KeyDisplayMode   = "user_display_mode"
	KeyAllowMultiple = "allow_multiple_time_slots"
)

// Store is the configuration key-value collaborator over the studio_config table.
type Store struct {
	backend database.Backend
	logger  zerolog.Logger
	now     func() time.Time
}

func NewStore(backend database.Backend, logger zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger.With().Str("component", "settings").Logger(),
		now:     time.Now,
	}
}

// Get returns the stored value and whether the key exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	rows, err := s.backend.Query(ctx, database.TableConfig, database.Where(database.Eq("config_key", key)))
	if err != nil {
		return "", false, fmt.Errorf("settings: get %s: %w", key, err)
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].String("config_value"), true, nil
}

// Set creates or replaces a value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("settings: %w: empty key", domain.ErrValidation)
	}
	now := s.now().UTC()

	err := s.backend.Tx(ctx, func(ctx context.Context, tx database.Backend) error {
		n, err := tx.Update(ctx, database.TableConfig,
			database.Where(database.Eq("config_key", key)),
			database.Row{"config_value": value, "updated_at": now},
		)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err = tx.Insert(ctx, database.TableConfig, database.Row{
			"config_key":   key,
			"config_value": value,
			"updated_at":   now,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}

// DisplayConfig reads the display settings. Missing or unreadable values fall back to defaults.
func (s *Store) DisplayConfig(ctx context.Context) (domain.DisplayConfig, error) {
	cfg := domain.DefaultDisplayConfig()

	mode, ok, err := s.Get(ctx, KeyDisplayMode)
	if err != nil {
		return cfg, err
	}
	if ok {
		parsed, err := domain.ParseDisplayMode(mode)
		if err != nil {
			s.logger.Warn().Str("value", mode).Msg("invalid stored display mode, using default")
		} else {
			cfg.UserDisplayMode = parsed
		}
	}

	multiple, ok, err := s.Get(ctx, KeyAllowMultiple)
	if err != nil {
		return cfg, err
	}
	if ok {
		parsed, err := strconv.ParseBool(multiple)
		if err != nil {
			s.logger.Warn().Str("value", multiple).Msg("invalid stored allow_multiple_time_slots, using default")
		} else {
			cfg.AllowMultipleTimeSlots = parsed
		}
	}

	return cfg, nil
}

// SetDisplayConfig stores both display settings.
func (s *Store) SetDisplayConfig(ctx context.Context, cfg domain.DisplayConfig) error {
	if _, err := domain.ParseDisplayMode(string(cfg.UserDisplayMode)); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if err := s.Set(ctx, KeyDisplayMode, string(cfg.UserDisplayMode)); err != nil {
		return err
	}
	if err := s.Set(ctx, KeyAllowMultiple, strconv.FormatBool(cfg.AllowMultipleTimeSlots)); err != nil {
		return err
	}
	s.logger.Info().
		Str("mode", string(cfg.UserDisplayMode)).
		Bool("allow_multiple", cfg.AllowMultipleTimeSlots).
		Msg("display config updated")
	return nil
}
