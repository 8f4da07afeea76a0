package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"studiobook/internal/config"
	"studiobook/internal/coordinator"
	"studiobook/internal/domain"
	"studiobook/internal/schedule"
)

type holiday struct {
	date   domain.Date
	reason string
}

// toPreset converts the presets file into a weekly preset plus the holiday blocks.
func toPreset(cfg *config.PresetsConfig) (schedule.Preset, []holiday, error) {
	p := schedule.Preset{Name: "presets.yaml"}
	for _, r := range cfg.Weekly {
		rule := schedule.PresetRule{
			Group:  schedule.DayGroup(r.Group),
			Active: r.Active,
			Start:  r.Start,
			End:    r.End,
		}
		for _, d := range r.Days {
			rule.Days = append(rule.Days, time.Weekday(d))
		}
		p.Rules = append(p.Rules, rule)
	}

	holidays := make([]holiday, 0, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		d, err := domain.ParseDate(h.Date)
		if err != nil {
			return schedule.Preset{}, nil, err
		}
		holidays = append(holidays, holiday{date: d, reason: h.Reason})
	}
	return p, holidays, nil
}

// applyPresets pushes a (re)loaded presets file through the coordinator so caches and
// subscribers see the change.
func applyPresets(ctx context.Context, c *coordinator.Coordinator, cfg *config.PresetsConfig, logger zerolog.Logger) {
	preset, holidays, err := toPreset(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("invalid presets")
		return
	}

	if len(preset.Rules) > 0 {
		res, err := c.ApplyWeeklyPreset(ctx, preset)
		switch {
		case err != nil:
			logger.Error().Err(err).Msg("apply weekly preset")
		case !res.Success:
			logger.Warn().Int("failed", len(res.Failed())).Msg("weekly preset partially applied")
		default:
			logger.Info().Int("rules", len(preset.Rules)).Msg("weekly preset applied")
		}
	}

	for _, h := range holidays {
		if _, err := c.BlockEntireDay(ctx, h.date, h.reason); err != nil {
			logger.Warn().Err(err).Str("date", h.date.String()).Msg("holiday not blocked")
		}
	}
}
