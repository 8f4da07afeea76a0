package schedule

import (
	"context"
	"fmt"
	"time"

	"studiobook/internal/database"
	"studiobook/internal/domain"
	"studiobook/internal/slots"
)

// DayGroup names a set of weekdays a preset rule applies to.
type DayGroup string

const (
	GroupWeekdays DayGroup = "weekdays"
	GroupSaturday DayGroup = "saturday"
	GroupSunday   DayGroup = "sunday"
	GroupEveryday DayGroup = "everyday"
	GroupWeekend  DayGroup = "weekend" // Friday to Sunday
	GroupCustom   DayGroup = "custom"
)

var groupDays = map[DayGroup][]time.Weekday{
	GroupWeekdays: {time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	GroupSaturday: {time.Saturday},
	GroupSunday:   {time.Sunday},
	GroupEveryday: {time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday},
	GroupWeekend:  {time.Friday, time.Saturday, time.Sunday},
}

// PresetRule sets every day of a group to Active with slots in [Start, End).
// Without a range all flags are cleared.
type PresetRule struct {
	Group  DayGroup       `json:"group"`
	Days   []time.Weekday `json:"days,omitempty"`
	Active bool           `json:"active"`
	Start  string         `json:"start,omitempty"`
	End    string         `json:"end,omitempty"`
}

// Preset is an ordered list of rules; later rules win for overlapping days.
type Preset struct {
	Name  string       `json:"name,omitempty"`
	Rules []PresetRule `json:"rules"`
}

// Weekdays resolves the group.
func (r PresetRule) Weekdays() ([]time.Weekday, error) {
	if r.Group == GroupCustom {
		if len(r.Days) == 0 {
			return nil, fmt.Errorf("%w: custom preset rule without days", domain.ErrValidation)
		}
		for _, d := range r.Days {
			if !domain.ValidWeekday(d) {
				return nil, fmt.Errorf("%w: invalid weekday %d", domain.ErrValidation, int(d))
			}
		}
		return r.Days, nil
	}
	days, ok := groupDays[r.Group]
	if !ok {
		return nil, fmt.Errorf("%w: unknown day group %q", domain.ErrValidation, r.Group)
	}
	return days, nil
}

// Flags computes the full mapping for the rule.
func (r PresetRule) Flags() (slots.Flags, error) {
	if r.Start == "" && r.End == "" {
		if r.Active {
			return slots.Flags{}, fmt.Errorf("%w: active preset rule for %s needs start and end", domain.ErrValidation, r.Group)
		}
		return slots.Flags{}, nil
	}
	set, err := slots.RangeSet(r.Start, r.End)
	if err != nil {
		return slots.Flags{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return slots.FlagsFromSet(set), nil
}

// ApplyRule writes one rule and returns the days it touched.
func (s *Store) ApplyRule(ctx context.Context, rule PresetRule) ([]time.Weekday, error) {
	return s.ApplyPreset(ctx, Preset{Rules: []PresetRule{rule}})
}

// ApplyPreset validates every rule, then overwrites is_active and flags of each affected day
// in one transaction.
func (s *Store) ApplyPreset(ctx context.Context, p Preset) ([]time.Weekday, error) {
	type write struct {
		day    time.Weekday
		active bool
		flags  slots.Flags
	}
	var writes []write
	for i, rule := range p.Rules {
		days, err := rule.Weekdays()
		if err != nil {
			return nil, fmt.Errorf("schedule: preset rule %d: %w", i, err)
		}
		flags, err := rule.Flags()
		if err != nil {
			return nil, fmt.Errorf("schedule: preset rule %d: %w", i, err)
		}
		for _, d := range days {
			writes = append(writes, write{day: d, active: rule.Active, flags: flags})
		}
	}
	if len(writes) == 0 {
		return nil, fmt.Errorf("schedule: %w: empty preset", domain.ErrValidation)
	}

	err := s.backend.Tx(ctx, func(ctx context.Context, tx database.Backend) error {
		for _, w := range writes {
			if err := s.put(ctx, tx, w.day, w.active, w.flags); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	touched := make([]time.Weekday, 0, len(writes))
	seen := map[time.Weekday]bool{}
	for _, w := range writes {
		if !seen[w.day] {
			seen[w.day] = true
			touched = append(touched, w.day)
		}
	}
	s.logger.Info().Str("preset", p.Name).Int("rules", len(p.Rules)).Int("days", len(touched)).Msg("preset applied")
	return touched, nil
}
