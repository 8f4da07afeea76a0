package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PresetRuleConfig sets one group of weekdays to a time range.
type PresetRuleConfig struct {
	Group  string `yaml:"group"`          // weekdays | saturday | sunday | everyday | weekend | custom
	Days   []int  `yaml:"days,omitempty"` // 0=Sun .. 6=Sat, for custom
	Active bool   `yaml:"active"`
	Start  string `yaml:"start,omitempty"` // "09:00"
	End    string `yaml:"end,omitempty"`   // "18:00", "24:00" allowed
}

// HolidayConfig closes the studio on one date.
type HolidayConfig struct {
	Date   string `yaml:"date"` // "2026-01-01"
	Reason string `yaml:"reason"`
}

// PresetsConfig is the root of presets.yaml.
type PresetsConfig struct {
	Weekly   []PresetRuleConfig `yaml:"weekly"`
	Holidays []HolidayConfig    `yaml:"holidays"`
}

var presetGroups = map[string]bool{
	"weekdays": true,
	"saturday": true,
	"sunday":   true,
	"everyday": true,
	"weekend":  true,
	"custom":   true,
}

// LoadPresetsConfig loads and validates the weekly presets file.
func LoadPresetsConfig(path string) (*PresetsConfig, error) {
	if path == "" {
		path = "configs/presets.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets config: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	var cfg PresetsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse presets config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate presets config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *PresetsConfig) Validate() error {
	for i, r := range c.Weekly {
		if !presetGroups[r.Group] {
			return fmt.Errorf("weekly[%d]: unknown group '%s'", i, r.Group)
		}
		if r.Group == "custom" && len(r.Days) == 0 {
			return fmt.Errorf("weekly[%d]: custom group needs days", i)
		}
		for _, d := range r.Days {
			if d < 0 || d > 6 {
				return fmt.Errorf("weekly[%d]: invalid day %d, must be 0-6 (0=Sun)", i, d)
			}
		}
		if r.Active && (r.Start == "") != (r.End == "") {
			return fmt.Errorf("weekly[%d]: start and end must be set together", i)
		}
	}

	for i, h := range c.Holidays {
		if h.Date == "" {
			return fmt.Errorf("holiday[%d]: date is required", i)
		}
		if _, err := time.Parse("2006-01-02", h.Date); err != nil {
			return fmt.Errorf("holiday[%d]: invalid date format '%s', expected YYYY-MM-DD", i, h.Date)
		}
	}
	return nil
}

func (c *PresetsConfig) applyDefaults() {
	for i := range c.Weekly {
		if c.Weekly[i].Active && c.Weekly[i].Start == "" {
			c.Weekly[i].Start = "09:00"
			c.Weekly[i].End = "18:00"
		}
	}
	for i := range c.Holidays {
		if c.Holidays[i].Reason == "" {
			c.Holidays[i].Reason = "holiday"
		}
	}
}

// String returns a summary of the configuration.
func (c *PresetsConfig) String() string {
	return fmt.Sprintf("PresetsConfig: %d weekly rules, %d holidays", len(c.Weekly), len(c.Holidays))
}
