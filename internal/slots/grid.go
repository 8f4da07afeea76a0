package slots

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"
)

const (
	// SlotMinutes is the length of one slot.
	SlotMinutes = 30
	// PerDay is the number of slots in one day.
	PerDay = 24 * 60 / SlotMinutes
)

// Midnight is the first slot of the day. It doubles as the full-day sentinel for admin blocks.
const Midnight Slot = 0

// Slot is a 30-minute time-of-day boundary, 0 = 00:00 ... 47 = 23:30.
type Slot int

// New builds a slot from hour and minute. Minute must be 0 or 30.
func New(hour, minute int) (Slot, error) {
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour %d", hour)
	}
	if minute != 0 && minute != SlotMinutes {
		return 0, fmt.Errorf("invalid minute %d: slots start on :00 or :30", minute)
	}
	return Slot(hour*2 + minute/SlotMinutes), nil
}

// Parse reads "HH:MM" (or "HH:MM:SS" with zero seconds).
func Parse(s string) (Slot, error) {
	minutes, err := parseClock(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if minutes >= 24*60 {
		return 0, fmt.Errorf("invalid slot %q: out of day", s)
	}
	if minutes%SlotMinutes != 0 {
		return 0, fmt.Errorf("invalid slot %q: not on a %d-minute boundary", s, SlotMinutes)
	}
	return Slot(minutes / SlotMinutes), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Slot {
	slot, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return slot
}

// ParseList parses every label, failing on the first bad one.
func ParseList(labels []string) ([]Slot, error) {
	out := make([]Slot, 0, len(labels))
	for _, l := range labels {
		s, err := Parse(l)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// parseClock returns minutes since midnight. 24:00 is accepted as end of day.
func parseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || len(parts[0]) == 0 || len(parts[0]) > 2 {
		return 0, fmt.Errorf("invalid time %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid time %q: bad minute", s)
	}
	if len(parts) == 3 && parts[2] != "00" {
		return 0, fmt.Errorf("invalid time %q: seconds must be 00", s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return h*60 + m, nil
}

func (s Slot) Valid() bool { return s >= 0 && s < PerDay }

func (s Slot) Hour() int { return int(s) / 2 }

func (s Slot) Minute() int { return int(s) % 2 * SlotMinutes }

// Minutes since midnight.
func (s Slot) Minutes() int { return int(s) * SlotMinutes }

// IsHourStart reports whether the slot is H:00.
func (s Slot) IsHourStart() bool { return s%2 == 0 }

// HourStart returns the H:00 slot of the hour containing s.
func (s Slot) HourStart() Slot { return s - s%2 }

// End returns the "HH:MM" label of the slot end; the last slot ends at "24:00".
func (s Slot) End() string {
	m := s.Minutes() + SlotMinutes
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// On returns the slot start as a time on the given day.
func (s Slot) On(day time.Time) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, s.Hour(), s.Minute(), 0, 0, day.Location())
}

func (s Slot) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Slot(%d)", int(s))
	}
	return fmt.Sprintf("%02d:%02d", s.Hour(), s.Minute())
}

func (s Slot) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid slot %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Slot) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// All yields the 48 slots of a day in chronological order. Each range starts over.
func All() iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		for s := Slot(0); s < PerDay; s++ {
			if !yield(s) {
				return
			}
		}
	}
}

// Covers returns the two 30-minute slots an hourly item starting at s occupies.
func Covers(s Slot) []Slot {
	h := s.HourStart()
	return []Slot{h, h + 1}
}

// ToHourly keeps H:00 only when both H:00 and H:30 are present.
func ToHourly(in Set) Set {
	var out Set
	for s := Slot(0); s < PerDay; s += 2 {
		if in.Has(s) && in.Has(s+1) {
			out = out.Add(s)
		}
	}
	return out
}

// ExpandHourly turns hourly selections back into 30-minute slots: H:00 becomes H:00 and H:30.
// Half-hour labels are kept as they are.
func ExpandHourly(selected []Slot) []Slot {
	var out Set
	for _, s := range selected {
		if s.IsHourStart() {
			out = out.Add(s).Add(s + 1)
			continue
		}
		out = out.Add(s)
	}
	return out.Sorted()
}

// IsFullDaySentinel reports whether an admin block slot list means "the whole day".
func IsFullDaySentinel(list []Slot) bool {
	if len(list) == 0 {
		return true
	}
	for _, s := range list {
		if s == Midnight {
			return true
		}
	}
	return false
}

// RangeSet returns every slot whose start lies in [start, end). end may be "24:00".
func RangeSet(start, end string) (Set, error) {
	from, err := parseClock(start)
	if err != nil {
		return Set{}, err
	}
	to, err := parseClock(end)
	if err != nil {
		return Set{}, err
	}
	if from%SlotMinutes != 0 || to%SlotMinutes != 0 {
		return Set{}, fmt.Errorf("range %s-%s is not on %d-minute boundaries", start, end, SlotMinutes)
	}
	if from >= to {
		return Set{}, fmt.Errorf("range start %s must be before end %s", start, end)
	}
	var out Set
	for m := from; m < to; m += SlotMinutes {
		out = out.Add(Slot(m / SlotMinutes))
	}
	return out, nil
}
