package slots

import (
	"encoding/json"
	"iter"
	"math/bits"
)

// Set is an immutable set of slots of one day.
type Set struct {
	bits uint64
}

const fullMask = uint64(1)<<PerDay - 1

// NewSet builds a set from a list, ignoring invalid slots.
func NewSet(list ...Slot) Set {
	var s Set
	for _, v := range list {
		s = s.Add(v)
	}
	return s
}

// FullDay is the set of all 48 slots.
func FullDay() Set { return Set{bits: fullMask} }

func (s Set) Add(v Slot) Set {
	if !v.Valid() {
		return s
	}
	return Set{bits: s.bits | 1<<uint(v)}
}

func (s Set) Remove(v Slot) Set {
	if !v.Valid() {
		return s
	}
	return Set{bits: s.bits &^ (1 << uint(v))}
}

func (s Set) Has(v Slot) bool {
	return v.Valid() && s.bits&(1<<uint(v)) != 0
}

func (s Set) Len() int { return bits.OnesCount64(s.bits) }

func (s Set) Empty() bool { return s.bits == 0 }

func (s Set) Union(o Set) Set { return Set{bits: s.bits | o.bits} }

func (s Set) Minus(o Set) Set { return Set{bits: s.bits &^ o.bits} }

func (s Set) Intersect(o Set) Set { return Set{bits: s.bits & o.bits} }

func (s Set) Equal(o Set) bool { return s.bits == o.bits }

// All yields members in chronological order.
func (s Set) All() iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		for v := Slot(0); v < PerDay; v++ {
			if s.Has(v) && !yield(v) {
				return
			}
		}
	}
}

// Sorted returns members in chronological order.
func (s Set) Sorted() []Slot {
	out := make([]Slot, 0, s.Len())
	for v := range s.All() {
		out = append(out, v)
	}
	return out
}

// Labels returns the "HH:MM" form of Sorted.
func (s Set) Labels() []string {
	out := make([]string, 0, s.Len())
	for v := range s.All() {
		out = append(out, v.String())
	}
	return out
}

func (s Set) String() string {
	return FormatRanges(s.Sorted())
}

func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Labels())
}

func (s *Set) UnmarshalJSON(b []byte) error {
	var labels []string
	if err := json.Unmarshal(b, &labels); err != nil {
		return err
	}
	list, err := ParseList(labels)
	if err != nil {
		return err
	}
	*s = NewSet(list...)
	return nil
}

// Flags is the complete per-slot "offered" mapping of one weekday.
type Flags [PerDay]bool

// FlagsFromSet materializes all 48 entries, true for members of s.
func FlagsFromSet(s Set) Flags {
	var f Flags
	for v := range s.All() {
		f[v] = true
	}
	return f
}

// Active returns the set of flagged slots.
func (f Flags) Active() Set {
	var s Set
	for i, on := range f {
		if on {
			s = s.Add(Slot(i))
		}
	}
	return s
}

// FlagEntry is the stored form of one flag.
type FlagEntry struct {
	Slot   string `json:"slot"`
	Active bool   `json:"active"`
}

// Entries lists all 48 flags in order.
func (f Flags) Entries() []FlagEntry {
	out := make([]FlagEntry, 0, PerDay)
	for i, on := range f {
		out = append(out, FlagEntry{Slot: Slot(i).String(), Active: on})
	}
	return out
}

// FlagsFromEntries reads a stored flag list. Missing slots are false.
func FlagsFromEntries(entries []FlagEntry) (Flags, error) {
	var f Flags
	for _, e := range entries {
		s, err := Parse(e.Slot)
		if err != nil {
			return Flags{}, err
		}
		f[s] = e.Active
	}
	return f, nil
}

func (f Flags) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Entries())
}

func (f *Flags) UnmarshalJSON(b []byte) error {
	var entries []FlagEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return err
	}
	parsed, err := FlagsFromEntries(entries)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
