/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import (
	"errors"
	"strings"
)

// ErrUnknownPreset is returned when a preset name does not match.
var ErrUnknownPreset = errors.New("unknown preset")

// Preset is a named "quick add" range of hourly slots.
type Preset struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Start int    `json:"start_minutes"`
	End   int    `json:"end_minutes"`
}

var presets = []Preset{
	{Key: "morning", Name: "Morning (9AM-12PM)", Start: 9 * 60, End: 12 * 60},
	{Key: "afternoon", Name: "Afternoon (1PM-5PM)", Start: 13 * 60, End: 17 * 60},
	{Key: "evening", Name: "Evening (5PM-9PM)", Start: 17 * 60, End: 21 * 60},
}

// Presets lists the built-in presets.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// LookupPreset finds a preset by key or display name, ignoring case.
func LookupPreset(name string) (Preset, error) {
	name = strings.TrimSpace(name)
	for _, p := range presets {
		if strings.EqualFold(p.Key, name) || strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return Preset{}, ErrUnknownPreset
}

// Slots returns the preset's fixed hourly labels.
func (p Preset) Slots() []Slot {
	out, _ := Range(p.Start, p.End, 60)
	return out
}
