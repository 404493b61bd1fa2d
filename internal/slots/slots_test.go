/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import (
	"errors"
	"reflect"
	"testing"
)

func TestLabel(t *testing.T) {
	tests := []struct {
		minutes int
		want    string
	}{
		{0, "12:00 AM"},
		{30, "12:30 AM"},
		{540, "9:00 AM"},
		{719, "11:59 AM"},
		{720, "12:00 PM"},
		{780, "1:00 PM"},
		{1439, "11:59 PM"},
	}

	for _, tt := range tests {
		if got := Label(tt.minutes); got != tt.want {
			t.Errorf("Label(%d) = %q, want %q", tt.minutes, got, tt.want)
		}
		back, err := ParseLabel(tt.want)
		if err != nil {
			t.Fatalf("ParseLabel(%q): %v", tt.want, err)
		}
		if back != tt.minutes {
			t.Errorf("ParseLabel(%q) = %d, want %d", tt.want, back, tt.minutes)
		}
	}
}

func TestParseLabelLenient(t *testing.T) {
	tests := []struct {
		label   string
		want    int
		wantErr bool
	}{
		{label: "09:00 am", want: 540},
		{label: "1:30PM", want: 810},
		{label: " 12:00 pm ", want: 720},
		{label: "13:00 PM", wantErr: true},
		{label: "9:00", wantErr: true},
		{label: "nine AM", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := ParseLabel(tt.label)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLabel(%q) err = %v, wantErr %v", tt.label, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Fatalf("ParseLabel(%q) = %d, want %d", tt.label, got, tt.want)
			}
		})
	}
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name      string
		start     string
		end       string
		increment int
		want      []string
		wantErr   error
	}{
		{
			name:      "hourly morning",
			start:     "09:00",
			end:       "12:00",
			increment: 60,
			want:      []string{"9:00 AM", "10:00 AM", "11:00 AM"},
		},
		{
			name:      "half hours across noon",
			start:     "11:00",
			end:       "13:00",
			increment: 30,
			want:      []string{"11:00 AM", "11:30 AM", "12:00 PM", "12:30 PM"},
		},
		{
			name:      "increment overshoots end",
			start:     "09:00",
			end:       "12:00",
			increment: 90,
			want:      []string{"9:00 AM", "10:30 AM"},
		},
		{
			name:      "midnight start",
			start:     "00:00",
			end:       "01:00",
			increment: 120,
			want:      []string{"12:00 AM"},
		},
		{
			name:      "end of day",
			start:     "22:00",
			end:       "24:00",
			increment: 60,
			want:      []string{"10:00 PM", "11:00 PM"},
		},
		{
			name:      "equal start and end",
			start:     "09:00",
			end:       "09:00",
			increment: 60,
			wantErr:   ErrInvalidRange,
		},
		{
			name:      "reversed range",
			start:     "17:00",
			end:       "09:00",
			increment: 60,
			wantErr:   ErrInvalidRange,
		},
		{
			name:      "zero increment",
			start:     "09:00",
			end:       "12:00",
			increment: 0,
			wantErr:   ErrInvalidIncrement,
		},
		{
			name:      "negative increment",
			start:     "09:00",
			end:       "12:00",
			increment: -30,
			wantErr:   ErrInvalidIncrement,
		},
		{
			name:      "malformed time",
			start:     "9am",
			end:       "12:00",
			increment: 60,
			wantErr:   ErrInvalidTime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Generate("2026-02-10", tt.start, tt.end, tt.increment)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Generate() err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Generate() unexpected error: %v", err)
			}
			if labels := Labels(got); !reflect.DeepEqual(labels, tt.want) {
				t.Fatalf("Generate() = %v, want %v", labels, tt.want)
			}
		})
	}
}

func TestGenerateRejectsBadDate(t *testing.T) {
	if _, err := Generate("2026-02-30", "09:00", "10:00", 60); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

func TestGenerateSpacingProperty(t *testing.T) {
	for _, increment := range []int{15, 30, 60, 90, 120} {
		for start := 0; start < 20*60; start += 45 {
			for end := start + 1; end <= minutesPerDay; end += 173 {
				got, err := Range(start, end, increment)
				if err != nil {
					t.Fatalf("Range(%d,%d,%d): %v", start, end, increment, err)
				}
				if len(got) == 0 || got[0].Minutes != start {
					t.Fatalf("Range(%d,%d,%d) must start at start", start, end, increment)
				}
				for i, s := range got {
					if s.Minutes >= end {
						t.Fatalf("slot %q at or after end %d", s.Label, end)
					}
					if i > 0 && s.Minutes-got[i-1].Minutes != increment {
						t.Fatalf("slots %q and %q are not %d minutes apart", got[i-1].Label, s.Label, increment)
					}
				}
				if last := got[len(got)-1].Minutes; last+increment < end {
					t.Fatalf("Range(%d,%d,%d) stopped early at %d", start, end, increment, last)
				}
			}
		}
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	generated, err := Generate("2026-02-10", "09:00", "12:00", 60)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	once := Merge(nil, generated)
	twice := Merge(once, generated)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merging the same range twice changed the set: %v vs %v", Labels(once), Labels(twice))
	}
}

func TestMergePresetKeepsClockOrder(t *testing.T) {
	generated, err := Generate("2026-02-10", "09:00", "12:00", 60)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	afternoon, err := LookupPreset("Afternoon (1PM-5PM)")
	if err != nil {
		t.Fatalf("LookupPreset: %v", err)
	}

	got := Labels(Merge(generated, afternoon.Slots()))
	want := []string{"9:00 AM", "10:00 AM", "11:00 AM", "1:00 PM", "2:00 PM", "3:00 PM", "4:00 PM"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("merge = %v, want %v", got, want)
	}

	// Preset first, earlier range second: still clock order, not insertion order.
	got = Labels(Merge(afternoon.Slots(), generated))
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("reverse merge = %v, want %v", got, want)
	}
}

func TestFromLabelsCanonicalises(t *testing.T) {
	got, err := FromLabels([]string{"2:00pm", "09:00 AM", "2:00 PM"})
	if err != nil {
		t.Fatalf("FromLabels: %v", err)
	}
	want := []string{"9:00 AM", "2:00 PM"}
	if !reflect.DeepEqual(Labels(got), want) {
		t.Fatalf("FromLabels = %v, want %v", Labels(got), want)
	}
}

func TestLookupPreset(t *testing.T) {
	if _, err := LookupPreset("MORNING"); err != nil {
		t.Fatalf("LookupPreset(MORNING): %v", err)
	}
	if _, err := LookupPreset("brunch"); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("LookupPreset(brunch) err = %v, want ErrUnknownPreset", err)
	}
}
