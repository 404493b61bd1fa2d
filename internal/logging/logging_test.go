/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupLevels(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		level string
		want  zerolog.Level
	}{
		{name: "development defaults to debug", env: "development", want: zerolog.DebugLevel},
		{name: "production defaults to info", env: "production", want: zerolog.InfoLevel},
		{name: "explicit level wins", env: "development", level: "WARN", want: zerolog.WarnLevel},
		{name: "unknown level ignored", env: "production", level: "loud", want: zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := SetupWithWriter(tt.env, tt.level, &bytes.Buffer{})
			if got := logger.GetLevel(); got != tt.want {
				t.Fatalf("level = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("production", "", &buf)
	logger.Info().Str("item_id", "abc").Msg("published")

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["item_id"] != "abc" || entry["service"] != "timegate" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
}
