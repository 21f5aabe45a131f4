package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
		ok   bool
	}{
		{"", zerolog.InfoLevel, false},
		{"DEBUG", zerolog.DebugLevel, true},
		{" warning ", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tc := range cases {
		got, ok := ParseLevel(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseLevel(%q)=%v,%v want %v,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogJSON, "true")
	var buf bytes.Buffer
	log := New("linkgate", ProfileRuntime, &buf)
	log.Info().Msg("hidden")
	log.Error().Msg("shown")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if rec["message"] != "shown" || rec["app"] != "linkgate" {
		t.Fatalf("rec=%v", rec)
	}
}

func TestConsoleNoTimestampInTests(t *testing.T) {
	var buf bytes.Buffer
	log := Build("", Config{Level: zerolog.DebugLevel, NoColor: true}, &buf)
	log.Debug().Str("k", "v").Msg("hello")
	if got := buf.String(); !bytes.Contains([]byte(got), []byte("hello")) || !bytes.Contains([]byte(got), []byte("k=v")) {
		t.Fatalf("out=%q", got)
	}
}
