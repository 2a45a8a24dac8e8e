package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, s string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNew_WritesJSONWithTimestamp(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info").Info().Str("agentId", "lead").Msg("agent loaded")

	lines := decodeLines(t, buf.String())
	require.Len(t, lines, 1)
	assert.Equal(t, "agent loaded", lines[0]["message"])
	assert.Equal(t, "lead", lines[0]["agentId"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Contains(t, lines[0], "time")
}

func TestSubAndWith(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, "debug")

	root.Sub("session").With("sessionId", "s-1").Debug().Msg("state changed")
	root.Info().Msg("untagged")

	lines := decodeLines(t, buf.String())
	require.Len(t, lines, 2)
	assert.Equal(t, "session", lines[0]["subsystem"])
	assert.Equal(t, "s-1", lines[0]["sessionId"])
	assert.NotContains(t, lines[1], "subsystem", "children do not leak fields into the parent")
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{"debug", []string{"debug", "info", "warn", "error"}},
		{"warn", []string{"warn", "error"}},
		{"error", []string{"error"}},
		{"silent", nil},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			l := New(&buf, tt.level)
			l.Debug().Msg("m")
			l.Info().Msg("m")
			l.Warn().Msg("m")
			l.Error().Msg("m")

			var got []string
			for _, line := range decodeLines(t, buf.String()) {
				got = append(got, line["level"].(string))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		" warn ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"silent":  zerolog.Disabled,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"chatty":  zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "%q", in)
	}
}

func TestWriterStyles(t *testing.T) {
	_, pretty := Writer(StylePretty).(zerolog.ConsoleWriter)
	assert.True(t, pretty)

	assert.Equal(t, os.Stderr, Writer(StyleJSON))
	assert.NotNil(t, Writer(StyleAuto))
	assert.NotNil(t, New(nil, "info"))
}

func TestOpen_AlsoWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatform.log")
	l, closeFn, err := Open(Options{Level: "info", Style: StyleJSON, File: path})
	require.NoError(t, err)

	l.Sub("gateway").Info().Msg("gateway server ready")
	l.Debug().Msg("filtered")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := decodeLines(t, string(data))
	require.Len(t, lines, 1)
	assert.Equal(t, "gateway", lines[0]["subsystem"])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOpen_NoFile(t *testing.T) {
	l, closeFn, err := Open(Options{Level: "silent"})
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.NoError(t, closeFn())
}

func TestOpen_BadPath(t *testing.T) {
	_, _, err := Open(Options{File: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.ErrorContains(t, err, "opening log file")
}
