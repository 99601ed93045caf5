package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSON(t *testing.T) {
	tests := []struct {
		name  string
		write func(f *OutputFormatter) error
		want  string
	}{
		{
			name:  "success",
			write: func(f *OutputFormatter) error { return f.Success(ChannelInfo{Address: "battery0/Soc", Type: "integer", Access: "RO"}) },
			want:  `{"status":"ok","data":{"address":"battery0/Soc","type":"integer","access":"RO"}}`,
		},
		{
			name:  "error without details",
			write: func(f *OutputFormatter) error { return f.Error(ErrCodeLoad, "read config: no such file", nil) },
			want:  `{"status":"error","error":{"code":"E001","message":"read config: no such file"}}`,
		},
		{
			name: "error with problems",
			write: func(f *OutputFormatter) error {
				return f.Error(ErrCodeValidation, "plant.yaml is invalid", []string{"batteries: must satisfy min=1"})
			},
			want: `{"status":"error","error":{"code":"E003","message":"plant.yaml is invalid","details":["batteries: must satisfy min=1"]}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			require.NoError(t, tt.write(&OutputFormatter{Format: "json", Writer: buf}))
			assert.JSONEq(t, tt.want, buf.String())
			assert.True(t, json.Valid(buf.Bytes()))
		})
	}
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("plant.yaml is valid"))
	assert.Equal(t, "plant.yaml is valid\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error(ErrCodeStore, "database not found: none.db", map[string]string{"path": "none.db"}))
	assert.Equal(t, "Error [E004]: database not found: none.db\n", buf.String(), "non-list details need --verbose")

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error(ErrCodeStore, "database not found: none.db", map[string]string{"path": "none.db"}))
	assert.Contains(t, buf.String(), "Details: map[path:none.db]")
}

func TestOutputFormatter_TextErrorListsProblems(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Error(ErrCodeValidation, "plant.yaml is invalid", []string{
		`controller "c0": unknown battery "nope"`,
		"batteries[0].id: must satisfy required",
	})
	require.NoError(t, err)
	assert.Equal(t, "Error [E003]: plant.yaml is invalid\n"+
		"  - controller \"c0\": unknown battery \"nope\"\n"+
		"  - batteries[0].id: must satisfy required\n", buf.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag}

	formatter.VerboseLog("Loaded %s", "plant.yaml")
	assert.Empty(t, diag.String(), "quiet without --verbose")

	formatter.Verbose = true
	formatter.VerboseLog("Loaded %s", "plant.yaml")
	assert.Empty(t, out.String(), "diagnostics never mix with JSON output")
	assert.Equal(t, "Loaded plant.yaml\n", diag.String())

	formatter.ErrWriter = nil
	formatter.VerboseLog("Simulated %s", "1h0m0s")
	assert.Equal(t, "Simulated 1h0m0s\n", out.String(), "falls back to Writer")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "missing file")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitFailure, "invalid", errors.New("cause")))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
}

func TestExitError_Message(t *testing.T) {
	assert.Equal(t, "missing file", NewExitError(ExitCommandError, "missing file").Error())

	cause := errors.New("permission denied")
	err := WrapExitError(ExitCommandError, "failed to load config", cause)
	assert.Equal(t, "failed to load config: permission denied", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}
	cause := errors.New("no rows")

	err := formatter.Fail(ExitFailure, ErrCodeNotFound, "no values recorded for battery0/Soc", nil, cause)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, cause)
	assert.JSONEq(t, `{"status":"error","error":{"code":"E005","message":"no values recorded for battery0/Soc"}}`, buf.String())
}

func TestOutputFormatter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Table([]string{"TIME", "meter0/ActivePower"}, [][]string{
		{"2026-01-01T00:00:00Z", "1500"},
		{"2026-01-01T00:15:00Z", "-"},
	}))
	assert.Equal(t, "TIME                  meter0/ActivePower\n"+
		"2026-01-01T00:00:00Z  1500\n"+
		"2026-01-01T00:15:00Z  -\n", buf.String())
}
