package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/opforge/internal/app"
	"github.com/vk/opforge/internal/codec"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		want app.Config
	}{
		{
			name: "compile with flags after the file",
			args: []string{"compile", "op.yaml", "--strict", "--param", "lr=0.1", "--param", "epochs=3", "--preset", "gpu", "-o", "yaml"},
			want: app.Config{
				Command:       app.CommandCompile,
				OperationPath: "op.yaml",
				Strict:        true,
				Params:        []string{"lr=0.1", "epochs=3"},
				Presets:       []string{"gpu"},
				Output:        codec.YAML,
				LogFormat:     "text",
				LogLevel:      "warn",
			},
		},
		{
			name: "compile with flags first",
			args: []string{"compile", "--registry", "hub", "--context", "ctx.json", "--expand", "--log-level", "DEBUG", "op.yaml"},
			want: app.Config{
				Command:       app.CommandCompile,
				OperationPath: "op.yaml",
				RegistryDir:   "hub",
				ContextPath:   "ctx.json",
				Expand:        true,
				Output:        codec.JSON,
				LogFormat:     "text",
				LogLevel:      "debug",
			},
		},
		{
			name: "validate",
			args: []string{"validate", "--log-format", "json", "preset.yaml"},
			want: app.Config{
				Command:       app.CommandValidate,
				OperationPath: "preset.yaml",
				Output:        codec.JSON,
				LogFormat:     "json",
				LogLevel:      "warn",
			},
		},
		{
			name: "schema target",
			args: []string{"schema", "component"},
			want: app.Config{
				Command:      app.CommandSchema,
				SchemaTarget: "component",
				Output:       codec.JSON,
				LogFormat:    "text",
				LogLevel:     "warn",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Act ---
			cfg, exit, err := Parse(tc.args, &bytes.Buffer{})

			// --- Assert ---
			require.NoError(t, err)
			assert.False(t, exit)
			assert.Equal(t, &tc.want, cfg)
		})
	}
}

func TestParse_Exits(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"help"}, {"compile", "-h"}} {
		out := &bytes.Buffer{}

		cfg, exit, err := Parse(args, out)

		require.NoError(t, err, "args %v", args)
		assert.True(t, exit)
		assert.Nil(t, cfg)
		assert.Contains(t, out.String(), "Usage")
	}
}

func TestParse_UsageErrors(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		wantMsg string
	}{
		{name: "unknown command", args: []string{"deploy"}, wantMsg: `unknown command "deploy"`},
		{name: "unknown flag", args: []string{"compile", "--fast", "op.yaml"}, wantMsg: "flag provided but not defined: -fast"},
		{name: "flag of another command", args: []string{"schema", "--strict"}, wantMsg: "flag provided but not defined: -strict"},
		{name: "missing file", args: []string{"compile"}, wantMsg: "operation file is required"},
		{name: "two files", args: []string{"validate", "a.yaml", "b.yaml"}, wantMsg: "at most one argument"},
		{name: "bad output", args: []string{"compile", "-o", "xml", "op.yaml"}, wantMsg: "invalid output"},
		{name: "bad log level", args: []string{"compile", "--log-level", "loud", "op.yaml"}, wantMsg: "invalid log-level"},
		{name: "bad log format", args: []string{"compile", "--log-format", "xml", "op.yaml"}, wantMsg: "invalid log-format"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Parse(tc.args, &bytes.Buffer{})

			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.wantMsg)
		})
	}
}
