package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/opforge/internal/engineerr"
)

func TestRun_Compile(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	dir := t.TempDir()
	path := filepath.Join(dir, "op.yaml")
	op := "name: hello\ncomponent:\n  run:\n    kind: job\n    container:\n      image: alpine\n"
	require.NoError(t, os.WriteFile(path, []byte(op), 0o600))
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), out, errOut, []string{"compile", path})

	// --- Assert ---
	require.NoError(t, err, errOut.String())
	var doc map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, "hello", doc["name"])
	assert.Equal(t, "compiled_operation", doc["kind"])
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), out, errOut, []string{"-h"})

	// --- Assert ---
	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	assert.Contains(t, errOut.String(), "Usage:")
	assert.Empty(t, out.String())
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	args := []string{"compile", "--this-is-not-a-valid-flag"}
	errOut := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), &bytes.Buffer{}, errOut, args)

	// --- Assert ---
	require.Error(t, err)
	assert.Equal(t, 2, report(errOut, err))
	assert.Contains(t, errOut.String(), "flag provided but not defined: -this-is-not-a-valid-flag")
}

func TestReport(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want map[string]any
	}{
		{
			name: "engine error",
			err:  engineerr.New(engineerr.TypeMismatch, "/params/lr", "expected float"),
			want: map[string]any{"kind": "TypeMismatch", "path": "/params/lr", "message": "expected float"},
		},
		{
			name: "other error",
			err:  errors.New("disk on fire"),
			want: map[string]any{"message": "disk on fire"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := &bytes.Buffer{}

			code := report(w, tc.err)

			assert.Equal(t, 1, code)
			var got map[string]any
			require.NoError(t, json.Unmarshal(w.Bytes(), &got))
			assert.Equal(t, tc.want, got)
		})
	}
}
