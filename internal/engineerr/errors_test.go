package engineerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := New(TypeMismatch, "/params/lr", "expected %s", "float")

	assert.True(t, errors.Is(err, TypeMismatch))
	assert.False(t, errors.Is(err, MissingParam))

	wrapped := fmt.Errorf("compile: %w", err)
	assert.True(t, errors.Is(wrapped, TypeMismatch))

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, TypeMismatch, kind)
	assert.Equal(t, "/params/lr", PathOf(wrapped))
}

func TestError_Message(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ParseError, "/matrix", cause, "bad block")

	assert.Equal(t, "ParseError at /matrix: bad block: boom", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestError_MarshalJSON(t *testing.T) {
	err := Wrap(InvalidCron, "/schedule/cron", errors.New("expected 5 fields"), "invalid cron expression %q", "* *")

	raw, mErr := sonic.Marshal(err)
	require.NoError(t, mErr)

	var out map[string]any
	require.NoError(t, sonic.Unmarshal(raw, &out))
	assert.Equal(t, "InvalidCron", out["kind"])
	assert.Equal(t, "/schedule/cron", out["path"])
	assert.Equal(t, `invalid cron expression "* *"`, out["message"])
	assert.Equal(t, "expected 5 fields", out["cause"])
}

func TestUnder(t *testing.T) {
	inner := New(TypeMismatch, "/params/k", "nope")

	outer := Under("/matrix/values/2", inner)

	assert.Equal(t, "/matrix/values/2/params/k", PathOf(outer))
	assert.Equal(t, "/params/k", inner.Path, "input error must not be modified")

	plain := errors.New("plain")
	assert.Same(t, plain, Under("/x", plain))
	assert.Nil(t, Under("/x", nil))
}

func TestPointer(t *testing.T) {
	testCases := []struct {
		name     string
		segments []string
		expected string
	}{
		{name: "empty", segments: nil, expected: ""},
		{name: "simple", segments: []string{"params", "lr"}, expected: "/params/lr"},
		{name: "escapes slash and tilde", segments: []string{"runPatch", "a/b", "c~d"}, expected: "/runPatch/a~1b/c~0d"},
		{name: "index", segments: []string{"hooks", Index(3)}, expected: "/hooks/3"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Pointer(tc.segments...))
		})
	}
	assert.Equal(t, "/matrix/params/lr", Join("/matrix", "params", "lr"))
}

func TestCollector(t *testing.T) {
	var c Collector
	sink := c.Sink()
	sink(Warning{Path: "/a", Message: "one"})
	sink(Warning{Path: "/b", Message: "two"})

	got := c.Warnings()
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Message)
	assert.Equal(t, "/b", got[1].Path)
}
