package compiler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/model"
	"github.com/vk/opforge/internal/params"
	"github.com/vk/opforge/internal/types"
)

func normalized(op *model.CompiledOperation, opts Options) (*model.CompiledOperation, []engineerr.Warning, error) {
	if op.Component == nil {
		op.Component = &model.Component{
			Inputs:  []*model.IO{{Name: "lr", Type: types.Of(types.Float)}},
			Outputs: []*model.IO{{Name: "loss", Type: types.Of(types.Float)}},
			Run:     model.Run{"kind": "job"},
		}
	}
	var warnings engineerr.Collector
	n := &normalization{op: op, opts: &opts, warn: warnings.Sink(), declared: []string{"lr"}}
	err := n.run()
	return op, warnings.Warnings(), err
}

func TestNormalize_Errors(t *testing.T) {
	testCases := []struct {
		name     string
		op       *model.CompiledOperation
		opts     Options
		wantKind engineerr.Kind
		wantPath string
	}{
		{
			name:     "unknown schedule kind",
			op:       &model.CompiledOperation{Schedule: &model.Schedule{Kind: "weekly"}},
			wantKind: engineerr.InvalidSchedule,
			wantPath: "/schedule/kind",
		},
		{
			name:     "bad cron",
			op:       &model.CompiledOperation{Schedule: &model.Schedule{Kind: model.ScheduleCron, Cron: "61 * * * *"}},
			wantKind: engineerr.InvalidCron,
			wantPath: "/schedule/cron",
		},
		{
			name:     "empty cron",
			op:       &model.CompiledOperation{Schedule: &model.Schedule{Kind: model.ScheduleCron}},
			wantKind: engineerr.InvalidCron,
			wantPath: "/schedule/cron",
		},
		{
			name:     "cron on an interval schedule",
			op:       &model.CompiledOperation{Schedule: &model.Schedule{Kind: model.ScheduleInterval, Cron: "* * * * *", Frequency: 60}},
			wantKind: engineerr.InvalidSchedule,
			wantPath: "/schedule/cron",
		},
		{
			name:     "negative frequency",
			op:       &model.CompiledOperation{Schedule: &model.Schedule{Kind: model.ScheduleInterval, Frequency: -5}},
			wantKind: engineerr.InvalidInterval,
			wantPath: "/schedule/frequency",
		},
		{
			name:     "fractional duration",
			op:       &model.CompiledOperation{Schedule: &model.Schedule{Kind: model.ScheduleInterval, Frequency: "1500ms"}},
			wantKind: engineerr.InvalidInterval,
			wantPath: "/schedule/frequency",
		},
		{
			name:     "frequency beyond int64",
			op:       &model.CompiledOperation{Schedule: &model.Schedule{Kind: model.ScheduleInterval, Frequency: 1e19}},
			wantKind: engineerr.InvalidInterval,
			wantPath: "/schedule/frequency",
		},
		{
			name:     "datetime without startAt",
			op:       &model.CompiledOperation{Schedule: &model.Schedule{Kind: model.ScheduleDatetime}},
			wantKind: engineerr.InvalidSchedule,
			wantPath: "/schedule/startAt",
		},
		{
			name: "endAt before startAt",
			op: &model.CompiledOperation{Schedule: &model.Schedule{
				Kind: model.ScheduleCron, Cron: "@daily",
				StartAt: "2025-06-01T00:00:00Z", EndAt: "2025-05-01T00:00:00Z",
			}},
			wantKind: engineerr.InvalidSchedule,
			wantPath: "/schedule/endAt",
		},
		{
			name:     "event without kinds",
			op:       &model.CompiledOperation{Events: []*model.EventTrigger{{Ref: "ops.upstream"}}},
			wantKind: engineerr.InvalidField,
			wantPath: "/events/0/kinds",
		},
		{
			name:     "event on a field",
			op:       &model.CompiledOperation{Events: []*model.EventTrigger{{Kinds: []string{"run_status_done"}, Ref: "ops.upstream.outputs.loss"}}},
			wantKind: engineerr.BadReference,
			wantPath: "/events/0/ref",
		},
		{
			name:     "unknown event kind",
			op:       &model.CompiledOperation{Events: []*model.EventTrigger{{Kinds: []string{"run_status_exploded"}, Ref: "ops.upstream"}}},
			wantKind: engineerr.InvalidField,
			wantPath: "/events/0/kinds/0",
		},
		{
			name:     "negative retries",
			op:       &model.CompiledOperation{Termination: &model.Termination{MaxRetries: model.Ptr(-1)}},
			wantKind: engineerr.InvalidField,
			wantPath: "/termination/maxRetries",
		},
		{
			name:     "unknown log level",
			op:       &model.CompiledOperation{Plugins: &model.Plugins{LogLevel: model.Ptr("loud")}},
			wantKind: engineerr.InvalidField,
			wantPath: "/plugins/logLevel",
		},
		{
			name:     "notification on unknown connection",
			op:       &model.CompiledOperation{Plugins: &model.Plugins{Notifications: []*model.Notification{{Connections: []string{"pager"}}}}},
			opts:     Options{Connections: params.NewCatalog("slack")},
			wantKind: engineerr.InvalidConnection,
			wantPath: "/plugins/notifications/0/connections/0",
		},
		{
			name:     "cache io undeclared",
			op:       &model.CompiledOperation{Cache: &model.Cache{IO: []string{"lr", "batch"}}},
			wantKind: engineerr.InvalidField,
			wantPath: "/cache/io/1",
		},
		{
			name:     "hook trigger",
			op:       &model.CompiledOperation{Hooks: []*model.Hook{{Trigger: "sometimes", HubRef: "notify"}}},
			wantKind: engineerr.InvalidField,
			wantPath: "/hooks/0/trigger",
		},
		{
			name:     "hook target",
			op:       &model.CompiledOperation{Hooks: []*model.Hook{{Trigger: "done"}}},
			wantKind: engineerr.InvalidField,
			wantPath: "/hooks/0",
		},
		{
			name:     "hook param value and ref",
			op:       &model.CompiledOperation{Hooks: []*model.Hook{{Trigger: "failed", HubRef: "notify", Params: map[string]*model.Param{"msg": {Value: "x", Ref: "globals.uuid"}}}}},
			wantKind: engineerr.AmbiguousParam,
			wantPath: "/hooks/0/params/msg",
		},
		{
			name:     "build without hubRef",
			op:       &model.CompiledOperation{Build: &model.Build{Connection: "registry"}},
			wantKind: engineerr.InvalidField,
			wantPath: "/build/hubRef",
		},
		{
			name:     "unknown trigger",
			op:       &model.CompiledOperation{Trigger: model.Ptr("most_succeeded")},
			wantKind: engineerr.InvalidField,
			wantPath: "/trigger",
		},
		{
			name:     "empty dependency",
			op:       &model.CompiledOperation{Dependencies: []string{"a", " "}},
			wantKind: engineerr.InvalidField,
			wantPath: "/dependencies/1",
		},
		{
			name:     "matrix on undeclared param",
			op:       &model.CompiledOperation{Matrix: &model.Matrix{Kind: model.MatrixMapping, Values: []map[string]any{{"momentum": 0.9}}}},
			wantKind: engineerr.InvalidMatrix,
			wantPath: "/matrix/values/0/momentum",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := normalized(tc.op, tc.opts)

			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantKind)
			assert.Equal(t, tc.wantPath, engineerr.PathOf(err))
		})
	}
}

func TestNormalize_Schedule(t *testing.T) {
	testCases := []struct {
		name     string
		schedule *model.Schedule
		want     *model.Schedule
	}{
		{
			name:     "cron whitespace is collapsed",
			schedule: &model.Schedule{Kind: "CRON", Cron: "  0  3 * *   1 "},
			want:     &model.Schedule{Kind: model.ScheduleCron, Cron: "0 3 * * 1"},
		},
		{
			name:     "interval duration becomes seconds",
			schedule: &model.Schedule{Kind: model.ScheduleInterval, Frequency: "1h30m"},
			want:     &model.Schedule{Kind: model.ScheduleInterval, Frequency: int64(5400)},
		},
		{
			name:     "interval number",
			schedule: &model.Schedule{Kind: model.ScheduleInterval, Frequency: float64(120)},
			want:     &model.Schedule{Kind: model.ScheduleInterval, Frequency: int64(120)},
		},
		{
			name:     "timestamps move to UTC",
			schedule: &model.Schedule{Kind: model.ScheduleDatetime, StartAt: "2025-06-01T02:00:00+02:00"},
			want:     &model.Schedule{Kind: model.ScheduleDatetime, StartAt: "2025-06-01T00:00:00Z"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			op, _, err := normalized(&model.CompiledOperation{Schedule: tc.schedule}, Options{})

			require.NoError(t, err)
			assert.Equal(t, tc.want, op.Schedule)
		})
	}
}

func TestNormalize_FillsDefaults(t *testing.T) {
	// --- Arrange ---
	op := &model.CompiledOperation{
		Plugins: &model.Plugins{Auth: model.Ptr(false), LogLevel: model.Ptr("DEBUG")},
		Cache:   &model.Cache{IO: []string{"lr", "loss"}},
	}

	// --- Act ---
	out, _, err := normalized(op, Options{})

	// --- Assert ---
	require.NoError(t, err)
	assert.False(t, *out.Plugins.Auth, "explicit values are kept")
	assert.True(t, *out.Plugins.CollectLogs)
	assert.False(t, *out.Plugins.Docker)
	assert.Equal(t, "debug", *out.Plugins.LogLevel)
	require.NotNil(t, out.Cache.Disable)
	assert.False(t, *out.Cache.Disable)
}

func TestNormalize_LeavesAbsentDecorations(t *testing.T) {
	out, warnings, err := normalized(&model.CompiledOperation{}, Options{})

	require.NoError(t, err)
	assert.Nil(t, out.Plugins)
	assert.Nil(t, out.Cache)
	assert.Empty(t, warnings)
}

func TestNormalize_TriggerAliases(t *testing.T) {
	testCases := []struct {
		raw      string
		want     string
		warnings int
	}{
		{raw: "all_succeeded", want: "all_succeeded"},
		{raw: "one-failed", want: "one_failed", warnings: 1},
		{raw: "ALL_DONE", want: "all_done", warnings: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			out, warnings, err := normalized(&model.CompiledOperation{Trigger: model.Ptr(tc.raw)}, Options{})

			require.NoError(t, err)
			assert.Equal(t, tc.want, *out.Trigger)
			assert.Len(t, warnings, tc.warnings)
		})
	}
}

func TestNormalize_Events(t *testing.T) {
	op := &model.CompiledOperation{Events: []*model.EventTrigger{{
		Kinds: []string{"RUN_STATUS_SUCCEEDED"},
		Ref:   "runs.3f1e9a4c-2b7d-4c1e-9f6a-5d8b7c6e4a21",
	}}}

	out, _, err := normalized(op, Options{})

	require.NoError(t, err)
	assert.Equal(t, []string{"run_status_succeeded"}, out.Events[0].Kinds)
}

func TestFrequencySeconds(t *testing.T) {
	testCases := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{in: 60, want: 60},
		{in: int64(5), want: 5},
		{in: "300", want: 300},
		{in: "2m", want: 120},
		{in: 1.5, wantErr: true},
		{in: 1e19, wantErr: true},
		{in: math.Inf(1), wantErr: true},
		{in: 0, wantErr: true},
		{in: "soon", wantErr: true},
		{in: nil, wantErr: true},
		{in: true, wantErr: true},
	}

	for _, tc := range testCases {
		got, err := frequencySeconds(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %v", tc.in)
			continue
		}
		require.NoError(t, err, "input %v", tc.in)
		assert.Equal(t, tc.want, got)
	}
}
