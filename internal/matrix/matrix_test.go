package matrix

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/model"
)

func drainParams(t *testing.T, seq Sequence) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		trial, err := seq.Next(context.Background())
		if errors.Is(err, ErrDone) {
			return out
		}
		require.NoError(t, err)
		out = append(out, trial.Params)
	}
}

func TestMapping(t *testing.T) {
	// --- Arrange ---
	m := &model.Matrix{
		Kind:        model.MatrixMapping,
		Values:      []map[string]any{{"k": int64(1)}, {"k": int64(2)}, {"k": int64(3)}},
		Concurrency: model.Ptr(2),
	}

	// --- Act ---
	seq, err := New(m, Options{Name: "train"})
	require.NoError(t, err)
	got := drainParams(t, seq)

	// --- Assert ---
	assert.Equal(t, []map[string]any{{"k": int64(1)}, {"k": int64(2)}, {"k": int64(3)}}, got)
	n, known := seq.Len()
	assert.True(t, known)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, seq.Concurrency())
}

func TestGrid_LexicographicOrder(t *testing.T) {
	// --- Arrange ---
	m := &model.Matrix{Kind: model.MatrixGrid, Params: model.NewSpaces(
		"lr", &model.Space{Kind: model.SpaceChoice, Value: []any{0.1, 0.01}},
		"bs", &model.Space{Kind: model.SpaceRange, Value: "16:48:16"},
	)}

	// --- Act ---
	seq, err := New(m, Options{Name: "train"})
	require.NoError(t, err)
	got := drainParams(t, seq)

	// --- Assert ---
	assert.Equal(t, []map[string]any{
		{"lr": 0.1, "bs": int64(16)},
		{"lr": 0.1, "bs": int64(32)},
		{"lr": 0.01, "bs": int64(16)},
		{"lr": 0.01, "bs": int64(32)},
	}, got)
	n, _ := seq.Len()
	assert.Equal(t, 4, n)
}

func TestGrid_RejectsContinuousSpace(t *testing.T) {
	// --- Arrange ---
	m := &model.Matrix{Kind: model.MatrixGrid, Params: model.NewSpaces(
		"lr", &model.Space{Kind: model.SpaceUniform, Value: map[string]any{"low": 0.0, "high": 1.0}},
	)}

	// --- Act ---
	_, err := New(m, Options{})

	// --- Assert ---
	assert.ErrorIs(t, err, engineerr.InvalidMatrix)
	assert.Equal(t, "/matrix/params/lr", engineerr.PathOf(err))
}

func TestRandom_Deterministic(t *testing.T) {
	newMatrix := func(seed int64) *model.Matrix {
		return &model.Matrix{
			Kind:    model.MatrixRandom,
			NumRuns: model.Ptr(5),
			Seed:    model.Ptr(seed),
			Params: model.NewSpaces(
				"lr", &model.Space{Kind: model.SpaceLogUniform, Value: "-5:-1"},
				"opt", &model.Space{Kind: model.SpaceChoice, Value: []any{"adam", "sgd"}},
			),
		}
	}

	// --- Act ---
	first, err := New(newMatrix(7), Options{Name: "tune"})
	require.NoError(t, err)
	second, err := New(newMatrix(7), Options{Name: "tune"})
	require.NoError(t, err)
	other, err := New(newMatrix(8), Options{Name: "tune"})
	require.NoError(t, err)
	a, b, c := drainParams(t, first), drainParams(t, second), drainParams(t, other)

	// --- Assert ---
	require.Len(t, a, 5)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	for _, p := range a {
		lr := p["lr"].(float64)
		assert.GreaterOrEqual(t, lr, 0.006)
		assert.LessOrEqual(t, lr, 0.37)
		assert.Contains(t, []any{"adam", "sgd"}, p["opt"])
	}
}

func TestRandom_ConcurrentPullMatchesSequential(t *testing.T) {
	// --- Arrange ---
	m := &model.Matrix{
		Kind:    model.MatrixRandom,
		NumRuns: model.Ptr(20),
		Seed:    model.Ptr(int64(42)),
		Params:  model.NewSpaces("x", &model.Space{Kind: model.SpaceNormal, Value: []any{int64(0), int64(1)}}),
	}
	seq, err := New(m, Options{})
	require.NoError(t, err)
	want := drainParams(t, seq)

	// --- Act ---
	parallel, err := New(m, Options{})
	require.NoError(t, err)
	got := make([]map[string]any, 20)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				trial, err := parallel.Next(context.Background())
				if err != nil {
					return
				}
				got[trial.Index] = trial.Params
			}
		}()
	}
	wg.Wait()

	// --- Assert ---
	assert.Equal(t, want, got)
}

func TestTrialID(t *testing.T) {
	assert.Equal(t, TrialID("train", 3), TrialID("train", 3))
	assert.NotEqual(t, TrialID("train", 3), TrialID("train", 4))
	assert.NotEqual(t, TrialID("train", 3), TrialID("eval", 3))
}

func TestParseSpace_Values(t *testing.T) {
	testCases := []struct {
		name  string
		space *model.Space
		want  []any
	}{
		{name: "choice", space: &model.Space{Kind: model.SpaceChoice, Value: []any{"a", int64(1)}}, want: []any{"a", int64(1)}},
		{name: "pchoice", space: &model.Space{Kind: model.SpacePChoice, Value: []any{[]any{"a", 0.3}, []any{"b", 0.7}}}, want: []any{"a", "b"}},
		{name: "range string", space: &model.Space{Kind: model.SpaceRange, Value: "0:5:2"}, want: []any{int64(0), int64(2), int64(4)}},
		{name: "range map", space: &model.Space{Kind: model.SpaceRange, Value: map[string]any{"start": int64(1), "stop": int64(4), "step": int64(1)}}, want: []any{int64(1), int64(2), int64(3)}},
		{name: "range float", space: &model.Space{Kind: model.SpaceRange, Value: []any{0.0, 1.0, 0.5}}, want: []any{0.0, 0.5}},
		{name: "linspace", space: &model.Space{Kind: model.SpaceLinspace, Value: "0:1:3"}, want: []any{0.0, 0.5, 1.0}},
		{name: "logspace", space: &model.Space{Kind: model.SpaceLogspace, Value: "0:2:3"}, want: []any{1.0, 10.0, 100.0}},
		{name: "geomspace", space: &model.Space{Kind: model.SpaceGeomspace, Value: map[string]any{"start": int64(1), "stop": int64(8), "num": int64(4)}}, want: []any{1.0, 2.0, 4.0, 8.0}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Act ---
			sp, err := ParseSpace(tc.space)
			require.NoError(t, err)
			got, err := sp.Values()

			// --- Assert ---
			require.NoError(t, err)
			require.Len(t, got, len(tc.want))
			for i := range tc.want {
				if f, ok := tc.want[i].(float64); ok {
					assert.InDelta(t, f, got[i], 1e-9)
				} else {
					assert.Equal(t, tc.want[i], got[i])
				}
			}
		})
	}
}

func TestParseSpace_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		space *model.Space
	}{
		{name: "empty choice", space: &model.Space{Kind: model.SpaceChoice, Value: []any{}}},
		{name: "pchoice not summing to one", space: &model.Space{Kind: model.SpacePChoice, Value: []any{[]any{"a", 0.3}}}},
		{name: "zero step", space: &model.Space{Kind: model.SpaceRange, Value: "0:5:0"}},
		{name: "empty range", space: &model.Space{Kind: model.SpaceRange, Value: "5:0:1"}},
		{name: "inverted uniform", space: &model.Space{Kind: model.SpaceUniform, Value: "1:0"}},
		{name: "missing q", space: &model.Space{Kind: model.SpaceQUniform, Value: "0:1"}},
		{name: "bad scale", space: &model.Space{Kind: model.SpaceNormal, Value: "0:-1"}},
		{name: "unknown field", space: &model.Space{Kind: model.SpaceUniform, Value: map[string]any{"low": 0.0, "high": 1.0, "mean": 0.5}}},
		{name: "too many values", space: &model.Space{Kind: model.SpaceUniform, Value: "0:1:2"}},
		{name: "not a number", space: &model.Space{Kind: model.SpaceLinspace, Value: "a:b:c"}},
		{name: "unknown kind", space: &model.Space{Kind: "beta", Value: "0:1"}},
		{name: "range too large", space: &model.Space{Kind: model.SpaceRange, Value: map[string]any{"start": 0, "stop": 1e19, "step": 1}}},
		{name: "linspace too large", space: &model.Space{Kind: model.SpaceLinspace, Value: []any{0, 1, MaxValues + 1}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSpace(tc.space)
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	choice := &model.Space{Kind: model.SpaceChoice, Value: []any{int64(1)}}
	testCases := []struct {
		name     string
		matrix   *model.Matrix
		declared []string
		wantPath string
	}{
		{name: "unknown kind", matrix: &model.Matrix{Kind: "annealing"}, wantPath: "/matrix/kind"},
		{name: "empty mapping", matrix: &model.Matrix{Kind: model.MatrixMapping}, wantPath: "/matrix/values"},
		{
			name:     "mapping undeclared param",
			matrix:   &model.Matrix{Kind: model.MatrixMapping, Values: []map[string]any{{"k": int64(1)}, {"z": int64(2)}}},
			declared: []string{"k"},
			wantPath: "/matrix/values/1/z",
		},
		{
			name:     "grid undeclared param",
			matrix:   &model.Matrix{Kind: model.MatrixGrid, Params: model.NewSpaces("z", choice)},
			declared: []string{"k"},
			wantPath: "/matrix/params/z",
		},
		{name: "random without numRuns", matrix: &model.Matrix{Kind: model.MatrixRandom, Params: model.NewSpaces("k", choice)}, wantPath: "/matrix/numRuns"},
		{name: "non-positive numRuns", matrix: &model.Matrix{Kind: model.MatrixRandom, NumRuns: model.Ptr(0), Params: model.NewSpaces("k", choice)}, wantPath: "/matrix/numRuns"},
		{name: "zero concurrency", matrix: &model.Matrix{Kind: model.MatrixGrid, Concurrency: model.Ptr(0), Params: model.NewSpaces("k", choice)}, wantPath: "/matrix/concurrency"},
		{name: "bayes without metric", matrix: &model.Matrix{Kind: model.MatrixBayes, Params: model.NewSpaces("k", choice)}, wantPath: "/matrix/metric"},
		{
			name:     "hyperband without eta",
			matrix:   &model.Matrix{Kind: model.MatrixHyperband, Params: model.NewSpaces("k", choice), Metric: &model.OptimizationMetric{Name: "loss"}, Resource: &model.OptimizationResource{Name: "epochs"}, MaxIterations: model.Ptr(81)},
			wantPath: "/matrix/eta",
		},
		{
			name: "bad early stopping",
			matrix: &model.Matrix{Kind: model.MatrixGrid, Params: model.NewSpaces("k", choice), EarlyStopping: []*model.EarlyStopping{
				{Kind: model.MetricEarlyStopping, Metric: "loss", Value: model.Ptr(0.1)},
				{Kind: model.FailureEarlyStopping},
			}},
			wantPath: "/matrix/earlyStopping/1/percent",
		},
		{name: "grid with values", matrix: &model.Matrix{Kind: model.MatrixGrid, Values: []map[string]any{{"k": int64(1)}}}, wantPath: "/matrix/values"},
		{
			name: "grid product too large",
			matrix: &model.Matrix{Kind: model.MatrixGrid, Params: model.NewSpaces(
				"a", &model.Space{Kind: model.SpaceRange, Value: "0:2000:1"},
				"b", &model.Space{Kind: model.SpaceRange, Value: "0:2000:1"},
			)},
			wantPath: "/matrix/params",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Act ---
			err := Validate(tc.matrix, tc.declared)

			// --- Assert ---
			require.Error(t, err)
			assert.ErrorIs(t, err, engineerr.InvalidMatrix)
			assert.Equal(t, tc.wantPath, engineerr.PathOf(err))
		})
	}
}

func TestStopper(t *testing.T) {
	testCases := []struct {
		name     string
		rule     *model.EarlyStopping
		reports  []Metric
		stopAt   int
		wantStop bool
	}{
		{
			name:     "threshold maximize",
			rule:     &model.EarlyStopping{Kind: model.MetricEarlyStopping, Metric: "acc", Value: model.Ptr(0.9), Optimization: model.Maximize},
			reports:  []Metric{{Name: "acc", Value: 0.5}, {Name: "acc", Value: 0.95}},
			stopAt:   1,
			wantStop: true,
		},
		{
			name:     "threshold minimize ignores other metrics",
			rule:     &model.EarlyStopping{Kind: model.MetricEarlyStopping, Metric: "loss", Value: model.Ptr(0.1), Optimization: model.Minimize},
			reports:  []Metric{{Name: "acc", Value: 0.01}, {Name: "loss", Value: 0.5}},
			wantStop: false,
		},
		{
			name:     "failure percent",
			rule:     &model.EarlyStopping{Kind: model.FailureEarlyStopping, Percent: model.Ptr(50)},
			reports:  []Metric{{Name: "acc", Value: 1}, {Failed: true}, {Name: "acc", Value: 1}, {Failed: true}},
			stopAt:   1,
			wantStop: true,
		},
		{
			name: "median policy",
			rule: &model.EarlyStopping{Kind: model.MetricEarlyStopping, Metric: "acc", Optimization: model.Maximize,
				Policy: &model.StoppingPolicy{Kind: model.PolicyMedian, MinSamples: model.Ptr(3)}},
			reports:  []Metric{{Name: "acc", Value: 0.5}, {Name: "acc", Value: 0.7}, {Name: "acc", Value: 0.8}, {Name: "acc", Value: 0.2}},
			stopAt:   3,
			wantStop: true,
		},
		{
			name: "diff policy",
			rule: &model.EarlyStopping{Kind: model.MetricEarlyStopping, Metric: "loss", Optimization: model.Minimize,
				Policy: &model.StoppingPolicy{Kind: model.PolicyDiff, Percent: model.Ptr(50)}},
			reports:  []Metric{{Name: "loss", Value: 1.0}, {Name: "loss", Value: 1.2}, {Name: "loss", Value: 2.0}},
			stopAt:   2,
			wantStop: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			s := NewStopper([]*model.EarlyStopping{tc.rule})

			// --- Act ---
			firedAt := -1
			for i, m := range tc.reports {
				if s.Observe(m) && firedAt < 0 {
					firedAt = i
				}
			}

			// --- Assert ---
			assert.Equal(t, tc.wantStop, s.Stopped())
			if tc.wantStop {
				assert.Equal(t, tc.stopAt, firedAt)
				assert.NotEmpty(t, s.Reason())
			}
		})
	}
}

func TestReport_StopsFiniteSequence(t *testing.T) {
	// --- Arrange ---
	m := &model.Matrix{
		Kind:          model.MatrixMapping,
		Values:        []map[string]any{{"k": int64(1)}, {"k": int64(2)}, {"k": int64(3)}},
		EarlyStopping: []*model.EarlyStopping{{Kind: model.MetricEarlyStopping, Metric: "loss", Value: model.Ptr(0.1), Optimization: model.Minimize}},
	}
	seq, err := New(m, Options{Name: "train"})
	require.NoError(t, err)
	first, err := seq.Next(context.Background())
	require.NoError(t, err)

	// --- Act ---
	require.NoError(t, seq.Report(context.Background(), first.ID, Metric{Name: "loss", Value: 0.05}))
	_, err = seq.Next(context.Background())

	// --- Assert ---
	assert.ErrorIs(t, err, ErrDone)
}

func TestNext_Cancelled(t *testing.T) {
	// --- Arrange ---
	seq, err := New(&model.Matrix{Kind: model.MatrixMapping, Values: []map[string]any{{"k": int64(1)}}}, Options{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// --- Act ---
	_, err = seq.Next(ctx)

	// --- Assert ---
	assert.ErrorIs(t, err, engineerr.Cancelled)
}

func TestNew_TunerKindWithoutTuner(t *testing.T) {
	// --- Arrange ---
	m := &model.Matrix{Kind: model.MatrixIterative, MaxIterations: model.Ptr(3), Params: model.NewSpaces(
		"lr", &model.Space{Kind: model.SpaceUniform, Value: "0:1"},
	)}

	// --- Act ---
	_, err := New(m, Options{})

	// --- Assert ---
	assert.ErrorIs(t, err, engineerr.InvalidMatrix)
}

func TestBuilderIsCalledPerTrial(t *testing.T) {
	// --- Arrange ---
	m := &model.Matrix{Kind: model.MatrixMapping, Values: []map[string]any{{"k": int64(1)}, {"k": int64(2)}}}
	build := func(_ context.Context, index int, params map[string]any) (*model.CompiledOperation, error) {
		return &model.CompiledOperation{Kind: model.CompiledOperationKind, Name: model.Ptr(TrialID("train", index)), Cost: model.Ptr(float64(params["k"].(int64)))}, nil
	}
	seq, err := New(m, Options{Name: "train", Build: build})
	require.NoError(t, err)

	// --- Act ---
	trials, err := Collect(context.Background(), seq)

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, trials, 2)
	for i, trial := range trials {
		assert.Equal(t, i, trial.Index)
		assert.Equal(t, trial.ID, *trial.Operation.Name)
		assert.Equal(t, float64(i+1), *trial.Operation.Cost)
	}
}

func TestDrain_StopsOnError(t *testing.T) {
	// --- Arrange ---
	m := &model.Matrix{Kind: model.MatrixGrid, Concurrency: model.Ptr(3), Params: model.NewSpaces(
		"k", &model.Space{Kind: model.SpaceRange, Value: "0:100:1"},
	)}
	seq, err := New(m, Options{})
	require.NoError(t, err)
	boom := errors.New("boom")

	// --- Act ---
	err = Drain(context.Background(), seq, func(_ context.Context, trial *Trial) error {
		if trial.Index == 5 {
			return boom
		}
		return nil
	})

	// --- Assert ---
	assert.ErrorIs(t, err, boom)
}

func TestDrain_RespectsConcurrency(t *testing.T) {
	// --- Arrange ---
	m := &model.Matrix{Kind: model.MatrixGrid, Concurrency: model.Ptr(2), Params: model.NewSpaces(
		"k", &model.Space{Kind: model.SpaceRange, Value: "0:20:1"},
	)}
	seq, err := New(m, Options{})
	require.NoError(t, err)
	var mu sync.Mutex
	inFlight, peak, count := 0, 0, 0

	// --- Act ---
	err = Drain(context.Background(), seq, func(_ context.Context, _ *Trial) error {
		mu.Lock()
		inFlight++
		count++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, 20, count)
	assert.LessOrEqual(t, peak, 2)
}
