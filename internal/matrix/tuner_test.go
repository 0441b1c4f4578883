package matrix_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/matrix"
	"github.com/vk/opforge/internal/mock/matrixmock"
	"github.com/vk/opforge/internal/model"
)

func bayes() *model.Matrix {
	return &model.Matrix{
		Kind:           model.MatrixBayes,
		Concurrency:    model.Ptr(2),
		NumInitialRuns: model.Ptr(1),
		MaxIterations:  model.Ptr(2),
		Metric:         &model.OptimizationMetric{Name: "loss", Optimization: model.Minimize},
		Params: model.NewSpaces(
			"lr", &model.Space{Kind: model.SpaceLogUniform, Value: "-5:-1"},
		),
	}
}

func TestTunerSequence_SuggestOncePerNext(t *testing.T) {
	// --- Arrange ---
	ctrl := gomock.NewController(t)
	tuner := matrixmock.NewMockTuner(ctrl)
	ctx := context.Background()

	tuner.EXPECT().ShouldStop(gomock.Any()).Return(false).Times(3)
	gomock.InOrder(
		tuner.EXPECT().Suggest(gomock.Any(), gomock.Len(0)).Return(map[string]any{"lr": 0.1}, nil),
		tuner.EXPECT().Suggest(gomock.Any(), gomock.Len(1)).Return(map[string]any{"lr": 0.01}, nil),
		tuner.EXPECT().Suggest(gomock.Any(), gomock.Len(2)).Return(map[string]any{"lr": 0.001}, nil),
	)

	seq, err := matrix.New(bayes(), matrix.Options{Name: "tune", Tuner: tuner})
	require.NoError(t, err)

	// --- Act ---
	var got []any
	for {
		trial, err := seq.Next(ctx)
		if errors.Is(err, matrix.ErrDone) {
			break
		}
		require.NoError(t, err)
		got = append(got, trial.Params["lr"])
	}

	// --- Assert ---
	assert.Equal(t, []any{0.1, 0.01, 0.001}, got, "numInitialRuns + maxIterations bounds the sequence")
	_, known := seq.Len()
	assert.False(t, known)
	assert.Equal(t, 2, seq.Concurrency())
}

func TestTunerSequence_ReportsInArrivalOrder(t *testing.T) {
	// --- Arrange ---
	ctrl := gomock.NewController(t)
	tuner := matrixmock.NewMockTuner(ctrl)
	ctx := context.Background()

	tuner.EXPECT().ShouldStop(gomock.Any()).Return(false).AnyTimes()
	tuner.EXPECT().Suggest(gomock.Any(), gomock.Any()).Return(map[string]any{"lr": 0.1}, nil).Times(2)

	seq, err := matrix.New(bayes(), matrix.Options{Name: "tune", Tuner: tuner})
	require.NoError(t, err)
	first, err := seq.Next(ctx)
	require.NoError(t, err)
	second, err := seq.Next(ctx)
	require.NoError(t, err)

	gomock.InOrder(
		tuner.EXPECT().Report(gomock.Any(), second.ID, matrix.Metric{Name: "loss", Value: 0.4}).Return(nil),
		tuner.EXPECT().Report(gomock.Any(), first.ID, matrix.Metric{Name: "loss", Value: 0.3}).Return(nil),
	)

	// --- Act ---
	errSecond := seq.Report(ctx, second.ID, matrix.Metric{Name: "loss", Value: 0.4})
	errFirst := seq.Report(ctx, first.ID, matrix.Metric{Name: "loss", Value: 0.3})
	errUnknown := seq.Report(ctx, "nope", matrix.Metric{Name: "loss", Value: 0.3})

	// --- Assert ---
	require.NoError(t, errSecond)
	require.NoError(t, errFirst)
	assert.ErrorIs(t, errUnknown, engineerr.InvalidMatrix)
}

func TestTunerSequence_Stops(t *testing.T) {
	t.Run("tuner asks to stop", func(t *testing.T) {
		// --- Arrange ---
		ctrl := gomock.NewController(t)
		tuner := matrixmock.NewMockTuner(ctrl)
		tuner.EXPECT().ShouldStop(gomock.Any()).Return(true)
		seq, err := matrix.New(bayes(), matrix.Options{Tuner: tuner})
		require.NoError(t, err)

		// --- Act ---
		_, err = seq.Next(context.Background())

		// --- Assert ---
		assert.ErrorIs(t, err, matrix.ErrDone)
	})

	t.Run("early stopping fires", func(t *testing.T) {
		// --- Arrange ---
		ctrl := gomock.NewController(t)
		tuner := matrixmock.NewMockTuner(ctrl)
		tuner.EXPECT().ShouldStop(gomock.Any()).Return(false)
		tuner.EXPECT().Suggest(gomock.Any(), gomock.Any()).Return(map[string]any{"lr": 0.1}, nil)
		tuner.EXPECT().Report(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

		m := bayes()
		m.EarlyStopping = []*model.EarlyStopping{{Kind: model.MetricEarlyStopping, Metric: "loss", Value: model.Ptr(0.05), Optimization: model.Minimize}}
		seq, err := matrix.New(m, matrix.Options{Tuner: tuner})
		require.NoError(t, err)
		trial, err := seq.Next(context.Background())
		require.NoError(t, err)

		// --- Act ---
		require.NoError(t, seq.Report(context.Background(), trial.ID, matrix.Metric{Name: "loss", Value: 0.01}))
		_, err = seq.Next(context.Background())

		// --- Assert ---
		assert.ErrorIs(t, err, matrix.ErrDone)
	})
}

func TestTunerSequence_Errors(t *testing.T) {
	t.Run("suggest fails", func(t *testing.T) {
		// --- Arrange ---
		ctrl := gomock.NewController(t)
		tuner := matrixmock.NewMockTuner(ctrl)
		tuner.EXPECT().ShouldStop(gomock.Any()).Return(false)
		tuner.EXPECT().Suggest(gomock.Any(), gomock.Any()).Return(nil, errors.New("tuner unavailable"))
		seq, err := matrix.New(bayes(), matrix.Options{Tuner: tuner})
		require.NoError(t, err)

		// --- Act ---
		_, err = seq.Next(context.Background())

		// --- Assert ---
		assert.ErrorIs(t, err, engineerr.InvalidMatrix)
		assert.ErrorContains(t, err, "tuner unavailable")
	})

	t.Run("undeclared param", func(t *testing.T) {
		// --- Arrange ---
		ctrl := gomock.NewController(t)
		tuner := matrixmock.NewMockTuner(ctrl)
		tuner.EXPECT().ShouldStop(gomock.Any()).Return(false)
		tuner.EXPECT().Suggest(gomock.Any(), gomock.Any()).Return(map[string]any{"momentum": 0.9}, nil)
		seq, err := matrix.New(bayes(), matrix.Options{Tuner: tuner})
		require.NoError(t, err)

		// --- Act ---
		_, err = seq.Next(context.Background())

		// --- Assert ---
		assert.ErrorIs(t, err, engineerr.InvalidMatrix)
	})
}
