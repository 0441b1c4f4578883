package matrix

import (
	"context"
	"sync"

	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/model"
)

//go:generate mockgen -destination ../mock/matrixmock/Tuner_mock.go --package matrixmock -source tuner.go

// Observation is a trial known to the tuner, with its metric once reported.
type Observation struct {
	TrialID string
	Params  map[string]any
	Metric  *Metric
}

// Tuner drives bayes, hyperband and iterative searches. The sequence calls
// Suggest exactly once per Next and forwards reports in arrival order.
type Tuner interface {
	Suggest(ctx context.Context, trials []Observation) (map[string]any, error)
	Report(ctx context.Context, trialID string, m Metric) error
	ShouldStop(ctx context.Context) bool
}

type tunerSequence struct {
	base
	tuner  Tuner
	limit  int
	params map[string]bool

	mu     sync.Mutex
	issued int
	trials []Observation
	byID   map[string]int
}

func newTunerSequence(b base, m *model.Matrix, t Tuner) *tunerSequence {
	s := &tunerSequence{base: b, tuner: t, params: map[string]bool{}, byID: map[string]int{}}
	for _, name := range m.ParamNames() {
		s.params[name] = true
	}
	switch m.Kind {
	case model.MatrixBayes:
		s.limit = deref(m.NumInitialRuns) + deref(m.MaxIterations)
	case model.MatrixIterative:
		s.limit = deref(m.MaxIterations)
	}
	if m.NumRuns != nil {
		s.limit = *m.NumRuns
	}
	return s
}

func (s *tunerSequence) Len() (int, bool) { return 0, false }

func (s *tunerSequence) Next(ctx context.Context) (*Trial, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	s.mu.Lock()
	if s.stopper.Stopped() || (s.limit > 0 && s.issued >= s.limit) || s.tuner.ShouldStop(ctx) {
		s.mu.Unlock()
		return nil, ErrDone
	}
	snapshot := make([]Observation, len(s.trials))
	copy(snapshot, s.trials)
	params, err := s.tuner.Suggest(ctx, snapshot)
	if err != nil {
		s.mu.Unlock()
		return nil, engineerr.Wrap(engineerr.InvalidMatrix, "/matrix/tuner", err, "tuner failed to suggest trial %d", s.issued)
	}
	for name := range params {
		if !s.params[name] {
			s.mu.Unlock()
			return nil, engineerr.New(engineerr.InvalidMatrix, "/matrix/tuner", "tuner suggested undeclared param %q", name)
		}
	}
	index := s.issued
	s.issued++
	id := TrialID(s.name, index)
	s.byID[id] = len(s.trials)
	s.trials = append(s.trials, Observation{TrialID: id, Params: params})
	s.mu.Unlock()

	return s.trial(ctx, index, params)
}

func (s *tunerSequence) Report(ctx context.Context, trialID string, m Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[trialID]
	if !ok {
		return engineerr.New(engineerr.InvalidMatrix, "", "unknown trial %q", trialID)
	}
	metric := m
	s.trials[i].Metric = &metric
	if err := s.tuner.Report(ctx, trialID, m); err != nil {
		return err
	}
	s.stopper.Observe(m)
	return nil
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
