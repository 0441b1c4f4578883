// Package matrix expands a hyperparameter search specification into a lazy
// sequence of trials.
//
// mapping, grid and random matrices are finite and replayable: for a fixed
// matrix and seed the i-th trial is always the same, whichever goroutine
// pulls it. bayes, hyperband and iterative matrices are driven by an
// external Tuner that is asked for exactly one suggestion per Next call.
//
// Every sequence feeds the metrics reported back to it through the
// matrix's early stopping rules; once a rule fires, Next returns ErrDone.
package matrix

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"

	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/model"
)

// ErrDone is returned by Next once the sequence is exhausted or stopped.
var ErrDone = errors.New("matrix: no more trials")

// trialNamespace scopes the deterministic trial identifiers.
var trialNamespace = uuid.MustParse("6f0c1d4e-7a5b-5c2e-9d8f-3b4a1e2c6d70")

// Trial is one emitted assignment of the search space.
type Trial struct {
	Index int
	// ID is stable for a given operation name and index.
	ID string
	// Params assigns a value to every matrix param.
	Params map[string]any
	// Operation is the compiled operation for this assignment, when the
	// sequence was built with a Builder.
	Operation *model.CompiledOperation
}

// Metric is the outcome of a trial reported back to the sequence.
type Metric struct {
	Name   string
	Value  float64
	Failed bool
}

// Builder compiles the operation of one trial.
type Builder func(ctx context.Context, index int, params map[string]any) (*model.CompiledOperation, error)

// Sequence is a pull-based stream of trials. Next is safe for concurrent use.
type Sequence interface {
	// Next returns the next trial, or ErrDone.
	Next(ctx context.Context) (*Trial, error)
	// Len returns the number of trials when known in advance.
	Len() (int, bool)
	// Concurrency is the number of trials a consumer may run in parallel.
	Concurrency() int
	// Report records the outcome of a trial.
	Report(ctx context.Context, trialID string, m Metric) error
}

// Options configure New.
type Options struct {
	// Name seeds the trial identifiers; usually the operation name.
	Name string
	// Build is called for every emitted trial when set.
	Build Builder
	// Tuner drives bayes, hyperband and iterative matrices.
	Tuner Tuner
}

// New returns the sequence of m. The matrix is validated first.
func New(m *model.Matrix, opts Options) (Sequence, error) {
	if err := Validate(m, nil); err != nil {
		return nil, err
	}
	b := base{
		name:        opts.Name,
		build:       opts.Build,
		concurrency: 1,
		stopper:     NewStopper(m.EarlyStopping),
	}
	if m.Concurrency != nil {
		b.concurrency = *m.Concurrency
	}

	switch m.Kind {
	case model.MatrixMapping:
		return newMapping(b, m), nil
	case model.MatrixGrid:
		return newGrid(b, m)
	case model.MatrixRandom:
		return newRandom(b, m)
	}
	if opts.Tuner == nil {
		return nil, engineerr.New(engineerr.InvalidMatrix, "/matrix/kind", "matrix kind %q requires a tuner", m.Kind)
	}
	return newTunerSequence(b, m, opts.Tuner), nil
}

// TrialID returns the identifier of the index-th trial of name.
func TrialID(name string, index int) string {
	return uuid.NewSHA1(trialNamespace, []byte(name+"/"+strconv.Itoa(index))).String()
}

type base struct {
	name        string
	build       Builder
	concurrency int
	stopper     *Stopper
}

func (b *base) Concurrency() int { return b.concurrency }

func (b *base) trial(ctx context.Context, index int, params map[string]any) (*Trial, error) {
	t := &Trial{Index: index, ID: TrialID(b.name, index), Params: params}
	if b.build == nil {
		return t, nil
	}
	op, err := b.build(ctx, index, params)
	if err != nil {
		return nil, err
	}
	t.Operation = op
	return t, nil
}

func cancelled(err error) error {
	return engineerr.Wrap(engineerr.Cancelled, "", err, "matrix expansion cancelled")
}
