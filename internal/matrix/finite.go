package matrix

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/model"
	"github.com/vk/opforge/internal/types"
)

// finiteSequence emits total trials whose params depend only on the index.
type finiteSequence struct {
	base
	total  int
	assign func(index int) map[string]any

	mu   sync.Mutex
	next int
}

func (s *finiteSequence) Len() (int, bool) { return s.total, true }

func (s *finiteSequence) Next(ctx context.Context) (*Trial, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	s.mu.Lock()
	if s.next >= s.total || s.stopper.Stopped() {
		s.mu.Unlock()
		return nil, ErrDone
	}
	index := s.next
	s.next++
	s.mu.Unlock()

	return s.trial(ctx, index, s.assign(index))
}

func (s *finiteSequence) Report(_ context.Context, _ string, m Metric) error {
	s.stopper.Observe(m)
	return nil
}

func newMapping(b base, m *model.Matrix) *finiteSequence {
	rows := types.DeepCopy(toAny(m.Values)).([]any)
	return &finiteSequence{
		base:  b,
		total: len(rows),
		assign: func(i int) map[string]any {
			return types.DeepCopy(rows[i]).(map[string]any)
		},
	}
}

func newGrid(b base, m *model.Matrix) (*finiteSequence, error) {
	names, spaces, err := parseSpaces(m)
	if err != nil {
		return nil, err
	}
	values := make([][]any, len(spaces))
	total := 1
	for i, sp := range spaces {
		vs, err := sp.Values()
		if err != nil {
			return nil, engineerr.Wrap(engineerr.InvalidMatrix, engineerr.Pointer("matrix", "params", names[i]), err, "grid search needs discrete spaces")
		}
		values[i] = vs
		if total, err = gridSize(total, len(vs)); err != nil {
			return nil, engineerr.Wrap(engineerr.InvalidMatrix, "/matrix/params", err, "grid search is too large")
		}
	}
	return &finiteSequence{
		base:  b,
		total: total,
		// The last param varies fastest, so emission is lexicographic in
		// declaration order.
		assign: func(index int) map[string]any {
			out := make(map[string]any, len(names))
			for i := len(names) - 1; i >= 0; i-- {
				n := len(values[i])
				out[names[i]] = types.DeepCopy(values[i][index%n])
				index /= n
			}
			return out
		},
	}, nil
}

func newRandom(b base, m *model.Matrix) (*finiteSequence, error) {
	names, spaces, err := parseSpaces(m)
	if err != nil {
		return nil, err
	}
	var seed uint64
	if m.Seed != nil {
		seed = uint64(*m.Seed)
	}
	return &finiteSequence{
		base:  b,
		total: *m.NumRuns,
		// Each index draws from its own PCG stream so the i-th sample does
		// not depend on the order trials are pulled in.
		assign: func(index int) map[string]any {
			r := rand.New(rand.NewPCG(seed, uint64(index)))
			out := make(map[string]any, len(names))
			for i, sp := range spaces {
				out[names[i]] = sp.Sample(r)
			}
			return out
		},
	}, nil
}

func parseSpaces(m *model.Matrix) ([]string, []*Space, error) {
	var names []string
	var spaces []*Space
	for pair := m.Params.Oldest(); pair != nil; pair = pair.Next() {
		sp, err := ParseSpace(pair.Value)
		if err != nil {
			return nil, nil, engineerr.Wrap(engineerr.InvalidMatrix, engineerr.Pointer("matrix", "params", pair.Key), err, "invalid search space")
		}
		names = append(names, pair.Key)
		spaces = append(spaces, sp)
	}
	return names, spaces, nil
}

func toAny(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row
	}
	return out
}
