package matrix

import (
	"fmt"

	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/model"
)

var kinds = map[model.MatrixKind]bool{
	model.MatrixMapping:   true,
	model.MatrixGrid:      true,
	model.MatrixRandom:    true,
	model.MatrixBayes:     true,
	model.MatrixHyperband: true,
	model.MatrixIterative: true,
}

// Validate checks that m is internally consistent. When declared is not nil,
// every param the matrix assigns must be one of the declared names.
func Validate(m *model.Matrix, declared []string) error {
	if m == nil {
		return nil
	}
	if !kinds[m.Kind] {
		return invalid("/matrix/kind", "unknown matrix kind %q", m.Kind)
	}
	if m.Concurrency != nil && *m.Concurrency < 1 {
		return invalid("/matrix/concurrency", "concurrency must be at least 1, got %d", *m.Concurrency)
	}
	if m.NumRuns != nil && *m.NumRuns <= 0 {
		return invalid("/matrix/numRuns", "numRuns must be positive, got %d", *m.NumRuns)
	}

	if m.Kind == model.MatrixMapping {
		if err := validateMapping(m, declared); err != nil {
			return err
		}
	} else if err := validateSpaces(m, declared); err != nil {
		return err
	}

	switch m.Kind {
	case model.MatrixRandom:
		if m.NumRuns == nil {
			return invalid("/matrix/numRuns", "random search requires numRuns")
		}
	case model.MatrixBayes:
		if m.Metric == nil || m.Metric.Name == "" {
			return invalid("/matrix/metric", "bayes search requires a metric")
		}
		if m.NumInitialRuns == nil || *m.NumInitialRuns <= 0 {
			return invalid("/matrix/numInitialRuns", "bayes search requires a positive numInitialRuns")
		}
		if m.MaxIterations == nil || *m.MaxIterations <= 0 {
			return invalid("/matrix/maxIterations", "bayes search requires a positive maxIterations")
		}
	case model.MatrixHyperband:
		if m.Metric == nil || m.Metric.Name == "" {
			return invalid("/matrix/metric", "hyperband requires a metric")
		}
		if m.Resource == nil || m.Resource.Name == "" {
			return invalid("/matrix/resource", "hyperband requires a resource")
		}
		if m.MaxIterations == nil || *m.MaxIterations <= 0 {
			return invalid("/matrix/maxIterations", "hyperband requires a positive maxIterations")
		}
		if m.Eta == nil || *m.Eta <= 1 {
			return invalid("/matrix/eta", "hyperband requires eta greater than 1")
		}
	case model.MatrixIterative:
		if m.MaxIterations == nil || *m.MaxIterations <= 0 {
			return invalid("/matrix/maxIterations", "iterative search requires a positive maxIterations")
		}
	}
	if m.Metric != nil && m.Metric.Optimization != "" && m.Metric.Optimization != model.Maximize && m.Metric.Optimization != model.Minimize {
		return invalid("/matrix/metric/optimization", "unknown optimization %q", m.Metric.Optimization)
	}

	for i, rule := range m.EarlyStopping {
		if err := validateStopping(rule); err != nil {
			return engineerr.Under(engineerr.Pointer("matrix", "earlyStopping", engineerr.Index(i)), err)
		}
	}
	return nil
}

func validateMapping(m *model.Matrix, declared []string) error {
	if len(m.Values) == 0 {
		return invalid("/matrix/values", "mapping requires at least one row of values")
	}
	if m.Params != nil && m.Params.Len() > 0 {
		return invalid("/matrix/params", "mapping takes values, not params")
	}
	known := nameSet(declared)
	for i, row := range m.Values {
		for _, name := range sortedKeys(row) {
			if known != nil && !known[name] {
				return invalid(engineerr.Pointer("matrix", "values", engineerr.Index(i), name), "param %q is not a declared input", name)
			}
		}
	}
	return nil
}

func validateSpaces(m *model.Matrix, declared []string) error {
	if len(m.Values) > 0 {
		return invalid("/matrix/values", "%s search takes params, not values", m.Kind)
	}
	if m.Params == nil || m.Params.Len() == 0 {
		return invalid("/matrix/params", "%s search requires at least one param", m.Kind)
	}
	known := nameSet(declared)
	total := 1
	for pair := m.Params.Oldest(); pair != nil; pair = pair.Next() {
		path := engineerr.Pointer("matrix", "params", pair.Key)
		if known != nil && !known[pair.Key] {
			return invalid(path, "param %q is not a declared input", pair.Key)
		}
		sp, err := ParseSpace(pair.Value)
		if err != nil {
			return engineerr.Wrap(engineerr.InvalidMatrix, path, err, "invalid search space")
		}
		if m.Kind == model.MatrixGrid && !sp.Discrete() {
			return invalid(path, "grid search cannot enumerate a %s distribution", sp.Kind)
		}
		if m.Kind == model.MatrixGrid {
			if total, err = gridSize(total, sp.Len()); err != nil {
				return engineerr.Wrap(engineerr.InvalidMatrix, "/matrix/params", err, "grid search is too large")
			}
		}
	}
	return nil
}

// gridSize multiplies the running trial count by n, failing once it passes
// MaxValues.
func gridSize(total, n int) (int, error) {
	if n > 0 && total > MaxValues/n {
		return 0, fmt.Errorf("grid enumerates more than %d trials", MaxValues)
	}
	return total * n, nil
}

func validateStopping(rule *model.EarlyStopping) error {
	if rule == nil {
		return invalid("", "early stopping rule is null")
	}
	switch rule.Kind {
	case model.FailureEarlyStopping:
		if rule.Percent == nil || *rule.Percent <= 0 || *rule.Percent > 100 {
			return invalid("/percent", "failure early stopping requires a percent in (0, 100]")
		}
	case model.MetricEarlyStopping:
		if rule.Metric == "" {
			return invalid("/metric", "metric early stopping requires a metric")
		}
		if rule.Optimization != "" && rule.Optimization != model.Maximize && rule.Optimization != model.Minimize {
			return invalid("/optimization", "unknown optimization %q", rule.Optimization)
		}
		if rule.Policy == nil {
			if rule.Value == nil {
				return invalid("/value", "metric early stopping requires a value or a policy")
			}
			return nil
		}
		switch rule.Policy.Kind {
		case model.PolicyMedian:
		case model.PolicyTruncation, model.PolicyDiff:
			if percentOf(rule.Policy, rule) <= 0 {
				return invalid("/policy/percent", "%s policy requires a positive percent", rule.Policy.Kind)
			}
		default:
			return invalid("/policy/kind", "unknown stopping policy %q", rule.Policy.Kind)
		}
	default:
		return invalid("/kind", "unknown early stopping kind %q", rule.Kind)
	}
	return nil
}

func invalid(path, format string, args ...any) error {
	return engineerr.New(engineerr.InvalidMatrix, path, format, args...)
}

func nameSet(names []string) map[string]bool {
	if names == nil {
		return nil
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}
