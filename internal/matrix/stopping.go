package matrix

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/vk/opforge/internal/model"
)

// Stopper evaluates early stopping rules over the metrics reported in
// arrival order. It is safe for concurrent use.
type Stopper struct {
	rules []*model.EarlyStopping

	mu     sync.Mutex
	series map[string][]float64
	total  int
	failed int
	reason string
}

// NewStopper returns a stopper for rules.
func NewStopper(rules []*model.EarlyStopping) *Stopper {
	return &Stopper{rules: rules, series: map[string][]float64{}}
}

// Observe records m and reports whether a rule has fired.
func (s *Stopper) Observe(m Metric) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason != "" {
		return true
	}
	s.total++
	if m.Failed {
		s.failed++
	} else if m.Name != "" {
		s.series[m.Name] = append(s.series[m.Name], m.Value)
	}
	for _, rule := range s.rules {
		if reason := s.fires(rule, m); reason != "" {
			s.reason = reason
			return true
		}
	}
	return false
}

// Stopped reports whether a rule has fired.
func (s *Stopper) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason != ""
}

// Reason describes the rule that fired, or "".
func (s *Stopper) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Stopper) fires(rule *model.EarlyStopping, m Metric) string {
	switch rule.Kind {
	case model.FailureEarlyStopping:
		if rule.Percent != nil && s.total > 0 && s.failed*100 >= *rule.Percent*s.total {
			return fmt.Sprintf("%d of %d trials failed", s.failed, s.total)
		}
	case model.MetricEarlyStopping:
		if m.Failed || m.Name != rule.Metric {
			return ""
		}
		series := s.series[rule.Metric]
		if rule.Policy != nil {
			return policyFires(rule, series)
		}
		if rule.Value != nil && better(rule.Optimization, m.Value, *rule.Value, true) {
			return fmt.Sprintf("%s reached %g", rule.Metric, m.Value)
		}
	}
	return ""
}

func policyFires(rule *model.EarlyStopping, series []float64) string {
	p := rule.Policy
	n := len(series)
	if p.MinSamples != nil && n < *p.MinSamples {
		return ""
	}
	if p.EvaluationInterval != nil && *p.EvaluationInterval > 1 && n%*p.EvaluationInterval != 0 {
		return ""
	}
	if n < 2 {
		return ""
	}
	latest, previous := series[n-1], series[:n-1]
	opt := rule.Optimization

	switch p.Kind {
	case model.PolicyMedian:
		med := median(previous)
		if !better(opt, latest, med, true) {
			return fmt.Sprintf("%s %g is worse than the median %g", rule.Metric, latest, med)
		}
	case model.PolicyTruncation:
		percent := percentOf(p, rule)
		worse := 0
		for _, v := range previous {
			if better(opt, v, latest, false) {
				worse++
			}
		}
		if float64(worse)*100 >= float64(100-percent)*float64(len(previous)) {
			return fmt.Sprintf("%s %g is in the bottom %d%%", rule.Metric, latest, percent)
		}
	case model.PolicyDiff:
		percent := percentOf(p, rule)
		best := previous[0]
		for _, v := range previous[1:] {
			if better(opt, v, best, false) {
				best = v
			}
		}
		if best == 0 {
			return ""
		}
		if diff := math.Abs(latest-best) / math.Abs(best) * 100; diff > float64(percent) && !better(opt, latest, best, true) {
			return fmt.Sprintf("%s %g is %.1f%% off the best %g", rule.Metric, latest, diff, best)
		}
	}
	return ""
}

func percentOf(p *model.StoppingPolicy, rule *model.EarlyStopping) int {
	if p.Percent != nil {
		return *p.Percent
	}
	if rule.Percent != nil {
		return *rule.Percent
	}
	return 0
}

// better reports whether a is better than b for opt; ties count when
// orEqual is set.
func better(opt model.Optimization, a, b float64, orEqual bool) bool {
	if orEqual && a == b {
		return true
	}
	if opt == model.Minimize {
		return a < b
	}
	return a > b
}

func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
