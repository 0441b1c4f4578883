package matrix

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/vk/opforge/internal/model"
	"github.com/vk/opforge/internal/types"
)

// MaxValues caps the number of values a discrete space enumerates and the
// number of trials a grid search produces.
const MaxValues = 1 << 20

// bounds is the numeric definition of a non-choice space.
type bounds struct {
	Start *float64 `mapstructure:"start"`
	Stop  *float64 `mapstructure:"stop"`
	Step  *float64 `mapstructure:"step"`
	Num   *int     `mapstructure:"num"`
	Base  *float64 `mapstructure:"base"`
	Low   *float64 `mapstructure:"low"`
	High  *float64 `mapstructure:"high"`
	Q     *float64 `mapstructure:"q"`
	Loc   *float64 `mapstructure:"loc"`
	Scale *float64 `mapstructure:"scale"`
}

// positional names the fields of the "a:b:c" and list forms per kind.
var positional = map[model.SpaceKind][]string{
	model.SpaceRange:       {"start", "stop", "step"},
	model.SpaceLinspace:    {"start", "stop", "num"},
	model.SpaceLogspace:    {"start", "stop", "num", "base"},
	model.SpaceGeomspace:   {"start", "stop", "num"},
	model.SpaceUniform:     {"low", "high"},
	model.SpaceQUniform:    {"low", "high", "q"},
	model.SpaceLogUniform:  {"low", "high"},
	model.SpaceQLogUniform: {"low", "high", "q"},
	model.SpaceNormal:      {"loc", "scale"},
	model.SpaceQNormal:     {"loc", "scale", "q"},
	model.SpaceLogNormal:   {"loc", "scale"},
	model.SpaceQLogNormal:  {"loc", "scale", "q"},
}

// Space is a parsed search space.
type Space struct {
	Kind model.SpaceKind
	// Choices are the candidate values of choice and pchoice spaces.
	Choices []any
	// Weights are the pchoice probabilities, parallel to Choices.
	Weights []float64

	b    bounds
	ints bool
}

// ParseSpace reads the list, map or string form of sp.
func ParseSpace(sp *model.Space) (*Space, error) {
	if sp == nil {
		return nil, fmt.Errorf("space is null")
	}
	s := &Space{Kind: model.SpaceKind(strings.ToLower(string(sp.Kind)))}
	switch s.Kind {
	case model.SpaceChoice:
		items, ok := sp.Value.([]any)
		if !ok || len(items) == 0 {
			return nil, fmt.Errorf("choice takes a non-empty list")
		}
		s.Choices = types.DeepCopy(items).([]any)
		return s, nil
	case model.SpacePChoice:
		return s, s.parsePChoice(sp.Value)
	}
	names, ok := positional[s.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown space kind %q", sp.Kind)
	}
	raw, err := fieldsOf(sp.Value, names)
	if err != nil {
		return nil, err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &s.b,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, err
	}
	if s.Kind == model.SpaceRange {
		s.ints = allIntegral(raw, "start", "stop", "step")
	}
	return s, s.check()
}

// fieldsOf turns the list and "a:b:c" forms into the map form.
func fieldsOf(v any, names []string) (map[string]any, error) {
	var items []any
	switch x := v.(type) {
	case map[string]any:
		return x, nil
	case []any:
		items = x
	case string:
		for _, part := range strings.Split(x, ":") {
			n, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q in %q", part, x)
			}
			items = append(items, types.Normalize(n))
		}
	default:
		return nil, fmt.Errorf("expected a map, a list or a string, got %T", v)
	}
	if len(items) > len(names) {
		return nil, fmt.Errorf("expected at most %d values (%s), got %d", len(names), strings.Join(names, ":"), len(items))
	}
	out := make(map[string]any, len(items))
	for i, item := range items {
		out[names[i]] = item
	}
	return out, nil
}

func allIntegral(raw map[string]any, keys ...string) bool {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		if _, isInt := types.Normalize(v).(int64); !isInt {
			return false
		}
	}
	return true
}

func (s *Space) parsePChoice(v any) error {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return fmt.Errorf("pchoice takes a non-empty list of [value, probability] pairs")
	}
	total := 0.0
	for i, item := range items {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return fmt.Errorf("pchoice item %d must be a [value, probability] pair", i)
		}
		p, ok := toFloat(pair[1])
		if !ok || p < 0 || p > 1 {
			return fmt.Errorf("pchoice item %d has an invalid probability %v", i, pair[1])
		}
		s.Choices = append(s.Choices, types.DeepCopy(pair[0]))
		s.Weights = append(s.Weights, p)
		total += p
	}
	if math.Abs(total-1) > 1e-6 {
		return fmt.Errorf("pchoice probabilities must sum to 1, got %g", total)
	}
	return nil
}

func (s *Space) check() error {
	b := s.b
	need := func(names ...string) error {
		for _, n := range names {
			if !b.has(n) {
				return fmt.Errorf("%s requires %q", s.Kind, n)
			}
		}
		return nil
	}
	switch s.Kind {
	case model.SpaceRange:
		if err := need("start", "stop", "step"); err != nil {
			return err
		}
		if *b.Step == 0 {
			return fmt.Errorf("range step must not be zero")
		}
		n := (*b.Stop - *b.Start) / (*b.Step)
		if n <= 0 {
			return fmt.Errorf("range [%g, %g) with step %g is empty", *b.Start, *b.Stop, *b.Step)
		}
		if math.IsNaN(n) || math.Ceil(n) > MaxValues {
			return fmt.Errorf("range [%g, %g) with step %g enumerates more than %d values", *b.Start, *b.Stop, *b.Step, MaxValues)
		}
	case model.SpaceLinspace, model.SpaceLogspace, model.SpaceGeomspace:
		if err := need("start", "stop", "num"); err != nil {
			return err
		}
		if *b.Num < 1 {
			return fmt.Errorf("%s num must be positive", s.Kind)
		}
		if *b.Num > MaxValues {
			return fmt.Errorf("%s num must be at most %d, got %d", s.Kind, MaxValues, *b.Num)
		}
		if s.Kind == model.SpaceGeomspace && (*b.Start == 0 || *b.Stop == 0 || (*b.Start < 0) != (*b.Stop < 0)) {
			return fmt.Errorf("geomspace bounds must be non-zero and of the same sign")
		}
	case model.SpaceUniform, model.SpaceQUniform, model.SpaceLogUniform, model.SpaceQLogUniform:
		if err := need("low", "high"); err != nil {
			return err
		}
		if *b.Low >= *b.High {
			return fmt.Errorf("%s low must be below high", s.Kind)
		}
	case model.SpaceNormal, model.SpaceQNormal, model.SpaceLogNormal, model.SpaceQLogNormal:
		if err := need("loc", "scale"); err != nil {
			return err
		}
		if *b.Scale <= 0 {
			return fmt.Errorf("%s scale must be positive", s.Kind)
		}
	}
	switch s.Kind {
	case model.SpaceQUniform, model.SpaceQLogUniform, model.SpaceQNormal, model.SpaceQLogNormal:
		if !b.has("q") || *b.Q <= 0 {
			return fmt.Errorf("%s requires a positive q", s.Kind)
		}
	}
	return nil
}

func (b bounds) has(name string) bool {
	switch name {
	case "start":
		return b.Start != nil
	case "stop":
		return b.Stop != nil
	case "step":
		return b.Step != nil
	case "num":
		return b.Num != nil
	case "base":
		return b.Base != nil
	case "low":
		return b.Low != nil
	case "high":
		return b.High != nil
	case "q":
		return b.Q != nil
	case "loc":
		return b.Loc != nil
	case "scale":
		return b.Scale != nil
	}
	return false
}

// Discrete reports whether the space enumerates a finite set of values.
func (s *Space) Discrete() bool { return s.Kind.Discrete() }

// Len is the number of values a discrete space enumerates, 0 for a
// continuous one.
func (s *Space) Len() int {
	b := s.b
	switch s.Kind {
	case model.SpaceChoice, model.SpacePChoice:
		return len(s.Choices)
	case model.SpaceRange:
		return int(math.Ceil((*b.Stop - *b.Start) / *b.Step))
	case model.SpaceLinspace, model.SpaceLogspace, model.SpaceGeomspace:
		return *b.Num
	}
	return 0
}

// Values enumerates a discrete space in order.
func (s *Space) Values() ([]any, error) {
	b := s.b
	switch s.Kind {
	case model.SpaceChoice, model.SpacePChoice:
		return types.DeepCopy(s.Choices).([]any), nil
	case model.SpaceRange:
		out := make([]any, s.Len())
		for i := range out {
			v := *b.Start + float64(i)*(*b.Step)
			if s.ints {
				out[i] = int64(math.Round(v))
			} else {
				out[i] = v
			}
		}
		return out, nil
	case model.SpaceLinspace:
		return floats(linspace(*b.Start, *b.Stop, *b.Num)), nil
	case model.SpaceLogspace:
		base := 10.0
		if b.Base != nil {
			base = *b.Base
		}
		pts := linspace(*b.Start, *b.Stop, *b.Num)
		for i, p := range pts {
			pts[i] = math.Pow(base, p)
		}
		return floats(pts), nil
	case model.SpaceGeomspace:
		pts := linspace(0, 1, *b.Num)
		ratio := *b.Stop / *b.Start
		for i, p := range pts {
			pts[i] = *b.Start * math.Pow(ratio, p)
		}
		return floats(pts), nil
	}
	return nil, fmt.Errorf("%s is a continuous distribution and cannot be enumerated", s.Kind)
}

// Sample draws one value from the space.
func (s *Space) Sample(r *rand.Rand) any {
	b := s.b
	switch s.Kind {
	case model.SpaceChoice:
		return types.DeepCopy(s.Choices[r.IntN(len(s.Choices))])
	case model.SpacePChoice:
		x := r.Float64()
		acc := 0.0
		for i, w := range s.Weights {
			acc += w
			if x < acc {
				return types.DeepCopy(s.Choices[i])
			}
		}
		return types.DeepCopy(s.Choices[len(s.Choices)-1])
	case model.SpaceUniform:
		return uniform(r, *b.Low, *b.High)
	case model.SpaceQUniform:
		return quantize(uniform(r, *b.Low, *b.High), *b.Q)
	case model.SpaceLogUniform:
		return math.Exp(uniform(r, *b.Low, *b.High))
	case model.SpaceQLogUniform:
		return quantize(math.Exp(uniform(r, *b.Low, *b.High)), *b.Q)
	case model.SpaceNormal:
		return *b.Loc + *b.Scale*r.NormFloat64()
	case model.SpaceQNormal:
		return quantize(*b.Loc+*b.Scale*r.NormFloat64(), *b.Q)
	case model.SpaceLogNormal:
		return math.Exp(*b.Loc + *b.Scale*r.NormFloat64())
	case model.SpaceQLogNormal:
		return quantize(math.Exp(*b.Loc+*b.Scale*r.NormFloat64()), *b.Q)
	}
	values, _ := s.Values()
	return values[r.IntN(len(values))]
}

func linspace(start, stop float64, num int) []float64 {
	out := make([]float64, num)
	if num == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(num-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[num-1] = stop
	return out
}

func floats(xs []float64) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func uniform(r *rand.Rand, low, high float64) float64 {
	return low + r.Float64()*(high-low)
}

func quantize(v, q float64) float64 {
	return math.Round(v/q) * q
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
