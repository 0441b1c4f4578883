package compiler

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/model"
	"github.com/vk/opforge/internal/types"
)

// cronParser accepts standard five-field expressions and descriptors such
// as @daily.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func normalizeSchedule(n *normalization) error {
	s := n.op.Schedule
	if s == nil {
		return nil
	}
	s.Kind = model.ScheduleKind(strings.ToLower(strings.TrimSpace(string(s.Kind))))

	if s.Kind != model.ScheduleCron && s.Cron != "" {
		return engineerr.New(engineerr.InvalidSchedule, "/schedule/cron", "only cron schedules take a cron expression")
	}
	if s.Kind != model.ScheduleInterval && s.Frequency != nil {
		return engineerr.New(engineerr.InvalidSchedule, "/schedule/frequency", "only interval schedules take a frequency")
	}

	switch s.Kind {
	case model.ScheduleCron:
		expr := strings.Join(strings.Fields(s.Cron), " ")
		if expr == "" {
			return engineerr.New(engineerr.InvalidCron, "/schedule/cron", "cron schedule needs a cron expression")
		}
		if _, err := cronParser.Parse(expr); err != nil {
			return engineerr.Wrap(engineerr.InvalidCron, "/schedule/cron", err, "invalid cron expression %q", s.Cron)
		}
		s.Cron = expr
	case model.ScheduleInterval:
		secs, err := frequencySeconds(s.Frequency)
		if err != nil {
			return engineerr.Wrap(engineerr.InvalidInterval, "/schedule/frequency", err, "invalid interval frequency")
		}
		s.Frequency = secs
	case model.ScheduleDatetime:
		if strings.TrimSpace(s.StartAt) == "" {
			return engineerr.New(engineerr.InvalidSchedule, "/schedule/startAt", "datetime schedule needs startAt")
		}
	case model.ScheduleRepeatable:
		if s.Limit != nil && *s.Limit <= 0 {
			return engineerr.New(engineerr.InvalidSchedule, "/schedule/limit", "limit must be positive, got %d", *s.Limit)
		}
	default:
		return engineerr.New(engineerr.InvalidSchedule, "/schedule/kind", "unknown schedule kind %q", s.Kind)
	}

	if s.MaxRuns != nil && *s.MaxRuns <= 0 {
		return engineerr.New(engineerr.InvalidSchedule, "/schedule/maxRuns", "maxRuns must be positive, got %d", *s.MaxRuns)
	}

	start, err := normalizeTimestamp(&s.StartAt, "/schedule/startAt")
	if err != nil {
		return err
	}
	end, err := normalizeTimestamp(&s.EndAt, "/schedule/endAt")
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return engineerr.New(engineerr.InvalidSchedule, "/schedule/endAt", "endAt %s must be after startAt %s", s.EndAt, s.StartAt)
	}
	return nil
}

// normalizeTimestamp rewrites *v as RFC 3339 in UTC. Empty values are left
// alone and yield the zero time.
func normalizeTimestamp(v *string, path string) (time.Time, error) {
	if strings.TrimSpace(*v) == "" {
		*v = ""
		return time.Time{}, nil
	}
	ts, err := types.ParseTime(*v)
	if err != nil {
		return time.Time{}, engineerr.Wrap(engineerr.InvalidSchedule, path, err, "invalid timestamp")
	}
	ts = ts.UTC()
	*v = ts.Format(time.RFC3339)
	return ts, nil
}

// frequencySeconds reads an interval as a positive number of seconds. Strings
// may hold an integer or a Go duration such as "1h30m".
func frequencySeconds(v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, fmt.Errorf("interval schedule needs a frequency")
	case int:
		return positive(int64(x))
	case int64:
		return positive(x)
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("frequency must be a whole number of seconds, got %v", x)
		}
		if math.Abs(x) >= math.MaxInt64 {
			return 0, fmt.Errorf("frequency %v is out of range", x)
		}
		return positive(int64(x))
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return positive(n)
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("frequency %q is neither seconds nor a duration", x)
		}
		if d%time.Second != 0 {
			return 0, fmt.Errorf("frequency %q is not a whole number of seconds", x)
		}
		return positive(int64(d / time.Second))
	}
	return 0, fmt.Errorf("frequency must be a number or a duration string, got %T", v)
}

func positive(n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("frequency must be positive, got %d", n)
	}
	return n, nil
}
