package builtin

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/robfig/cron/v3"
	"github.com/sosodev/duration"
)

// deployWindow is one forbidden period. Time and Interval describe a start
// that repeats every Interval; Schedule is a cron expression alternative.
type deployWindow struct {
	Time     string `json:"time"`
	Duration string `json:"duration"`
	Interval string `json:"interval"`
	Schedule string `json:"schedule"`
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// restrictedDeployTimes fails when now falls inside any configured window.
func restrictedDeployTimes(env Env) engine.PolicyFunc {
	return func(_ context.Context, h engine.Handle, _ *engine.Snapshot, options interface{}) error {
		var windows []deployWindow
		if engine.AsMap(options) != nil {
			var w deployWindow
			if err := engine.DecodeOptions(options, &w); err != nil {
				return err
			}
			windows = append(windows, w)
		} else if err := engine.DecodeOptions(options, &windows); err != nil {
			return err
		}

		now := env.Now().In(env.Location)
		for _, w := range windows {
			inside, err := w.contains(now, env.Location)
			if err != nil {
				return err
			}
			if inside {
				h.Fail(fmt.Sprintf("Deploying on %s is not allowed", now.Format("2006-01-02")))
				return nil
			}
		}

		h.Approve()
		return nil
	}
}

func (w deployWindow) contains(now time.Time, loc *time.Location) (bool, error) {
	length, err := duration.Parse(w.Duration)
	if err != nil {
		return false, fmt.Errorf("invalid duration %q: %w", w.Duration, err)
	}

	if w.Schedule != "" {
		sched, err := cron.ParseStandard(w.Schedule)
		if err != nil {
			return false, fmt.Errorf("invalid schedule %q: %w", w.Schedule, err)
		}
		start := sched.Next(now.Add(-length.ToTimeDuration()))
		return !start.After(now), nil
	}

	start, err := parseTime(w.Time, loc)
	if err != nil {
		return false, err
	}

	var interval *duration.Duration
	if w.Interval != "" {
		interval, err = duration.Parse(w.Interval)
		if err != nil {
			return false, fmt.Errorf("invalid interval %q: %w", w.Interval, err)
		}
		if !addDuration(start, interval).After(start) {
			return false, fmt.Errorf("interval %q must be positive", w.Interval)
		}
	}

	if interval != nil && fixedLength(interval) {
		start = lastStartBefore(start, now, interval.ToTimeDuration())
	}

	for start.Before(now) {
		if addDuration(start, length).After(now) {
			return true, nil
		}
		if interval == nil {
			break
		}
		start = addDuration(start, interval)
	}
	return false, nil
}

func parseTime(value string, loc *time.Location) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", value)
}

// addDuration adds an ISO 8601 duration using calendar arithmetic for whole
// years, months, weeks and days.
func addDuration(t time.Time, d *duration.Duration) time.Time {
	if !whole(d.Years) || !whole(d.Months) || !whole(d.Weeks) || !whole(d.Days) {
		return t.Add(d.ToTimeDuration())
	}

	sign := 1
	if d.Negative {
		sign = -1
	}
	t = t.AddDate(sign*int(d.Years), sign*int(d.Months), sign*(int(d.Weeks)*7+int(d.Days)))
	clock := time.Duration(d.Hours*float64(time.Hour) + d.Minutes*float64(time.Minute) + d.Seconds*float64(time.Second))
	return t.Add(time.Duration(sign) * clock)
}

func whole(f float64) bool {
	return f == math.Trunc(f)
}

// fixedLength reports whether d has no calendar part, so every repetition
// lasts the same wall-clock time.
func fixedLength(d *duration.Duration) bool {
	return d.Years == 0 && d.Months == 0 && d.Weeks == 0 && d.Days == 0
}

// lastStartBefore jumps a window repeating every step to its last start
// before now. A window covering now always has its latest start covering it.
func lastStartBefore(start, now time.Time, step time.Duration) time.Time {
	for start.Before(now) {
		n := (now.Sub(start) - 1) / step
		if n == 0 {
			break
		}
		start = start.Add(n * step)
	}
	return start
}
