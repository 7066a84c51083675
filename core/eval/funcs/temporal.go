package funcs

import (
	"fmt"
	"time"

	"synsensors/core/values"
)

// registerTemporalFuncs wires the date/duration name set (spec §4.7).
// These operate on core/values.Value directly rather than through cty,
// since cty has no duration or datetime kind (see DESIGN.md).
func registerTemporalFuncs() {
	register("now", func(args []values.Value) (values.Value, error) {
		return values.DateTime(time.Now()), nil
	})
	register("today", dayFunc(func(t time.Time) time.Time { return truncateToDay(t) }))
	register("yesterday", dayFunc(func(t time.Time) time.Time { return truncateToDay(t).AddDate(0, 0, -1) }))
	register("tomorrow", dayFunc(func(t time.Time) time.Time { return truncateToDay(t).AddDate(0, 0, 1) }))
	register("utc_today", func(args []values.Value) (values.Value, error) {
		return values.DateTime(truncateToDay(time.Now().UTC())), nil
	})
	register("utc_yesterday", func(args []values.Value) (values.Value, error) {
		return values.DateTime(truncateToDay(time.Now().UTC()).AddDate(0, 0, -1)), nil
	})

	register("date", parseTimeFunc("2006-01-02"))
	register("datetime", parseTimeFunc(time.RFC3339))

	register("minutes", durationFunc(time.Minute))
	register("hours", durationFunc(time.Hour))
	register("days", durationFunc(24*time.Hour))
	register("seconds", durationFunc(time.Second))
	register("weeks", durationFunc(7*24*time.Hour))

	register("timedelta", func(args []values.Value) (values.Value, error) {
		// Positional: days, hours, minutes, seconds — the grammar has no
		// keyword args, so unlike Python's timedelta(days=.., hours=..)
		// every component is supplied by position, defaulting to 0.
		var parts [4]float64
		for i := 0; i < len(args) && i < 4; i++ {
			n, ok := args[i].AsNumber()
			if !ok {
				return values.Value{}, fmt.Errorf("timedelta() arguments must be numeric")
			}
			parts[i] = n
		}
		d := time.Duration(parts[0]*24*float64(time.Hour)) +
			time.Duration(parts[1]*float64(time.Hour)) +
			time.Duration(parts[2]*float64(time.Minute)) +
			time.Duration(parts[3]*float64(time.Second))
		return values.Duration(d), nil
	})

	register("minutes_between", betweenFunc(time.Minute))
	register("hours_between", betweenFunc(time.Hour))
	register("days_between", betweenFunc(24*time.Hour))

	register("format_friendly", func(args []values.Value) (values.Value, error) {
		if len(args) != 1 {
			return values.Value{}, fmt.Errorf("format_friendly() takes exactly one argument")
		}
		switch args[0].Kind() {
		case values.KindDuration:
			d, _ := args[0].AsDuration()
			return values.String(formatFriendlyDuration(d)), nil
		case values.KindDateTime:
			t, _ := args[0].AsTime()
			return values.String(t.Format("Jan 2, 2006 3:04 PM")), nil
		default:
			return values.Value{}, fmt.Errorf("format_friendly() requires a duration or datetime argument")
		}
	})
}

func dayFunc(f func(time.Time) time.Time) Func {
	return func(args []values.Value) (values.Value, error) {
		return values.DateTime(f(time.Now())), nil
	}
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func parseTimeFunc(layout string) Func {
	return func(args []values.Value) (values.Value, error) {
		if len(args) != 1 {
			return values.Value{}, fmt.Errorf("expected exactly one string argument")
		}
		s, ok := args[0].AsString()
		if !ok {
			return values.Value{}, fmt.Errorf("expected a string argument")
		}
		t, err := time.Parse(layout, s)
		if err != nil {
			// Fall back to RFC3339 for date() called with a full timestamp.
			if t2, err2 := time.Parse(time.RFC3339, s); err2 == nil {
				return values.DateTime(t2), nil
			}
			return values.Value{}, fmt.Errorf("invalid datetime string %q: %w", s, err)
		}
		return values.DateTime(t), nil
	}
}

func durationFunc(unit time.Duration) Func {
	return func(args []values.Value) (values.Value, error) {
		if len(args) != 1 {
			return values.Value{}, fmt.Errorf("expected exactly one numeric argument")
		}
		n, ok := args[0].AsNumber()
		if !ok {
			return values.Value{}, fmt.Errorf("expected a numeric argument")
		}
		return values.Duration(time.Duration(n * float64(unit))), nil
	}
}

func betweenFunc(unit time.Duration) Func {
	return func(args []values.Value) (values.Value, error) {
		if len(args) != 2 {
			return values.Value{}, fmt.Errorf("expected exactly two datetime arguments")
		}
		a, ok1 := args[0].AsTime()
		b, ok2 := args[1].AsTime()
		if !ok1 || !ok2 {
			return values.Value{}, fmt.Errorf("expected two datetime arguments")
		}
		return values.Number(b.Sub(a).Seconds() / unit.Seconds()), nil
	}
}

func formatFriendlyDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%.1f hours", d.Hours())
	}
	return fmt.Sprintf("%.1f days", d.Hours()/24)
}
