package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quantfleet/ashare/pkg/utils"
)

// ErrInvalidCron wraps every cron expression parse failure.
var ErrInvalidCron = errors.New("invalid cron expression")

// cronParser accepts the standard 5-field form plus @descriptors,
// matching what the cron engine itself accepts.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCron rejects expressions the engine could not schedule.
func ValidateCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return nil
}

// NextRunTime returns the first fire time strictly after t, evaluated
// in CST.
func NextRunTime(expr string, t time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return sched.Next(utils.ToCST(t)), nil
}

// NextRunTimes previews the next n fire times after t, CST. Used by the
// cron validation endpoint so operators can sanity-check an expression
// before saving it.
func NextRunTimes(expr string, t time.Time, n int) ([]time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	out := make([]time.Time, 0, n)
	next := utils.ToCST(t)
	for i := 0; i < n; i++ {
		next = sched.Next(next)
		if next.IsZero() {
			break
		}
		out = append(out, next)
	}
	return out, nil
}

// DescribeCron renders a short human-readable summary of an expression,
// one clause per non-wildcard field. @descriptors pass through by name.
func DescribeCron(expr string) (string, error) {
	if err := ValidateCron(expr); err != nil {
		return "", err
	}
	if strings.HasPrefix(expr, "@") {
		return strings.TrimPrefix(expr, "@"), nil
	}
	f := strings.Fields(expr)
	if len(f) != 5 {
		return expr, nil
	}

	parts := []string{describeTime(f[0], f[1])}
	if f[2] != "*" {
		parts = append(parts, "on day "+f[2]+" of the month")
	}
	if f[3] != "*" {
		parts = append(parts, "in month "+f[3])
	}
	if f[4] != "*" {
		parts = append(parts, "on "+describeWeekdays(f[4]))
	}
	return strings.Join(parts, ", "), nil
}

// describeTime covers the common minute and hour shapes; anything
// fancier falls back to naming the raw fields.
func describeTime(minute, hour string) string {
	switch {
	case minute == "*" && hour == "*":
		return "every minute"
	case strings.HasPrefix(minute, "*/") && hour == "*":
		return "every " + strings.TrimPrefix(minute, "*/") + " minutes"
	case hour == "*":
		return "at minute " + minute + " of every hour"
	case strings.HasPrefix(hour, "*/"):
		return "at minute " + minute + " every " + strings.TrimPrefix(hour, "*/") + " hours"
	}
	if times := clockTimes(minute, hour); times != "" {
		return "at " + times
	}
	return "at minute " + minute + " past hour " + hour
}

// clockTimes renders "09:30" style times for a plain minute and an hour
// list. Empty when either field is not plain numbers.
func clockTimes(minute, hour string) string {
	m, err := strconv.Atoi(minute)
	if err != nil || m < 0 {
		return ""
	}
	hours := strings.Split(hour, ",")
	out := make([]string, 0, len(hours))
	for _, h := range hours {
		n, err := strconv.Atoi(h)
		if err != nil || n < 0 {
			return ""
		}
		out = append(out, fmt.Sprintf("%02d:%02d", n, m))
	}
	return strings.Join(out, " and ")
}

var weekdayNames = map[string]string{
	"0": "Sunday", "1": "Monday", "2": "Tuesday", "3": "Wednesday",
	"4": "Thursday", "5": "Friday", "6": "Saturday", "7": "Sunday",
}

// describeWeekdays names day-of-week ranges and lists; tokens outside
// the 0-7 numerals fall back to the raw field.
func describeWeekdays(dow string) string {
	if span := strings.SplitN(dow, "-", 2); len(span) == 2 {
		a, okA := weekdayNames[span[0]]
		b, okB := weekdayNames[span[1]]
		if okA && okB {
			return a + " through " + b
		}
		return dow
	}
	items := strings.Split(dow, ",")
	named := make([]string, 0, len(items))
	for _, it := range items {
		name, ok := weekdayNames[it]
		if !ok {
			return dow
		}
		named = append(named, name)
	}
	return strings.Join(named, ", ")
}
