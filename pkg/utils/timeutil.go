package utils

import (
	"time"
)

// CST is the China Standard Time location (UTC+8).
var CST *time.Location

func init() {
	var err error
	CST, err = time.LoadLocation("Asia/Shanghai")
	if err != nil {
		// Fallback: create fixed zone if tz database is not available
		CST = time.FixedZone("CST", 8*60*60)
	}
}

// NowCST returns the current time in CST.
func NowCST() time.Time {
	return time.Now().In(CST)
}

// ToCST converts a time.Time to CST.
func ToCST(t time.Time) time.Time {
	return t.In(CST)
}

// MorningOpenTime returns the morning session open (9:30 AM CST) for a given date.
func MorningOpenTime(date time.Time) time.Time {
	d := date.In(CST)
	return time.Date(d.Year(), d.Month(), d.Day(), 9, 30, 0, 0, CST)
}

// MorningCloseTime returns the morning session close (11:30 AM CST) for a given date.
func MorningCloseTime(date time.Time) time.Time {
	d := date.In(CST)
	return time.Date(d.Year(), d.Month(), d.Day(), 11, 30, 0, 0, CST)
}

// AfternoonOpenTime returns the afternoon session open (1:00 PM CST) for a given date.
func AfternoonOpenTime(date time.Time) time.Time {
	d := date.In(CST)
	return time.Date(d.Year(), d.Month(), d.Day(), 13, 0, 0, 0, CST)
}

// AfternoonCloseTime returns the afternoon session close (3:00 PM CST) for a given date.
func AfternoonCloseTime(date time.Time) time.Time {
	d := date.In(CST)
	return time.Date(d.Year(), d.Month(), d.Day(), 15, 0, 0, 0, CST)
}

// IsMarketOpen checks if the A-share market is currently open.
func IsMarketOpen() bool {
	return IsMarketOpenAt(NowCST())
}

// IsMarketOpenAt checks if the A-share market would be open at the given time.
// Both session boundaries are inclusive.
func IsMarketOpenAt(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	return InTradingSession(t)
}

// InTradingSession checks if the given time falls inside either continuous
// trading session, ignoring the day-of-week. Boundaries are inclusive.
func InTradingSession(t time.Time) bool {
	t = t.In(CST)

	mo, mc := MorningOpenTime(t), MorningCloseTime(t)
	if !t.Before(mo) && !t.After(mc) {
		return true
	}

	ao, ac := AfternoonOpenTime(t), AfternoonCloseTime(t)
	return !t.Before(ao) && !t.After(ac)
}

// NextTradingDay returns the next trading day after the given date.
func NextTradingDay(from time.Time) time.Time {
	next := from.In(CST).AddDate(0, 0, 1)
	for !IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// PrevTradingDay returns the previous trading day before the given date.
func PrevTradingDay(from time.Time) time.Time {
	prev := from.In(CST).AddDate(0, 0, -1)
	for !IsTradingDay(prev) {
		prev = prev.AddDate(0, 0, -1)
	}
	return prev
}

// IsTradingDay checks if the given date is a trading day (not weekend, not holiday).
func IsTradingDay(t time.Time) bool {
	t = t.In(CST)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !IsTradingHoliday(t)
}

// TradingDaysBetween returns the number of trading days between two dates (exclusive of end).
func TradingDaysBetween(start, end time.Time) int {
	start = start.In(CST)
	end = end.In(CST)
	count := 0
	current := start
	for current.Before(end) {
		if IsTradingDay(current) {
			count++
		}
		current = current.AddDate(0, 0, 1)
	}
	return count
}

// IsTradingHoliday checks if the given date is an exchange holiday.
func IsTradingHoliday(t time.Time) bool {
	t = t.In(CST)
	dateStr := t.Format("2006-01-02")

	_, isHoliday := exchangeHolidays[dateStr]
	return isHoliday
}

// Exchange holidays beyond weekends. The SSE/SZSE calendar shifts with the
// lunar year, so entries must be refreshed from the annual exchange circular.
// Left empty by default: weekday-only gating is the baseline behavior.
var exchangeHolidays = map[string]string{}

// SetTradingHolidays replaces the exchange holiday calendar.
func SetTradingHolidays(holidays map[string]string) {
	if holidays == nil {
		holidays = map[string]string{}
	}
	exchangeHolidays = holidays
}

// GetTradingHolidays returns the configured exchange holidays.
func GetTradingHolidays() map[string]string {
	return exchangeHolidays
}

// ParseDateCST parses a date string in "2006-01-02" format and returns it in CST.
func ParseDateCST(dateStr string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", dateStr, CST)
}

// FormatDateCST formats a time.Time to "2006-01-02" in CST.
func FormatDateCST(t time.Time) string {
	return t.In(CST).Format("2006-01-02")
}

// FormatDateTimeCST formats a time.Time to "2006-01-02 15:04:05 CST".
func FormatDateTimeCST(t time.Time) string {
	return t.In(CST).Format("2006-01-02 15:04:05 CST")
}

// SameTradingDate reports whether two instants fall on the same CST calendar day.
func SameTradingDate(a, b time.Time) bool {
	a, b = a.In(CST), b.In(CST)
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// MarketStatus returns the current market status string.
func MarketStatus() string {
	return MarketStatusAt(NowCST())
}

// MarketStatusAt returns the market status string for the given time.
func MarketStatusAt(now time.Time) string {
	now = now.In(CST)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return "CLOSED (Weekend)"
	}

	if IsTradingHoliday(now) {
		holiday := exchangeHolidays[now.Format("2006-01-02")]
		return "CLOSED (" + holiday + ")"
	}

	switch {
	case now.Before(MorningOpenTime(now)):
		return "PRE-MARKET"
	case !now.After(MorningCloseTime(now)):
		return "OPEN (Morning Session)"
	case now.Before(AfternoonOpenTime(now)):
		return "LUNCH BREAK"
	case !now.After(AfternoonCloseTime(now)):
		return "OPEN (Afternoon Session)"
	default:
		return "CLOSED"
	}
}
