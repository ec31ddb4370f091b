package utils

import (
	"testing"
	"time"
)

func TestNowCST(t *testing.T) {
	now := NowCST()
	if now.Location().String() != "Asia/Shanghai" && now.Location().String() != "CST" {
		t.Errorf("NowCST() location = %s, want Asia/Shanghai or CST", now.Location().String())
	}
}

func TestSessionTimes(t *testing.T) {
	date := time.Date(2026, 2, 19, 12, 0, 0, 0, CST)

	mo := MorningOpenTime(date)
	if mo.Hour() != 9 || mo.Minute() != 30 {
		t.Errorf("MorningOpenTime = %v, want 09:30", mo)
	}

	mc := MorningCloseTime(date)
	if mc.Hour() != 11 || mc.Minute() != 30 {
		t.Errorf("MorningCloseTime = %v, want 11:30", mc)
	}

	ao := AfternoonOpenTime(date)
	if ao.Hour() != 13 || ao.Minute() != 0 {
		t.Errorf("AfternoonOpenTime = %v, want 13:00", ao)
	}

	ac := AfternoonCloseTime(date)
	if ac.Hour() != 15 || ac.Minute() != 0 {
		t.Errorf("AfternoonCloseTime = %v, want 15:00", ac)
	}
}

func TestIsMarketOpenAt(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"wednesday morning session", time.Date(2026, 2, 18, 10, 0, 0, 0, CST), true},
		{"morning open boundary", time.Date(2026, 2, 18, 9, 30, 0, 0, CST), true},
		{"morning close boundary", time.Date(2026, 2, 18, 11, 30, 0, 0, CST), true},
		{"lunch break", time.Date(2026, 2, 18, 12, 15, 0, 0, CST), false},
		{"afternoon open boundary", time.Date(2026, 2, 18, 13, 0, 0, 0, CST), true},
		{"afternoon session", time.Date(2026, 2, 18, 14, 30, 0, 0, CST), true},
		{"afternoon close boundary", time.Date(2026, 2, 18, 15, 0, 0, 0, CST), true},
		{"before open", time.Date(2026, 2, 18, 9, 0, 0, 0, CST), false},
		{"after close", time.Date(2026, 2, 18, 15, 1, 0, 0, CST), false},
		{"saturday", time.Date(2026, 2, 21, 10, 0, 0, 0, CST), false},
		{"sunday", time.Date(2026, 2, 22, 10, 0, 0, 0, CST), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMarketOpenAt(tt.at); got != tt.want {
				t.Errorf("IsMarketOpenAt(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestInTradingSessionIgnoresWeekday(t *testing.T) {
	// Saturday at 10:00 falls inside the session clock even though the
	// exchange is closed; the weekday gate lives in IsTradingDay.
	saturday := time.Date(2026, 2, 21, 10, 0, 0, 0, CST)
	if !InTradingSession(saturday) {
		t.Error("expected Saturday 10:00 to be inside the session clock")
	}
	if IsMarketOpenAt(saturday) {
		t.Error("expected market to be closed on Saturday")
	}
}

func TestTradingHolidays(t *testing.T) {
	defer SetTradingHolidays(nil)

	day := time.Date(2026, 2, 18, 10, 0, 0, 0, CST)
	if IsTradingHoliday(day) {
		t.Error("expected no holidays with the default empty calendar")
	}

	SetTradingHolidays(map[string]string{"2026-02-18": "Spring Festival"})
	if !IsTradingHoliday(day) {
		t.Error("expected Feb 18 to be a holiday after SetTradingHolidays")
	}
	if IsTradingDay(day) {
		t.Error("expected holiday to not be a trading day")
	}
	if IsMarketOpenAt(day) {
		t.Error("expected market to be closed on a holiday")
	}
}

func TestIsTradingDay(t *testing.T) {
	// Wednesday — trading day
	if !IsTradingDay(time.Date(2026, 2, 18, 0, 0, 0, 0, CST)) {
		t.Error("expected Wednesday to be a trading day")
	}

	// Saturday — not a trading day
	if IsTradingDay(time.Date(2026, 2, 21, 0, 0, 0, 0, CST)) {
		t.Error("expected Saturday to not be a trading day")
	}
}

func TestNextPrevTradingDay(t *testing.T) {
	// Friday → next trading day should be Monday
	friday := time.Date(2026, 2, 20, 0, 0, 0, 0, CST)
	next := NextTradingDay(friday)
	if next.Weekday() != time.Monday || next.Day() != 23 {
		t.Errorf("NextTradingDay(Friday Feb 20) = %v, want Monday Feb 23", next)
	}

	// Monday → prev trading day should be Friday
	monday := time.Date(2026, 2, 23, 0, 0, 0, 0, CST)
	prev := PrevTradingDay(monday)
	if prev.Weekday() != time.Friday || prev.Day() != 20 {
		t.Errorf("PrevTradingDay(Monday Feb 23) = %v, want Friday Feb 20", prev)
	}
}

func TestTradingDaysBetween(t *testing.T) {
	// Mon Feb 16 through Mon Feb 23 (exclusive) spans one full week: 5 trading days.
	start := time.Date(2026, 2, 16, 0, 0, 0, 0, CST)
	end := time.Date(2026, 2, 23, 0, 0, 0, 0, CST)
	if got := TradingDaysBetween(start, end); got != 5 {
		t.Errorf("TradingDaysBetween = %d, want 5", got)
	}
}

func TestParseDateCST(t *testing.T) {
	d, err := ParseDateCST("2026-02-19")
	if err != nil {
		t.Fatalf("ParseDateCST failed: %v", err)
	}
	if d.Year() != 2026 || d.Month() != 2 || d.Day() != 19 {
		t.Errorf("ParseDateCST = %v, want 2026-02-19", d)
	}
}

func TestFormatDateCST(t *testing.T) {
	d := time.Date(2026, 2, 19, 10, 30, 0, 0, CST)
	if got := FormatDateCST(d); got != "2026-02-19" {
		t.Errorf("FormatDateCST = %s, want 2026-02-19", got)
	}
}

func TestSameTradingDate(t *testing.T) {
	a := time.Date(2026, 2, 19, 9, 31, 0, 0, CST)
	b := time.Date(2026, 2, 19, 14, 59, 0, 0, CST)
	if !SameTradingDate(a, b) {
		t.Error("expected same CST calendar day")
	}
	// UTC instant on the evening of the 18th is already the 19th in CST.
	utc := time.Date(2026, 2, 18, 22, 0, 0, 0, time.UTC)
	if !SameTradingDate(utc, a) {
		t.Error("expected UTC 2026-02-18T22:00 to be 2026-02-19 in CST")
	}
}

func TestMarketStatusAt(t *testing.T) {
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, 2, 18, 8, 0, 0, 0, CST), "PRE-MARKET"},
		{time.Date(2026, 2, 18, 10, 0, 0, 0, CST), "OPEN (Morning Session)"},
		{time.Date(2026, 2, 18, 12, 0, 0, 0, CST), "LUNCH BREAK"},
		{time.Date(2026, 2, 18, 14, 0, 0, 0, CST), "OPEN (Afternoon Session)"},
		{time.Date(2026, 2, 18, 16, 0, 0, 0, CST), "CLOSED"},
		{time.Date(2026, 2, 21, 10, 0, 0, 0, CST), "CLOSED (Weekend)"},
	}
	for _, tt := range tests {
		if got := MarketStatusAt(tt.at); got != tt.want {
			t.Errorf("MarketStatusAt(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}
