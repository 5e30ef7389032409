// Package calendar provides business-day arithmetic and dividend-date
// derivation for the Tokyo market. All functions are pure and operate on
// midnight-normalized UTC dates.
package calendar

import "time"

// fixedDateHoliday represents a national holiday on a fixed month/day.
type fixedDateHoliday struct {
	Month time.Month
	Day   int
}

// ruleBasedHoliday represents a "Happy Monday" style holiday: the Nth
// occurrence of a weekday in a month.
type ruleBasedHoliday struct {
	Month   time.Month
	Weekday time.Weekday
	N       int
}

// Japanese national holidays. Fixed dates first, then the Happy Monday
// rules. Equinox days are computed separately (see equinoxDay).
var fixedDateHolidays = []fixedDateHoliday{
	{time.February, 11},  // National Foundation Day
	{time.February, 23},  // Emperor's Birthday
	{time.April, 29},     // Showa Day
	{time.May, 3},        // Constitution Memorial Day
	{time.May, 4},        // Greenery Day
	{time.May, 5},        // Children's Day
	{time.August, 11},    // Mountain Day
	{time.November, 3},   // Culture Day
	{time.November, 23},  // Labour Thanksgiving Day
}

var ruleBasedHolidays = []ruleBasedHoliday{
	{time.January, time.Monday, 2},   // Coming of Age Day
	{time.July, time.Monday, 3},      // Marine Day
	{time.September, time.Monday, 3}, // Respect for the Aged Day
	{time.October, time.Monday, 2},   // Sports Day
}

// Date normalizes to midnight UTC. All calendar functions expect and return
// dates in this form.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Normalize truncates a timestamp to its midnight-UTC date.
func Normalize(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// IsBusinessDay reports whether the Tokyo exchange trades on the given date.
// False for weekends, national holidays, and the year-end blackout
// (Dec 31 and Jan 1-3).
func IsBusinessDay(date time.Time) bool {
	if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
		return false
	}

	// Year-end blackout
	if date.Month() == time.December && date.Day() == 31 {
		return false
	}
	if date.Month() == time.January && date.Day() <= 3 {
		return false
	}

	return !isHoliday(date)
}

// AddBusinessDays walks day by day in the sign of n, skipping non-business
// days, until |n| business days have been crossed. n == 0 returns date
// unchanged.
func AddBusinessDays(date time.Time, n int) time.Time {
	if n == 0 {
		return date
	}

	step := 1
	if n < 0 {
		step = -1
		n = -n
	}

	current := date
	for n > 0 {
		current = current.AddDate(0, 0, step)
		if IsBusinessDay(current) {
			n--
		}
	}
	return current
}

// BusinessDaysBetween counts business days strictly between a and b.
// The sign flips when a is after b.
func BusinessDaysBetween(a, b time.Time) int {
	sign := 1
	if a.After(b) {
		a, b = b, a
		sign = -1
	}

	count := 0
	for current := a.AddDate(0, 0, 1); !current.After(b); current = current.AddDate(0, 0, 1) {
		if IsBusinessDay(current) {
			count++
		}
	}
	return count * sign
}

// TradingDays returns the ordered business days in [start, end], inclusive.
// This slice drives the engine's daily loop.
func TradingDays(start, end time.Time) []time.Time {
	var days []time.Time
	for current := start; !current.After(end); current = current.AddDate(0, 0, 1) {
		if IsBusinessDay(current) {
			days = append(days, current)
		}
	}
	return days
}

// RecordDateFromExDate derives the record date from the ex-dividend date
// under the T+2 settlement rule.
func RecordDateFromExDate(exDate time.Time) time.Time {
	return AddBusinessDays(exDate, 2)
}

// ExDateFromRecordDate derives the ex-dividend date from the record date:
// two business days before it.
func ExDateFromRecordDate(recordDate time.Time) time.Time {
	return AddBusinessDays(recordDate, -2)
}

// EntryDateFromRecordDate derives the strategy's entry date: daysBefore
// business days before the record date.
func EntryDateFromRecordDate(recordDate time.Time, daysBefore int) time.Time {
	return AddBusinessDays(recordDate, -daysBefore)
}

// isHoliday reports whether the date is a national holiday, including
// substitute holidays (a holiday falling on Sunday is observed the
// following Monday).
func isHoliday(date time.Time) bool {
	if isHolidayProper(date) {
		return true
	}

	// Substitute holiday: Monday after a Sunday holiday
	if date.Weekday() == time.Monday && isHolidayProper(date.AddDate(0, 0, -1)) {
		return true
	}

	return false
}

func isHolidayProper(date time.Time) bool {
	for _, h := range fixedDateHolidays {
		if date.Month() == h.Month && date.Day() == h.Day {
			return true
		}
	}

	for _, h := range ruleBasedHolidays {
		if date.Month() == h.Month && date.Equal(nthWeekday(date.Year(), h.Month, h.Weekday, h.N)) {
			return true
		}
	}

	// Equinox days
	if date.Month() == time.March && date.Day() == equinoxDay(date.Year(), time.March) {
		return true
	}
	if date.Month() == time.September && date.Day() == equinoxDay(date.Year(), time.September) {
		return true
	}

	return false
}

// nthWeekday finds the nth occurrence of a weekday in a given month/year.
func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	date := Date(year, month, 1)

	daysToAdd := int(weekday - date.Weekday())
	if daysToAdd < 0 {
		daysToAdd += 7
	}
	date = date.AddDate(0, 0, daysToAdd)

	return date.AddDate(0, 0, (n-1)*7)
}

// equinoxDay returns the day-of-month of the vernal (March) or autumnal
// (September) equinox holiday. Standard approximation, valid 1900-2099.
func equinoxDay(year int, month time.Month) int {
	y := float64(year - 1980)
	switch month {
	case time.March:
		return int(20.8431 + 0.242194*y - float64(int(y/4)))
	case time.September:
		return int(23.2488 + 0.242194*y - float64(int(y/4)))
	}
	return 0
}
