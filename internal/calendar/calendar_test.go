package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsBusinessDay(t *testing.T) {
	tests := []struct {
		name string
		date time.Time
		want bool
	}{
		{"regular friday", Date(2023, time.December, 29), true},
		{"saturday", Date(2023, time.December, 30), false},
		{"sunday", Date(2023, time.December, 31), false},
		{"new year's day", Date(2024, time.January, 1), false},
		{"jan 2 blackout", Date(2024, time.January, 2), false},
		{"jan 3 blackout", Date(2024, time.January, 3), false},
		{"jan 4 reopens", Date(2024, time.January, 4), true},
		{"dec 31 blackout on weekday", Date(2024, time.December, 31), false},
		{"culture day", Date(2023, time.November, 3), false},
		{"coming of age day (2nd mon jan)", Date(2023, time.January, 9), false},
		{"vernal equinox 2023", Date(2023, time.March, 21), false},
		{"autumnal equinox 2023", Date(2023, time.September, 23), false},
		{"regular wednesday", Date(2023, time.March, 29), true},
		{"substitute holiday after sunday feb 11 2024", Date(2024, time.February, 12), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBusinessDay(tt.date))
		})
	}
}

func TestAddBusinessDays(t *testing.T) {
	// Friday + 1 business day skips the weekend
	friday := Date(2023, time.June, 2)
	assert.Equal(t, Date(2023, time.June, 5), AddBusinessDays(friday, 1))

	// Monday - 1 business day lands on the previous Friday
	monday := Date(2023, time.June, 5)
	assert.Equal(t, friday, AddBusinessDays(monday, -1))

	// Zero offset returns the input unchanged, even on a weekend
	saturday := Date(2023, time.June, 3)
	assert.Equal(t, saturday, AddBusinessDays(saturday, 0))

	// Walking across the year-end blackout
	dec28 := Date(2023, time.December, 28) // Thursday
	assert.Equal(t, Date(2023, time.December, 29), AddBusinessDays(dec28, 1))
	assert.Equal(t, Date(2024, time.January, 4), AddBusinessDays(dec28, 2))
}

func TestBusinessDaysBetween(t *testing.T) {
	mon := Date(2023, time.June, 5)
	fri := Date(2023, time.June, 9)

	assert.Equal(t, 4, BusinessDaysBetween(mon, fri))
	assert.Equal(t, -4, BusinessDaysBetween(fri, mon))
	assert.Equal(t, 0, BusinessDaysBetween(mon, mon))

	// Weekend in the middle is not counted
	nextMon := Date(2023, time.June, 12)
	assert.Equal(t, 5, BusinessDaysBetween(mon, nextMon))
}

func TestDividendDateDerivation(t *testing.T) {
	// March 2023 dividend cycle: ex-date Wed 3/29, record Fri 3/31 (T+2)
	exDate := Date(2023, time.March, 29)
	recordDate := RecordDateFromExDate(exDate)
	assert.Equal(t, Date(2023, time.March, 31), recordDate)

	// Round trip back to the ex-date
	assert.Equal(t, exDate, ExDateFromRecordDate(recordDate))

	// Entry 3 business days before the record date
	assert.Equal(t, Date(2023, time.March, 28), EntryDateFromRecordDate(recordDate, 3))
}

func TestTradingDays(t *testing.T) {
	days := TradingDays(Date(2023, time.June, 1), Date(2023, time.June, 9))

	assert.Len(t, days, 7)
	assert.Equal(t, Date(2023, time.June, 1), days[0])
	assert.Equal(t, Date(2023, time.June, 9), days[len(days)-1])

	for _, d := range days {
		assert.True(t, IsBusinessDay(d), "non-business day %s in trading calendar", d.Format("2006-01-02"))
	}
}

func TestNormalize(t *testing.T) {
	ts := time.Date(2023, time.June, 5, 14, 30, 12, 99, time.UTC)
	assert.Equal(t, Date(2023, time.June, 5), Normalize(ts))
}
