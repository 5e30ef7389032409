// Package marketdata supplies historical prices and dividend events to the
// simulation. All series are loaded in bulk before the day loop starts and
// served from memory; the store never reaches out to a data source during
// the simulation itself.
package marketdata

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/divcap/internal/domain"
)

// PricePoint is one daily close for an instrument.
type PricePoint struct {
	Date  time.Time `msgpack:"date"`
	Close float64   `msgpack:"close"`
}

// DividendEvent is one dividend with its derived dates.
type DividendEvent struct {
	ExDate         time.Time `msgpack:"ex_date"`
	RecordDate     time.Time `msgpack:"record_date"`
	AmountPerShare float64   `msgpack:"amount"`
}

// Store holds the loaded series and implements domain.DataProvider.
type Store struct {
	prices    map[string][]PricePoint    // sorted by date ascending
	dividends map[string][]DividendEvent // sorted by record date ascending
	log       zerolog.Logger
}

// NewStore creates an empty market data store.
func NewStore(log zerolog.Logger) *Store {
	return &Store{
		prices:    make(map[string][]PricePoint),
		dividends: make(map[string][]DividendEvent),
		log:       log.With().Str("component", "marketdata").Logger(),
	}
}

// SetPrices replaces the price series for an instrument. The series is
// sorted by date before storing.
func (s *Store) SetPrices(instrument string, series []PricePoint) {
	sorted := make([]PricePoint, len(series))
	copy(sorted, series)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	s.prices[instrument] = sorted
}

// SetDividends replaces the dividend series for an instrument, sorted by
// record date.
func (s *Store) SetDividends(instrument string, events []DividendEvent) {
	sorted := make([]DividendEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RecordDate.Before(sorted[j].RecordDate) })
	s.dividends[instrument] = sorted
}

// Instruments returns the instruments with a loaded price series, sorted.
func (s *Store) Instruments() []string {
	instruments := make([]string, 0, len(s.prices))
	for instrument := range s.prices {
		instruments = append(instruments, instrument)
	}
	sort.Strings(instruments)
	return instruments
}

// PriceOn returns the close for the instrument on the given date, falling
// back to the most recent earlier date. False when the series is empty or
// starts after the requested date.
func (s *Store) PriceOn(instrument string, date time.Time) (float64, bool) {
	series := s.prices[instrument]
	if len(series) == 0 {
		return 0, false
	}

	// First index with Date > date; the answer is the point before it.
	idx := sort.Search(len(series), func(i int) bool { return series[i].Date.After(date) })
	if idx == 0 {
		return 0, false
	}
	return series[idx-1].Close, true
}

// NextDividend returns the next dividend whose record date is strictly
// after the given date, or nil.
func (s *Store) NextDividend(instrument string, after time.Time) *domain.DividendInfo {
	for _, ev := range s.dividends[instrument] {
		if ev.RecordDate.After(after) {
			return &domain.DividendInfo{
				ExDate:         ev.ExDate,
				RecordDate:     ev.RecordDate,
				AmountPerShare: ev.AmountPerShare,
			}
		}
	}
	return nil
}

// ValidationReport collects the outcome of the pre-simulation data check.
type ValidationReport struct {
	Errors   []string
	Warnings []string
}

// ValidationError is the fatal error raised when the loaded data cannot
// support a simulation at all.
type ValidationError struct {
	Report ValidationReport
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("market data validation failed: %s", strings.Join(e.Report.Errors, "; "))
}

// Validate checks the loaded series against the universe the simulation
// will trade. An instrument with no price data at all is an error (fatal to
// the run); zero-or-negative closes and single-day moves above 50% are
// warnings only. A nil universe validates every loaded instrument.
func (s *Store) Validate(universe []string) ValidationReport {
	var report ValidationReport

	if universe == nil {
		universe = s.Instruments()
	}

	for _, instrument := range universe {
		series := s.prices[instrument]
		if len(series) == 0 {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: no price data", instrument))
			continue
		}

		badValues := 0
		extremeMoves := 0
		for i, point := range series {
			if point.Close <= 0 {
				badValues++
				continue
			}
			if i > 0 && series[i-1].Close > 0 {
				change := (point.Close - series[i-1].Close) / series[i-1].Close
				if change > 0.5 || change < -0.5 {
					extremeMoves++
				}
			}
		}

		if badValues > 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %d non-positive closes", instrument, badValues))
		}
		if extremeMoves > 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %d single-day moves over 50%%", instrument, extremeMoves))
		}

		if len(s.dividends[instrument]) == 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: no dividend data", instrument))
		}
	}

	for _, w := range report.Warnings {
		s.log.Warn().Msg(w)
	}

	return report
}

// Err returns a *ValidationError when the report has errors, nil otherwise.
func (r ValidationReport) Err() error {
	if len(r.Errors) > 0 {
		return &ValidationError{Report: r}
	}
	return nil
}
