package marketdata

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/divcap/internal/calendar"
	"github.com/aristath/divcap/internal/database"
)

// Schema for the history database holding raw price and dividend series.
const Schema = `
CREATE TABLE IF NOT EXISTS prices (
	instrument TEXT NOT NULL,
	date       TEXT NOT NULL,
	close      REAL NOT NULL,
	PRIMARY KEY (instrument, date)
);

CREATE TABLE IF NOT EXISTS dividends (
	instrument  TEXT NOT NULL,
	ex_date     TEXT NOT NULL,
	record_date TEXT NOT NULL,
	amount      REAL NOT NULL,
	PRIMARY KEY (instrument, record_date)
);
`

const dateLayout = "2006-01-02"

// Repository reads and writes the history database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a history repository over an open database.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db.Conn(),
		log: log.With().Str("repo", "history").Logger(),
	}
}

// LoadStore bulk-loads every instrument's series in [start, end] into a
// fresh in-memory store. This is the one collaborator call made before the
// simulation loop starts.
func (r *Repository) LoadStore(instruments []string, start, end time.Time, log zerolog.Logger) (*Store, error) {
	store := NewStore(log)

	for _, instrument := range instruments {
		prices, err := r.PriceSeries(instrument, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to load prices for %s: %w", instrument, err)
		}
		store.SetPrices(instrument, prices)

		dividends, err := r.DividendSeries(instrument, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to load dividends for %s: %w", instrument, err)
		}
		store.SetDividends(instrument, dividends)

		r.log.Debug().
			Str("instrument", instrument).
			Int("prices", len(prices)).
			Int("dividends", len(dividends)).
			Msg("Series loaded")
	}

	return store, nil
}

// PriceSeries returns the instrument's closes in [start, end], date order.
func (r *Repository) PriceSeries(instrument string, start, end time.Time) ([]PricePoint, error) {
	rows, err := r.db.Query(
		`SELECT date, close FROM prices WHERE instrument = ? AND date >= ? AND date <= ? ORDER BY date`,
		instrument, start.Format(dateLayout), end.Format(dateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	var series []PricePoint
	for rows.Next() {
		var dateStr string
		var closePrice float64
		if err := rows.Scan(&dateStr, &closePrice); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		date, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("bad date %q in prices: %w", dateStr, err)
		}
		series = append(series, PricePoint{Date: date, Close: closePrice})
	}
	return series, rows.Err()
}

// DividendSeries returns dividends with record dates in [start, end].
func (r *Repository) DividendSeries(instrument string, start, end time.Time) ([]DividendEvent, error) {
	rows, err := r.db.Query(
		`SELECT ex_date, record_date, amount FROM dividends
		 WHERE instrument = ? AND record_date >= ? AND record_date <= ? ORDER BY record_date`,
		instrument, start.Format(dateLayout), end.Format(dateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query dividends: %w", err)
	}
	defer rows.Close()

	var events []DividendEvent
	for rows.Next() {
		var exStr, recordStr string
		var amount float64
		if err := rows.Scan(&exStr, &recordStr, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan dividend row: %w", err)
		}
		exDate, err := time.Parse(dateLayout, exStr)
		if err != nil {
			return nil, fmt.Errorf("bad ex_date %q in dividends: %w", exStr, err)
		}
		recordDate, err := time.Parse(dateLayout, recordStr)
		if err != nil {
			return nil, fmt.Errorf("bad record_date %q in dividends: %w", recordStr, err)
		}
		events = append(events, DividendEvent{ExDate: exDate, RecordDate: recordDate, AmountPerShare: amount})
	}
	return events, rows.Err()
}

// UpsertPrice writes one daily close.
func (r *Repository) UpsertPrice(instrument string, date time.Time, closePrice float64) error {
	_, err := r.db.Exec(
		`INSERT INTO prices (instrument, date, close) VALUES (?, ?, ?)
		 ON CONFLICT (instrument, date) DO UPDATE SET close = excluded.close`,
		instrument, date.Format(dateLayout), closePrice,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert price: %w", err)
	}
	return nil
}

// UpsertDividend writes one dividend event. When the record date column is
// empty it is derived from the ex-date under the T+2 rule.
func (r *Repository) UpsertDividend(instrument string, ev DividendEvent) error {
	recordDate := ev.RecordDate
	if recordDate.IsZero() {
		recordDate = calendar.RecordDateFromExDate(ev.ExDate)
	}

	_, err := r.db.Exec(
		`INSERT INTO dividends (instrument, ex_date, record_date, amount) VALUES (?, ?, ?, ?)
		 ON CONFLICT (instrument, record_date) DO UPDATE SET ex_date = excluded.ex_date, amount = excluded.amount`,
		instrument, ev.ExDate.Format(dateLayout), recordDate.Format(dateLayout), ev.AmountPerShare,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert dividend: %w", err)
	}
	return nil
}

// ImportPricesCSV loads rows of `instrument,date,close` (header optional)
// into the prices table. Returns the number of rows imported.
func (r *Repository) ImportPricesCSV(path string) (int, error) {
	return r.importCSV(path, 3, func(record []string) error {
		date, err := time.Parse(dateLayout, record[1])
		if err != nil {
			return fmt.Errorf("bad date %q: %w", record[1], err)
		}
		closePrice, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return fmt.Errorf("bad close %q: %w", record[2], err)
		}
		return r.UpsertPrice(record[0], date, closePrice)
	})
}

// ImportDividendsCSV loads rows of `instrument,ex_date,record_date,amount`
// (record_date may be empty, derived via T+2) into the dividends table.
func (r *Repository) ImportDividendsCSV(path string) (int, error) {
	return r.importCSV(path, 4, func(record []string) error {
		exDate, err := time.Parse(dateLayout, record[1])
		if err != nil {
			return fmt.Errorf("bad ex_date %q: %w", record[1], err)
		}
		var recordDate time.Time
		if record[2] != "" {
			recordDate, err = time.Parse(dateLayout, record[2])
			if err != nil {
				return fmt.Errorf("bad record_date %q: %w", record[2], err)
			}
		}
		amount, err := strconv.ParseFloat(record[3], 64)
		if err != nil {
			return fmt.Errorf("bad amount %q: %w", record[3], err)
		}
		return r.UpsertDividend(record[0], DividendEvent{ExDate: exDate, RecordDate: recordDate, AmountPerShare: amount})
	})
}

func (r *Repository) importCSV(path string, fields int, apply func([]string) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = fields

	imported := 0
	for line := 0; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("failed to read %s line %d: %w", path, line+1, err)
		}

		// Skip a header row
		if line == 0 {
			if _, parseErr := time.Parse(dateLayout, record[1]); parseErr != nil {
				continue
			}
		}

		if err := apply(record); err != nil {
			return imported, fmt.Errorf("%s line %d: %w", path, line+1, err)
		}
		imported++
	}

	r.log.Info().Str("file", path).Int("rows", imported).Msg("CSV imported")
	return imported, nil
}
