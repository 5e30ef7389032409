// Package results persists completed simulation runs to the results ledger
// and reads them back for reporting.
package results

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/divcap/internal/database"
	"github.com/aristath/divcap/internal/domain"
	"github.com/aristath/divcap/internal/portfolio"
	"github.com/aristath/divcap/internal/position"
)

// Schema for the results ledger.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	created_at      TEXT NOT NULL,
	start_date      TEXT NOT NULL,
	end_date        TEXT NOT NULL,
	initial_capital REAL NOT NULL,
	config_json     TEXT NOT NULL,
	metrics_json    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	seq          INTEGER NOT NULL,
	trade_id     TEXT NOT NULL,
	date         TEXT NOT NULL,
	instrument   TEXT NOT NULL,
	side         TEXT NOT NULL,
	reason       TEXT NOT NULL,
	price        REAL NOT NULL,
	shares       INTEGER NOT NULL,
	commission   REAL NOT NULL,
	gross_amount REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS positions (
	run_id            TEXT NOT NULL REFERENCES runs(id),
	seq               INTEGER NOT NULL,
	instrument        TEXT NOT NULL,
	status            TEXT NOT NULL,
	entry_date        TEXT NOT NULL,
	entry_price       REAL NOT NULL,
	shares            INTEGER NOT NULL,
	average_cost      REAL NOT NULL,
	exit_date         TEXT,
	exit_price        REAL,
	exit_reason       TEXT,
	realized_pnl      REAL NOT NULL,
	dividend_received REAL NOT NULL,
	total_commission  REAL NOT NULL,
	trade_count       INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS snapshots (
	run_id              TEXT NOT NULL REFERENCES runs(id),
	date                TEXT NOT NULL,
	cash                REAL NOT NULL,
	positions_value     REAL NOT NULL,
	total_value         REAL NOT NULL,
	daily_return        REAL NOT NULL,
	cumulative_return   REAL NOT NULL,
	open_position_count INTEGER NOT NULL,
	PRIMARY KEY (run_id, date)
);

CREATE TABLE IF NOT EXISTS signals (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	seq         INTEGER NOT NULL,
	date        TEXT NOT NULL,
	instrument  TEXT NOT NULL,
	kind        TEXT NOT NULL,
	reason      TEXT NOT NULL,
	price       REAL NOT NULL,
	shares      INTEGER NOT NULL,
	exit_reason TEXT,
	executed    INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

const dateLayout = "2006-01-02"

// SignalRecord is a strategy signal together with its execution outcome.
type SignalRecord struct {
	domain.Signal
	Executed bool `json:"executed"`
}

// Run is the stored header of one completed simulation.
type Run struct {
	ID             string            `json:"id"`
	CreatedAt      time.Time         `json:"created_at"`
	StartDate      time.Time         `json:"start_date"`
	EndDate        time.Time         `json:"end_date"`
	InitialCapital float64           `json:"initial_capital"`
	ConfigJSON     json.RawMessage   `json:"config"`
	Metrics        portfolio.Metrics `json:"metrics"`
}

// RunInput is everything a completed simulation hands over for persistence.
type RunInput struct {
	StartDate      time.Time
	EndDate        time.Time
	InitialCapital float64
	ConfigJSON     []byte
	Metrics        portfolio.Metrics
	Trades         []domain.Trade
	Positions      []position.Summary
	Snapshots      []portfolio.DailySnapshot
	Signals        []SignalRecord
}

// Repository persists runs to the results ledger.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a results repository over an open database.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db.Conn(),
		log: log.With().Str("repo", "results").Logger(),
	}
}

// SaveRun writes one completed run atomically and returns its generated ID.
func (r *Repository) SaveRun(in RunInput) (string, error) {
	runID := uuid.New().String()

	metricsJSON, err := json.Marshal(in.Metrics)
	if err != nil {
		return "", fmt.Errorf("failed to encode metrics: %w", err)
	}

	configJSON := in.ConfigJSON
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}

	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO runs (id, created_at, start_date, end_date, initial_capital, config_json, metrics_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID,
			time.Now().UTC().Format(time.RFC3339),
			in.StartDate.Format(dateLayout),
			in.EndDate.Format(dateLayout),
			in.InitialCapital,
			string(configJSON),
			string(metricsJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		for i, trade := range in.Trades {
			_, err := tx.Exec(
				`INSERT INTO trades (run_id, seq, trade_id, date, instrument, side, reason, price, shares, commission, gross_amount)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, i, trade.ID, trade.Date.Format(dateLayout), trade.Instrument, string(trade.Side),
				trade.Reason, trade.Price, trade.Shares, trade.Commission, trade.GrossAmount,
			)
			if err != nil {
				return fmt.Errorf("failed to insert trade %d: %w", i, err)
			}
		}

		for i, pos := range in.Positions {
			_, err := tx.Exec(
				`INSERT INTO positions (run_id, seq, instrument, status, entry_date, entry_price, shares, average_cost,
				                        exit_date, exit_price, exit_reason, realized_pnl, dividend_received, total_commission, trade_count)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, i, pos.Instrument, pos.Status, pos.EntryDate, pos.EntryPrice, pos.Shares, pos.AverageCost,
				nullIfEmpty(pos.ExitDate), pos.ExitPrice, nullIfEmpty(pos.ExitReason),
				pos.RealizedPnL, pos.DividendReceived, pos.TotalCommission, pos.TradeCount,
			)
			if err != nil {
				return fmt.Errorf("failed to insert position %d: %w", i, err)
			}
		}

		for _, snap := range in.Snapshots {
			_, err := tx.Exec(
				`INSERT INTO snapshots (run_id, date, cash, positions_value, total_value, daily_return, cumulative_return, open_position_count)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, snap.Date.Format(dateLayout), snap.Cash, snap.PositionsValue, snap.TotalValue,
				snap.DailyReturn, snap.CumulativeReturn, snap.OpenPositionCount,
			)
			if err != nil {
				return fmt.Errorf("failed to insert snapshot for %s: %w", snap.Date.Format(dateLayout), err)
			}
		}

		for i, sig := range in.Signals {
			executed := 0
			if sig.Executed {
				executed = 1
			}
			_, err := tx.Exec(
				`INSERT INTO signals (run_id, seq, date, instrument, kind, reason, price, shares, exit_reason, executed)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, i, sig.Date.Format(dateLayout), sig.Instrument, string(sig.Kind), sig.Reason,
				sig.Price, sig.Shares, nullIfEmpty(string(sig.ExitReason)), executed,
			)
			if err != nil {
				return fmt.Errorf("failed to insert signal %d: %w", i, err)
			}
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	r.log.Info().
		Str("run_id", runID).
		Int("trades", len(in.Trades)).
		Int("positions", len(in.Positions)).
		Int("snapshots", len(in.Snapshots)).
		Msg("Run saved")

	return runID, nil
}

// ListRuns returns run headers newest first.
func (r *Repository) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(
		`SELECT id, created_at, start_date, end_date, initial_capital, config_json, metrics_json
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run header by ID.
func (r *Repository) GetRun(runID string) (*Run, error) {
	rows, err := r.db.Query(
		`SELECT id, created_at, start_date, end_date, initial_capital, config_json, metrics_json
		 FROM runs WHERE id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	run, err := scanRun(rows)
	if err != nil {
		return nil, err
	}
	return &run, rows.Err()
}

func scanRun(rows *sql.Rows) (Run, error) {
	var run Run
	var createdAt, startDate, endDate, configJSON, metricsJSON string

	if err := rows.Scan(&run.ID, &createdAt, &startDate, &endDate, &run.InitialCapital, &configJSON, &metricsJSON); err != nil {
		return run, fmt.Errorf("failed to scan run row: %w", err)
	}

	var err error
	if run.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return run, fmt.Errorf("bad created_at %q: %w", createdAt, err)
	}
	if run.StartDate, err = time.Parse(dateLayout, startDate); err != nil {
		return run, fmt.Errorf("bad start_date %q: %w", startDate, err)
	}
	if run.EndDate, err = time.Parse(dateLayout, endDate); err != nil {
		return run, fmt.Errorf("bad end_date %q: %w", endDate, err)
	}
	run.ConfigJSON = json.RawMessage(configJSON)
	if err := json.Unmarshal([]byte(metricsJSON), &run.Metrics); err != nil {
		return run, fmt.Errorf("bad metrics_json for run %s: %w", run.ID, err)
	}

	return run, nil
}

// Trades returns a run's trades in execution order.
func (r *Repository) Trades(runID string) ([]domain.Trade, error) {
	rows, err := r.db.Query(
		`SELECT trade_id, date, instrument, side, reason, price, shares, commission, gross_amount
		 FROM trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var trade domain.Trade
		var dateStr, side string
		if err := rows.Scan(&trade.ID, &dateStr, &trade.Instrument, &side, &trade.Reason,
			&trade.Price, &trade.Shares, &trade.Commission, &trade.GrossAmount); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		if trade.Date, err = time.Parse(dateLayout, dateStr); err != nil {
			return nil, fmt.Errorf("bad trade date %q: %w", dateStr, err)
		}
		trade.Side = domain.TradeSide(side)
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

// Positions returns a run's position summaries.
func (r *Repository) Positions(runID string) ([]position.Summary, error) {
	rows, err := r.db.Query(
		`SELECT instrument, status, entry_date, entry_price, shares, average_cost,
		        exit_date, exit_price, exit_reason, realized_pnl, dividend_received, total_commission, trade_count
		 FROM positions WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var summaries []position.Summary
	for rows.Next() {
		var s position.Summary
		var exitDate, exitReason sql.NullString
		var exitPrice sql.NullFloat64
		if err := rows.Scan(&s.Instrument, &s.Status, &s.EntryDate, &s.EntryPrice, &s.Shares, &s.AverageCost,
			&exitDate, &exitPrice, &exitReason, &s.RealizedPnL, &s.DividendReceived, &s.TotalCommission, &s.TradeCount); err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		s.ExitDate = exitDate.String
		s.ExitPrice = exitPrice.Float64
		s.ExitReason = exitReason.String
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Snapshots returns a run's daily value series in date order.
func (r *Repository) Snapshots(runID string) ([]portfolio.DailySnapshot, error) {
	rows, err := r.db.Query(
		`SELECT date, cash, positions_value, total_value, daily_return, cumulative_return, open_position_count
		 FROM snapshots WHERE run_id = ? ORDER BY date`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []portfolio.DailySnapshot
	for rows.Next() {
		var snap portfolio.DailySnapshot
		var dateStr string
		if err := rows.Scan(&dateStr, &snap.Cash, &snap.PositionsValue, &snap.TotalValue,
			&snap.DailyReturn, &snap.CumulativeReturn, &snap.OpenPositionCount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		if snap.Date, err = time.Parse(dateLayout, dateStr); err != nil {
			return nil, fmt.Errorf("bad snapshot date %q: %w", dateStr, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Signals returns a run's signal history in emission order.
func (r *Repository) Signals(runID string) ([]SignalRecord, error) {
	rows, err := r.db.Query(
		`SELECT date, instrument, kind, reason, price, shares, exit_reason, executed
		 FROM signals WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []SignalRecord
	for rows.Next() {
		var sig SignalRecord
		var dateStr, kind string
		var exitReason sql.NullString
		var executed int
		if err := rows.Scan(&dateStr, &sig.Instrument, &kind, &sig.Reason,
			&sig.Price, &sig.Shares, &exitReason, &executed); err != nil {
			return nil, fmt.Errorf("failed to scan signal row: %w", err)
		}
		if sig.Date, err = time.Parse(dateLayout, dateStr); err != nil {
			return nil, fmt.Errorf("bad signal date %q: %w", dateStr, err)
		}
		sig.Kind = domain.SignalKind(kind)
		sig.ExitReason = domain.ExitReason(exitReason.String)
		sig.Executed = executed != 0
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
