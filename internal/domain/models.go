// Package domain provides core domain models and types shared by the
// simulation components. The package is pure: no infrastructure dependencies.
package domain

import "time"

// TradeSide represents the direction of a trade
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// SignalKind is the closed set of signal types the strategy can emit.
//
// Execution routing dispatches on this tag, never on the human-readable
// reason string attached to a signal.
type SignalKind string

const (
	SignalEntry SignalKind = "ENTRY"
	SignalAdd   SignalKind = "ADD"
	SignalExit  SignalKind = "EXIT"
)

// PositionStatus represents the lifecycle state of a position
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// ExitReason identifies which exit rule closed a position
type ExitReason string

const (
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitMaxHolding   ExitReason = "MAX_HOLDING_PERIOD"
	ExitWindowFilled ExitReason = "WINDOW_FILLED"
	ExitNone         ExitReason = "NONE"
)

// LotSize is the minimum tradable share increment for this market.
const LotSize = 100

// Trade is an immutable record of a single executed buy or sell.
// GrossAmount is price*shares plus commission for buys, minus commission
// for sells.
type Trade struct {
	Date        time.Time `json:"date"`
	ID          string    `json:"id"`
	Instrument  string    `json:"instrument"`
	Side        TradeSide `json:"side"`
	Reason      string    `json:"reason"`
	Price       float64   `json:"price"`
	Shares      int       `json:"shares"`
	Commission  float64   `json:"commission"`
	GrossAmount float64   `json:"gross_amount"`
}

// Signal is a trading decision produced by the strategy and consumed
// exactly once by the engine.
type Signal struct {
	Date       time.Time  `json:"date"`
	Instrument string     `json:"instrument"`
	Kind       SignalKind `json:"kind"`
	Reason     string     `json:"reason"`
	Price      float64    `json:"price"`
	Shares     int        `json:"shares"`
	ExitReason ExitReason `json:"exit_reason,omitempty"`
}

// DividendInfo describes one upcoming dividend event for an instrument.
type DividendInfo struct {
	ExDate         time.Time `json:"ex_dividend_date"`
	RecordDate     time.Time `json:"record_date"`
	AmountPerShare float64   `json:"amount_per_share"`
}

// DividendPaymentPolicy selects when a dividend is credited to cash.
//
// The upstream month-based heuristic (record month 3/4 pays in June, 9/10 in
// December) was inconsistent at month boundaries and is deliberately not
// supported. The two policies here are the ones the bookkeeping can state
// precisely.
type DividendPaymentPolicy string

const (
	// PayRecordOffset credits the dividend N business days after the
	// record date (N from configuration, default 1).
	PayRecordOffset DividendPaymentPolicy = "record_offset"
	// PayOnExDate credits the dividend on the ex-dividend date itself.
	PayOnExDate DividendPaymentPolicy = "ex_date"
)

// DataProvider supplies historical prices and dividend events to the engine.
// All data is loaded in bulk before the simulation loop starts; the per-day
// lookups never block.
type DataProvider interface {
	// PriceOn returns the closing price for the instrument on the given
	// date, falling back to the most recent available date at or before
	// it. The second return is false when no usable price exists.
	PriceOn(instrument string, date time.Time) (float64, bool)

	// NextDividend returns the next dividend whose record date is strictly
	// after the given date, or nil when none is known.
	NextDividend(instrument string, after time.Time) *DividendInfo
}
