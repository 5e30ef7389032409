// Package strategy implements the dividend-capture signal generator: entry
// ahead of the record date, optional addition on the ex-dividend drop, and
// the prioritized exit rules.
//
// The checker holds no mutable state between calls. Every decision is a
// function of its explicit inputs, which keeps each one reproducible.
package strategy

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/divcap/internal/calendar"
	"github.com/aristath/divcap/internal/domain"
)

// EntryConfig controls new position entries
type EntryConfig struct {
	DaysBeforeRecord int     `json:"days_before_record"`
	PositionSize     float64 `json:"position_size"` // currency budget per entry
	MaxPositions     int     `json:"max_positions"`
}

// AdditionConfig controls buy-increases on the ex-dividend date
type AdditionConfig struct {
	Enabled    bool    `json:"enabled"`
	Ratio      float64 `json:"ratio"` // fraction of the initial position value
	OnDropOnly bool    `json:"on_drop_only"`
}

// ExitConfig controls position exits
type ExitConfig struct {
	MaxHoldingDays int     `json:"max_holding_days"` // business days
	StopLossPct    float64 `json:"stop_loss_pct"`
	OnWindowFill   bool    `json:"on_window_fill"`
}

// Config is the full strategy configuration
type Config struct {
	Entry    EntryConfig    `json:"entry"`
	Addition AdditionConfig `json:"addition"`
	Exit     ExitConfig     `json:"exit"`
}

// PositionInfo is the read-only view of an open position the checker needs.
// The caller extracts it from the position registry.
type PositionInfo struct {
	EntryDate    time.Time
	EntryPrice   float64
	AverageCost  float64
	Shares       int
	InitialValue float64
	ExDate       time.Time
	PreExPrice   float64
}

// PortfolioInfo is the read-only portfolio view used for signal validation.
type PortfolioInfo struct {
	Cash              float64
	OpenPositionCount int
}

// Checker evaluates the strategy's entry, addition and exit rules.
type Checker struct {
	cfg Config
	log zerolog.Logger
}

// NewChecker creates a strategy checker
func NewChecker(cfg Config, log zerolog.Logger) *Checker {
	return &Checker{
		cfg: cfg,
		log: log.With().Str("component", "strategy").Logger(),
	}
}

// CheckEntry emits an ENTRY signal when the current date is exactly the
// configured number of business days before the dividend's record date.
// Returns nil when the date does not match or no whole lot is affordable.
func (c *Checker) CheckEntry(instrument string, currentDate time.Time, div *domain.DividendInfo, currentPrice float64) *domain.Signal {
	if div == nil {
		return nil
	}

	entryDate := calendar.EntryDateFromRecordDate(div.RecordDate, c.cfg.Entry.DaysBeforeRecord)
	if !currentDate.Equal(entryDate) {
		return nil
	}

	shares := lotShares(c.cfg.Entry.PositionSize, currentPrice)
	if shares <= 0 {
		return nil
	}

	return &domain.Signal{
		Date:       currentDate,
		Instrument: instrument,
		Kind:       domain.SignalEntry,
		Price:      currentPrice,
		Shares:     shares,
		Reason:     fmt.Sprintf("Entry %d business days before record date %s", c.cfg.Entry.DaysBeforeRecord, div.RecordDate.Format("2006-01-02")),
	}
}

// CheckAddition emits an ADD signal on the ex-dividend date when additions
// are enabled and, if OnDropOnly is set, the price has dropped below the
// pre-ex close. The caller only invokes this on the position's ex-date.
func (c *Checker) CheckAddition(instrument string, currentDate time.Time, pos PositionInfo, currentPrice, preExPrice float64) *domain.Signal {
	if !c.cfg.Addition.Enabled {
		return nil
	}
	if c.cfg.Addition.OnDropOnly && currentPrice >= preExPrice {
		return nil
	}

	budget := pos.InitialValue * c.cfg.Addition.Ratio
	shares := lotShares(budget, currentPrice)
	if shares <= 0 {
		return nil
	}

	dropPct := 0.0
	if preExPrice > 0 {
		dropPct = (preExPrice - currentPrice) / preExPrice * 100
	}

	return &domain.Signal{
		Date:       currentDate,
		Instrument: instrument,
		Kind:       domain.SignalAdd,
		Price:      currentPrice,
		Shares:     shares,
		Reason:     fmt.Sprintf("Add on ex-dividend drop (%.1f%%)", dropPct),
	}
}

// CheckExit evaluates the exit rules in fixed priority order and returns a
// full-size EXIT signal for the first that matches:
//
//  1. Stop loss: price at or below averageCost*(1-stopLossPct)
//  2. Max holding period, in business days since entry
//  3. Window fill: price recovered to the pre-ex-dividend close
//
// Ties are broken by this order; a day that triggers both the stop loss and
// the holding limit exits as a stop loss.
func (c *Checker) CheckExit(instrument string, currentDate time.Time, pos PositionInfo, currentPrice float64) *domain.Signal {
	exitReason := domain.ExitNone
	reason := ""

	stopLevel := pos.AverageCost * (1 - c.cfg.Exit.StopLossPct)
	holdingDays := calendar.BusinessDaysBetween(pos.EntryDate, currentDate)

	switch {
	case c.cfg.Exit.StopLossPct > 0 && currentPrice <= stopLevel:
		exitReason = domain.ExitStopLoss
		reason = fmt.Sprintf("Stop loss triggered (%.1f%%)", (currentPrice-pos.AverageCost)/pos.AverageCost*100)

	case holdingDays >= c.cfg.Exit.MaxHoldingDays:
		exitReason = domain.ExitMaxHolding
		reason = fmt.Sprintf("Max holding period reached (%d business days)", holdingDays)

	case c.cfg.Exit.OnWindowFill && pos.PreExPrice > 0 && currentPrice >= pos.PreExPrice:
		exitReason = domain.ExitWindowFilled
		reason = fmt.Sprintf("Window filled (reached pre-ex price %.0f)", pos.PreExPrice)
	}

	if exitReason == domain.ExitNone {
		return nil
	}

	return &domain.Signal{
		Date:       currentDate,
		Instrument: instrument,
		Kind:       domain.SignalExit,
		Price:      currentPrice,
		Shares:     pos.Shares,
		Reason:     reason,
		ExitReason: exitReason,
	}
}

// ValidateSignal is the pre-execution check for entry signals: the open
// position cap and an approximate cash check. The exact cash check, with
// commission included, happens at execution.
func (c *Checker) ValidateSignal(sig *domain.Signal, info PortfolioInfo) bool {
	if sig.Kind != domain.SignalEntry {
		return true
	}

	if info.OpenPositionCount >= c.cfg.Entry.MaxPositions {
		c.log.Warn().
			Str("instrument", sig.Instrument).
			Int("open_positions", info.OpenPositionCount).
			Msg("Entry rejected: max positions reached")
		return false
	}

	required := sig.Price * float64(sig.Shares)
	if required > info.Cash {
		c.log.Warn().
			Str("instrument", sig.Instrument).
			Float64("required", required).
			Float64("available", info.Cash).
			Msg("Entry rejected: insufficient cash")
		return false
	}

	return true
}

// PreExPrice returns the closing price on the business day before the
// ex-dividend date, or false when the provider has no usable price.
func PreExPrice(provider domain.DataProvider, instrument string, exDate time.Time) (float64, bool) {
	preExDate := calendar.AddBusinessDays(exDate, -1)
	return provider.PriceOn(instrument, preExDate)
}

// lotShares converts a currency budget at the given price into whole lots.
func lotShares(budget, price float64) int {
	if price <= 0 || budget <= 0 {
		return 0
	}
	maxShares := int(budget / price)
	return (maxShares / domain.LotSize) * domain.LotSize
}
