// Package engine orchestrates one backtest run: it walks the trading
// calendar day by day and, in a fixed order, manages open positions,
// evaluates new entries, pays out dividends and marks the portfolio to
// market. The fixed ordering makes a run deterministic: two runs over the
// same data and configuration produce identical trade logs.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/divcap/internal/calendar"
	"github.com/aristath/divcap/internal/config"
	"github.com/aristath/divcap/internal/domain"
	"github.com/aristath/divcap/internal/portfolio"
	"github.com/aristath/divcap/internal/results"
	"github.com/aristath/divcap/internal/strategy"
)

// progressInterval is how many simulated days pass between progress logs.
const progressInterval = 20

// pendingDividend is a payment scheduled at ex-date time, credited later.
// The amount is fixed when scheduled, from the shares entitled on the
// ex-date; additions made on or after the ex-date carry no entitlement.
type pendingDividend struct {
	Instrument string
	Amount     float64
	PayDate    time.Time
}

// Engine runs one backtest over preloaded market data.
type Engine struct {
	cfg      *config.Config
	provider domain.DataProvider
	checker  *strategy.Checker
	pf       *portfolio.Portfolio

	signals []results.SignalRecord
	pending []pendingDividend

	log zerolog.Logger
}

// New creates an engine over a validated configuration and a loaded data
// provider.
func New(cfg *config.Config, provider domain.DataProvider, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		provider: provider,
		checker:  strategy.NewChecker(cfg.Strategy, log),
		pf:       portfolio.New(cfg.Backtest.InitialCapital, log),
		log:      log.With().Str("component", "engine").Logger(),
	}
}

// Portfolio exposes the run's portfolio for inspection after Run returns.
func (e *Engine) Portfolio() *portfolio.Portfolio {
	return e.pf
}

// Run executes the simulation and returns everything the results layer
// persists. The context aborts a run between days, never mid-day.
func (e *Engine) Run(ctx context.Context) (results.RunInput, error) {
	start := e.cfg.StartDate()
	end := e.cfg.EndDate()

	days := calendar.TradingDays(start, end)
	if len(days) == 0 {
		return results.RunInput{}, fmt.Errorf("no trading days between %s and %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	e.log.Info().
		Str("start", start.Format("2006-01-02")).
		Str("end", end.Format("2006-01-02")).
		Int("trading_days", len(days)).
		Int("universe", len(e.cfg.Universe)).
		Float64("initial_capital", e.cfg.Backtest.InitialCapital).
		Msg("Backtest started")

	for i, day := range days {
		select {
		case <-ctx.Done():
			return results.RunInput{}, fmt.Errorf("backtest aborted on %s: %w", day.Format("2006-01-02"), ctx.Err())
		default:
		}

		prices := e.pricesFor(day)

		e.manageOpenPositions(day, prices)
		e.evaluateEntries(day, prices)
		e.payDividends(day)
		snap := e.pf.MarkToMarket(day, prices)

		if (i+1)%progressInterval == 0 || i == len(days)-1 {
			e.log.Info().
				Str("date", day.Format("2006-01-02")).
				Int("day", i+1).
				Int("of", len(days)).
				Float64("total_value", snap.TotalValue).
				Int("open_positions", snap.OpenPositionCount).
				Msg("Progress")
		}
	}

	metrics := e.pf.Metrics()
	e.log.Info().
		Float64("final_value", metrics.FinalValue).
		Float64("total_return", metrics.TotalReturn).
		Int("total_trades", metrics.TotalTrades).
		Msg("Backtest finished")

	configJSON, err := json.Marshal(e.cfg)
	if err != nil {
		return results.RunInput{}, fmt.Errorf("failed to encode run configuration: %w", err)
	}

	return results.RunInput{
		StartDate:      start,
		EndDate:        end,
		InitialCapital: e.cfg.Backtest.InitialCapital,
		ConfigJSON:     configJSON,
		Metrics:        metrics,
		Trades:         e.pf.Registry().Trades(),
		Positions:      e.pf.Registry().Summaries(),
		Snapshots:      e.pf.History(),
		Signals:        e.signals,
	}, nil
}

// pricesFor collects the day's close for every universe instrument. An
// instrument with no usable price is absent from the map and skipped for
// the day.
func (e *Engine) pricesFor(day time.Time) map[string]float64 {
	prices := make(map[string]float64, len(e.cfg.Universe))
	for _, instrument := range e.cfg.Universe {
		price, ok := e.provider.PriceOn(instrument, day)
		if !ok {
			e.log.Debug().
				Str("instrument", instrument).
				Str("date", day.Format("2006-01-02")).
				Msg("No price, skipping instrument for the day")
			continue
		}
		prices[instrument] = price
	}
	return prices
}

// manageOpenPositions runs the exit rules and, failing those, the ex-date
// handling (dividend entitlement, pre-ex price capture, optional addition)
// for every open position.
func (e *Engine) manageOpenPositions(day time.Time, prices map[string]float64) {
	for _, pos := range e.pf.Registry().OpenPositions() {
		price, ok := prices[pos.Instrument]
		if !ok {
			continue
		}

		info := strategy.PositionInfo{
			EntryDate:    pos.EntryDate,
			EntryPrice:   pos.EntryPrice,
			AverageCost:  pos.AverageCost,
			Shares:       pos.Shares,
			InitialValue: pos.InitialValue(),
			ExDate:       pos.ExDividendDate,
			PreExPrice:   pos.PreExPrice,
		}

		if sig := e.checker.CheckExit(pos.Instrument, day, info, price); sig != nil {
			e.executeExit(sig)
			continue
		}

		if !pos.ExDividendDate.IsZero() && day.Equal(pos.ExDividendDate) {
			e.handleExDate(day, pos.Instrument, price)
		}
	}
}

// handleExDate processes a position's ex-dividend date: it captures the
// pre-ex close, schedules the dividend payment from the shares entitled
// today, and evaluates the addition rule.
func (e *Engine) handleExDate(day time.Time, instrument string, price float64) {
	pos := e.pf.Registry().Get(instrument)

	preEx, ok := strategy.PreExPrice(e.provider, instrument, pos.ExDividendDate)
	if ok {
		pos.PreExPrice = preEx
	} else {
		e.log.Warn().
			Str("instrument", instrument).
			Str("ex_date", pos.ExDividendDate.Format("2006-01-02")).
			Msg("No pre-ex price available")
	}

	e.schedulePayment(day, pos.Instrument, pos.DividendPerShare, pos.Shares, pos.RecordDate)

	if !ok {
		return
	}

	info := strategy.PositionInfo{
		EntryDate:    pos.EntryDate,
		EntryPrice:   pos.EntryPrice,
		AverageCost:  pos.AverageCost,
		Shares:       pos.Shares,
		InitialValue: pos.InitialValue(),
		ExDate:       pos.ExDividendDate,
		PreExPrice:   pos.PreExPrice,
	}

	if sig := e.checker.CheckAddition(instrument, day, info, price, preEx); sig != nil {
		e.executeBuy(sig, nil)
	}
}

// schedulePayment queues the net dividend payment per the configured policy.
func (e *Engine) schedulePayment(exDate time.Time, instrument string, perShare float64, shares int, recordDate time.Time) {
	if perShare <= 0 || shares <= 0 {
		return
	}

	gross := perShare * float64(shares)
	net := gross * (1 - e.cfg.Execution.DividendTaxRate)

	var payDate time.Time
	switch e.cfg.Dividend.PaymentPolicy {
	case domain.PayOnExDate:
		payDate = exDate
	default:
		payDate = calendar.AddBusinessDays(recordDate, e.cfg.Dividend.PaymentOffsetDays)
	}

	e.pending = append(e.pending, pendingDividend{
		Instrument: instrument,
		Amount:     net,
		PayDate:    payDate,
	})

	e.log.Debug().
		Str("instrument", instrument).
		Float64("net_amount", net).
		Str("pay_date", payDate.Format("2006-01-02")).
		Msg("Dividend payment scheduled")
}

// evaluateEntries checks every universe instrument without an open position
// for an entry signal.
func (e *Engine) evaluateEntries(day time.Time, prices map[string]float64) {
	for _, instrument := range e.cfg.Universe {
		if e.pf.Registry().Get(instrument) != nil {
			continue
		}
		price, ok := prices[instrument]
		if !ok {
			continue
		}

		div := e.provider.NextDividend(instrument, day)
		sig := e.checker.CheckEntry(instrument, day, div, price)
		if sig == nil {
			continue
		}

		valid := e.checker.ValidateSignal(sig, strategy.PortfolioInfo{
			Cash:              e.pf.Cash(),
			OpenPositionCount: e.pf.Registry().OpenCount(),
		})
		if !valid {
			e.record(sig, false)
			continue
		}

		e.executeBuy(sig, div)
	}
}

// payDividends credits every pending payment due on or before the day.
func (e *Engine) payDividends(day time.Time) {
	remaining := e.pending[:0]
	for _, payment := range e.pending {
		if payment.PayDate.After(day) {
			remaining = append(remaining, payment)
			continue
		}
		e.pf.CreditDividendAmount(payment.Instrument, payment.Amount, day)
	}
	e.pending = remaining
}

// executeBuy applies slippage and commission to a buy signal and executes it.
func (e *Engine) executeBuy(sig *domain.Signal, div *domain.DividendInfo) {
	slippage := e.cfg.Execution.Slippage
	if sig.Kind == domain.SignalAdd {
		// Additions fill in the volatile ex-date open
		slippage = e.cfg.Execution.SlippageExDate
	}

	fillPrice := sig.Price * (1 + slippage)
	amount := fillPrice * float64(sig.Shares)
	commission := e.commission(amount)

	trade := domain.Trade{
		ID:          uuid.New().String(),
		Date:        sig.Date,
		Instrument:  sig.Instrument,
		Side:        domain.SideBuy,
		Reason:      sig.Reason,
		Price:       fillPrice,
		Shares:      sig.Shares,
		Commission:  commission,
		GrossAmount: amount + commission,
	}

	res := e.pf.ExecuteBuy(trade, sig.Kind, div)
	e.record(sig, res.Executed)
}

// executeExit applies slippage and commission to an exit signal and executes
// the full-size sell.
func (e *Engine) executeExit(sig *domain.Signal) {
	fillPrice := sig.Price * (1 - e.cfg.Execution.Slippage)
	commission := e.commission(fillPrice * float64(sig.Shares))

	res := e.pf.ExecuteSell(sig.Instrument, sig.Date, fillPrice, commission,
		sig.Reason, sig.ExitReason, uuid.New().String())
	e.record(sig, res.Executed)
}

// commission applies the rate with the min/max caps.
func (e *Engine) commission(amount float64) float64 {
	c := amount * e.cfg.Execution.CommissionRate
	c = math.Max(c, e.cfg.Execution.MinCommission)
	return math.Min(c, e.cfg.Execution.MaxCommission)
}

// record appends the signal with its execution outcome to the run history.
func (e *Engine) record(sig *domain.Signal, executed bool) {
	e.signals = append(e.signals, results.SignalRecord{Signal: *sig, Executed: executed})
}
