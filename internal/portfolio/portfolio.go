// Package portfolio owns the cash ledger for one backtest run and delegates
// position bookkeeping to the position registry. It executes buy and sell
// instructions, credits dividends, and produces the daily mark-to-market
// series and final performance metrics.
package portfolio

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/divcap/internal/domain"
	"github.com/aristath/divcap/internal/position"
)

// RejectReason classifies why an execution was declined. These are expected,
// frequently-occurring outcomes in normal simulation flow, so they are
// reported as result values rather than errors.
type RejectReason string

const (
	RejectNone             RejectReason = ""
	RejectInsufficientCash RejectReason = "INSUFFICIENT_CASH"
	RejectDuplicateEntry   RejectReason = "DUPLICATE_ENTRY"
	RejectNoPosition       RejectReason = "NO_POSITION"
)

// ExecutionResult reports the outcome of a buy or sell instruction.
type ExecutionResult struct {
	Executed bool
	Reject   RejectReason
	Trade    domain.Trade
	Position *position.Position
}

// DailySnapshot is one row of the daily valuation series.
type DailySnapshot struct {
	Date              time.Time `json:"date"`
	Cash              float64   `json:"cash"`
	PositionsValue    float64   `json:"positions_value"`
	TotalValue        float64   `json:"total_value"`
	DailyReturn       float64   `json:"daily_return"`
	CumulativeReturn  float64   `json:"cumulative_return"`
	OpenPositionCount int       `json:"open_position_count"`
}

// Portfolio owns the run's cash and daily history. All mutation goes through
// the execution methods; there are no concurrent writers.
type Portfolio struct {
	initialCapital float64
	cash           float64
	registry       *position.Registry
	history        []DailySnapshot

	totalTrades     int
	winningTrades   int
	losingTrades    int
	totalCommission float64
	totalDividend   float64

	log zerolog.Logger
}

// New creates a portfolio with the given starting capital.
func New(initialCapital float64, log zerolog.Logger) *Portfolio {
	return &Portfolio{
		initialCapital: initialCapital,
		cash:           initialCapital,
		registry:       position.NewRegistry(log),
		log:            log.With().Str("component", "portfolio").Logger(),
	}
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() float64 {
	return p.cash
}

// InitialCapital returns the starting capital.
func (p *Portfolio) InitialCapital() float64 {
	return p.initialCapital
}

// Registry exposes the position registry for read-side queries.
func (p *Portfolio) Registry() *position.Registry {
	return p.registry
}

// History returns the daily snapshot series recorded so far.
func (p *Portfolio) History() []DailySnapshot {
	return p.history
}

// ExecuteBuy executes a buy instruction. Routing between opening a new
// position and increasing an existing one dispatches on the signal kind:
// an ENTRY against an already-open position is rejected as a duplicate, and
// only an ADD is applied as an addition. The reason string is never
// inspected.
func (p *Portfolio) ExecuteBuy(trade domain.Trade, kind domain.SignalKind, div *domain.DividendInfo) ExecutionResult {
	required := trade.Price*float64(trade.Shares) + trade.Commission
	if required > p.cash {
		p.log.Warn().
			Str("instrument", trade.Instrument).
			Float64("required", required).
			Float64("available", p.cash).
			Msg("Buy rejected: insufficient cash")
		return ExecutionResult{Reject: RejectInsufficientCash}
	}

	var pos *position.Position
	var err error

	if existing := p.registry.Get(trade.Instrument); existing != nil {
		if kind != domain.SignalAdd {
			p.log.Warn().
				Str("instrument", trade.Instrument).
				Str("kind", string(kind)).
				Msg("Buy rejected: position already open")
			return ExecutionResult{Reject: RejectDuplicateEntry}
		}
		pos, err = p.registry.Add(trade)
	} else {
		pos, err = p.registry.Open(trade, div)
	}
	if err != nil {
		// Registry-level failures surface as rejections, cash untouched
		p.log.Error().Err(err).Str("instrument", trade.Instrument).Msg("Buy failed")
		return ExecutionResult{Reject: RejectDuplicateEntry}
	}

	p.cash -= required
	p.totalCommission += trade.Commission
	p.totalTrades++

	p.log.Info().
		Str("instrument", trade.Instrument).
		Int("shares", trade.Shares).
		Float64("price", trade.Price).
		Float64("cash", p.cash).
		Msg("Buy executed")

	return ExecutionResult{Executed: true, Trade: trade, Position: pos}
}

// ExecuteSell sells the entire current share count of the instrument's open
// position at the given price. Partial sells are not modeled.
func (p *Portfolio) ExecuteSell(instrument string, date time.Time, price, commission float64, reason string, exitReason domain.ExitReason, tradeID string) ExecutionResult {
	pos := p.registry.Get(instrument)
	if pos == nil {
		p.log.Warn().Str("instrument", instrument).Msg("Sell rejected: no open position")
		return ExecutionResult{Reject: RejectNoPosition}
	}

	shares := pos.Shares
	trade := domain.Trade{
		ID:          tradeID,
		Date:        date,
		Instrument:  instrument,
		Side:        domain.SideSell,
		Price:       price,
		Shares:      shares,
		Commission:  commission,
		GrossAmount: price*float64(shares) - commission,
		Reason:      reason,
	}

	closed, err := p.registry.Close(trade, exitReason)
	if err != nil {
		p.log.Error().Err(err).Str("instrument", instrument).Msg("Sell failed")
		return ExecutionResult{Reject: RejectNoPosition}
	}

	p.cash += trade.GrossAmount
	p.totalCommission += commission
	p.totalTrades++

	if closed.RealizedPnL > 0 {
		p.winningTrades++
	} else {
		p.losingTrades++
	}

	p.log.Info().
		Str("instrument", instrument).
		Int("shares", shares).
		Float64("price", price).
		Float64("realized_pnl", closed.RealizedPnL).
		Msg("Sell executed")

	return ExecutionResult{Executed: true, Trade: trade, Position: closed}
}

// CreditDividend credits dividendPerShare times the open share count to cash
// and accumulates it into the position's bookkeeping. No-op when the
// instrument has no open position.
func (p *Portfolio) CreditDividend(instrument string, dividendPerShare float64, date time.Time) bool {
	pos := p.registry.Get(instrument)
	if pos == nil {
		return false
	}
	p.CreditDividendAmount(instrument, dividendPerShare*float64(pos.Shares), date)
	return true
}

// CreditDividendAmount credits a fixed dividend amount to cash. The amount is
// attributed to the instrument's open position when one exists; a payment
// arriving after the position closed still reaches cash, since the
// entitlement was earned by holding through the ex-date.
func (p *Portfolio) CreditDividendAmount(instrument string, amount float64, date time.Time) {
	p.cash += amount
	p.totalDividend += amount

	if pos := p.registry.Get(instrument); pos != nil {
		pos.CreditDividend(amount)
	}

	p.log.Info().
		Str("instrument", instrument).
		Float64("amount", amount).
		Str("date", date.Format("2006-01-02")).
		Msg("Dividend credited")
}

// MarkToMarket values the portfolio at the given prices and appends a daily
// snapshot. The first snapshot's daily return is zero.
func (p *Portfolio) MarkToMarket(date time.Time, prices map[string]float64) DailySnapshot {
	positionsValue := p.registry.MarketValue(prices)
	totalValue := p.cash + positionsValue

	dailyReturn := 0.0
	if len(p.history) > 0 {
		prev := p.history[len(p.history)-1].TotalValue
		if prev > 0 {
			dailyReturn = (totalValue - prev) / prev
		}
	}

	snapshot := DailySnapshot{
		Date:              date,
		Cash:              p.cash,
		PositionsValue:    positionsValue,
		TotalValue:        totalValue,
		DailyReturn:       dailyReturn,
		CumulativeReturn:  (totalValue - p.initialCapital) / p.initialCapital,
		OpenPositionCount: p.registry.OpenCount(),
	}
	p.history = append(p.history, snapshot)

	return snapshot
}
