// Package position owns the mutable state of holdings: the lifecycle of a
// single position and the registry of all open and closed positions.
package position

import (
	"fmt"
	"time"

	"github.com/aristath/divcap/internal/calendar"
	"github.com/aristath/divcap/internal/domain"
)

// Position is the mutable aggregate for one instrument's holding.
//
// A position is OPEN from the moment it is created until a full-size sell
// reduces its share count to zero, at which point it becomes CLOSED and is
// immutable thereafter.
type Position struct {
	Instrument string
	Status     domain.PositionStatus

	EntryDate   time.Time
	EntryPrice  float64
	Shares      int
	AverageCost float64 // weighted cost per share, defined only while Shares > 0

	Trades []domain.Trade

	// Dividend bookkeeping, attached at open time from the upcoming event
	ExDividendDate   time.Time
	RecordDate       time.Time
	DividendPerShare float64
	PreExPrice       float64 // close on the day before the ex-date, 0 until known
	DividendReceived float64

	// Exit bookkeeping, set on close
	ExitDate   time.Time
	ExitPrice  float64
	ExitReason domain.ExitReason

	RealizedPnL     float64
	TotalCommission float64
}

// Open creates a new position seeded directly from its opening buy trade.
//
// The opening trade is applied exactly once, here: the share count and
// average cost are taken from the trade itself and the trade is recorded,
// with no subsequent re-application. Seeding the state and then running the
// same trade through the addition path again would double the share count.
func Open(trade domain.Trade, div *domain.DividendInfo) (*Position, error) {
	if trade.Side != domain.SideBuy {
		return nil, fmt.Errorf("position must open with a buy trade, got %s", trade.Side)
	}
	if trade.Shares <= 0 {
		return nil, fmt.Errorf("opening trade must have positive shares, got %d", trade.Shares)
	}

	p := &Position{
		Instrument:  trade.Instrument,
		Status:      domain.PositionOpen,
		EntryDate:   trade.Date,
		EntryPrice:  trade.Price,
		Shares:      trade.Shares,
		AverageCost: trade.GrossAmount / float64(trade.Shares),
		Trades:      []domain.Trade{trade},

		TotalCommission: trade.Commission,
		ExitReason:      domain.ExitNone,
	}

	if div != nil {
		p.ExDividendDate = div.ExDate
		p.RecordDate = div.RecordDate
		p.DividendPerShare = div.AmountPerShare
	}

	return p, nil
}

// ApplyAdd applies an additional buy trade to an open position, updating the
// weighted average cost over gross trade amounts (commission included).
func (p *Position) ApplyAdd(trade domain.Trade) error {
	if p.Status != domain.PositionOpen {
		return fmt.Errorf("cannot add to %s position %s", p.Status, p.Instrument)
	}
	if trade.Side != domain.SideBuy {
		return fmt.Errorf("addition must be a buy trade, got %s", trade.Side)
	}
	if trade.Shares <= 0 {
		return fmt.Errorf("addition must have positive shares, got %d", trade.Shares)
	}

	totalCost := p.AverageCost*float64(p.Shares) + trade.GrossAmount
	p.Shares += trade.Shares
	p.AverageCost = totalCost / float64(p.Shares)
	p.TotalCommission += trade.Commission
	p.Trades = append(p.Trades, trade)

	return nil
}

// Close applies the single closing sell trade. The engine always sells the
// full position, so the trade's share count must equal the position's.
//
// Realized PnL is net proceeds minus the full cost basis (average cost times
// shares, which already carries the buy-side commissions) plus dividends
// received over the holding period.
func (p *Position) Close(trade domain.Trade, reason domain.ExitReason) error {
	if p.Status != domain.PositionOpen {
		return fmt.Errorf("cannot close %s position %s", p.Status, p.Instrument)
	}
	if trade.Side != domain.SideSell {
		return fmt.Errorf("close must be a sell trade, got %s", trade.Side)
	}
	if trade.Shares != p.Shares {
		return fmt.Errorf("partial exits are not modeled: sell of %d shares against position of %d", trade.Shares, p.Shares)
	}

	proceeds := trade.Price*float64(trade.Shares) - trade.Commission
	costBasis := p.AverageCost * float64(p.Shares)
	p.RealizedPnL = proceeds - costBasis + p.DividendReceived

	p.Shares = 0
	p.Status = domain.PositionClosed
	p.ExitDate = trade.Date
	p.ExitPrice = trade.Price
	p.ExitReason = reason
	p.TotalCommission += trade.Commission
	p.Trades = append(p.Trades, trade)

	return nil
}

// CreditDividend accumulates a dividend payment into the position's
// bookkeeping. The cash side is handled by the portfolio.
func (p *Position) CreditDividend(amount float64) {
	p.DividendReceived += amount
}

// UnrealizedPnL returns the mark-to-market gain or loss against average cost.
// Zero for closed positions.
func (p *Position) UnrealizedPnL(currentPrice float64) float64 {
	if p.Status == domain.PositionClosed || p.Shares == 0 {
		return 0
	}
	return (currentPrice - p.AverageCost) * float64(p.Shares)
}

// HoldingBusinessDays returns the business days held as of the given date,
// or as of the exit date for closed positions.
func (p *Position) HoldingBusinessDays(asOf time.Time) int {
	end := asOf
	if p.Status == domain.PositionClosed {
		end = p.ExitDate
	}
	return calendar.BusinessDaysBetween(p.EntryDate, end)
}

// InitialValue returns the entry price times the current share count, the
// base the addition budget is computed from.
func (p *Position) InitialValue() float64 {
	return p.EntryPrice * float64(p.Shares)
}

// Summary is the flat per-position record persisted for reporting.
type Summary struct {
	Instrument       string  `json:"instrument"`
	Status           string  `json:"status"`
	EntryDate        string  `json:"entry_date"`
	EntryPrice       float64 `json:"entry_price"`
	Shares           int     `json:"shares"`
	AverageCost      float64 `json:"average_cost"`
	ExitDate         string  `json:"exit_date,omitempty"`
	ExitPrice        float64 `json:"exit_price,omitempty"`
	ExitReason       string  `json:"exit_reason,omitempty"`
	RealizedPnL      float64 `json:"realized_pnl"`
	DividendReceived float64 `json:"dividend_received"`
	TotalCommission  float64 `json:"total_commission"`
	TradeCount       int     `json:"trade_count"`
}

// Summarize flattens the position into its reporting record.
func (p *Position) Summarize() Summary {
	s := Summary{
		Instrument:       p.Instrument,
		Status:           string(p.Status),
		EntryDate:        p.EntryDate.Format("2006-01-02"),
		EntryPrice:       p.EntryPrice,
		Shares:           p.Shares,
		AverageCost:      p.AverageCost,
		RealizedPnL:      p.RealizedPnL,
		DividendReceived: p.DividendReceived,
		TotalCommission:  p.TotalCommission,
		TradeCount:       len(p.Trades),
	}

	if p.Status == domain.PositionClosed {
		s.ExitDate = p.ExitDate.Format("2006-01-02")
		s.ExitPrice = p.ExitPrice
		s.ExitReason = string(p.ExitReason)
	}

	return s
}
