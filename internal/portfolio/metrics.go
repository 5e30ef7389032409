package portfolio

import (
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Trading days per year used for annualization.
const tradingDaysPerYear = 252

// Risk-free rate assumed for the Sharpe ratio.
const riskFreeRate = 0.01

// Metrics is the final performance record for a completed run.
// ProfitFactor is +Inf when the run has no losing positions.
type Metrics struct {
	TotalReturn          float64 `json:"total_return"`
	AnnualizedReturn     float64 `json:"annualized_return"`
	AnnualizedVolatility float64 `json:"annualized_volatility"`
	SharpeRatio          float64 `json:"sharpe_ratio"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	WinRate              float64 `json:"win_rate"`
	ProfitFactor         float64 `json:"profit_factor"`
	TotalTrades          int     `json:"total_trades"`
	WinningTrades        int     `json:"winning_trades"`
	LosingTrades         int     `json:"losing_trades"`
	TotalCommission      float64 `json:"total_commission"`
	TotalDividend        float64 `json:"total_dividend"`
	FinalValue           float64 `json:"final_value"`
}

// MarshalJSON encodes the metrics, mapping a non-finite profit factor to
// null since JSON has no representation for infinity.
func (m Metrics) MarshalJSON() ([]byte, error) {
	type alias Metrics
	out := struct {
		alias
		ProfitFactor *float64 `json:"profit_factor"`
	}{alias: alias(m)}

	if !math.IsInf(m.ProfitFactor, 0) && !math.IsNaN(m.ProfitFactor) {
		pf := m.ProfitFactor
		out.ProfitFactor = &pf
	}

	return json.Marshal(out)
}

// Metrics computes the run's performance metrics from the daily history and
// the closed positions.
func (p *Portfolio) Metrics() Metrics {
	m := Metrics{
		TotalTrades:     p.totalTrades,
		WinningTrades:   p.winningTrades,
		LosingTrades:    p.losingTrades,
		TotalCommission: p.totalCommission,
		TotalDividend:   p.totalDividend,
	}

	if len(p.history) == 0 {
		return m
	}

	m.FinalValue = p.history[len(p.history)-1].TotalValue
	m.TotalReturn = (m.FinalValue - p.initialCapital) / p.initialCapital

	totalClosed := p.winningTrades + p.losingTrades
	if totalClosed > 0 {
		m.WinRate = float64(p.winningTrades) / float64(totalClosed)
	}

	// Daily-return statistics over every day after the first snapshot
	var returns []float64
	for _, snap := range p.history[1:] {
		returns = append(returns, snap.DailyReturn)
	}

	if len(returns) > 0 {
		meanReturn := stat.Mean(returns, nil)
		m.AnnualizedReturn = math.Pow(1+meanReturn, tradingDaysPerYear) - 1

		dailyVol := stat.StdDev(returns, nil)
		if math.IsNaN(dailyVol) {
			dailyVol = 0
		}
		m.AnnualizedVolatility = dailyVol * math.Sqrt(tradingDaysPerYear)

		if m.AnnualizedVolatility > 0 {
			m.SharpeRatio = (m.AnnualizedReturn - riskFreeRate) / m.AnnualizedVolatility
		}
	}

	m.MaxDrawdown = maxDrawdown(p.history)
	m.ProfitFactor = p.profitFactor()

	return m
}

// maxDrawdown returns the most negative peak-to-trough decline over the
// total-value series. Zero or negative; zero when the series never declines.
func maxDrawdown(history []DailySnapshot) float64 {
	runningMax := math.Inf(-1)
	worst := 0.0

	for _, snap := range history {
		if snap.TotalValue > runningMax {
			runningMax = snap.TotalValue
		}
		if runningMax > 0 {
			drawdown := (snap.TotalValue - runningMax) / runningMax
			if drawdown < worst {
				worst = drawdown
			}
		}
	}

	return worst
}

// profitFactor is gross profit over absolute gross loss across closed
// positions: +Inf when there are profits but no losses, zero when nothing
// has closed.
func (p *Portfolio) profitFactor() float64 {
	var profits, losses float64
	for _, pos := range p.registry.ClosedPositions() {
		if pos.RealizedPnL > 0 {
			profits += pos.RealizedPnL
		} else {
			losses += -pos.RealizedPnL
		}
	}

	if losses > 0 {
		return profits / losses
	}
	if profits > 0 {
		return math.Inf(1)
	}
	return 0
}
