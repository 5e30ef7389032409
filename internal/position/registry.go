package position

import (
	"sort"

	"github.com/aristath/divcap/internal/domain"
	"github.com/rs/zerolog"
)

// Registry owns the set of all positions for one backtest run: the open
// positions keyed by instrument, the closed positions in close order, and
// the global ordered trade log.
//
// Iteration over open positions is in sorted instrument order so that two
// runs over identical inputs touch positions in the same order.
type Registry struct {
	open   map[string]*Position
	closed []*Position
	trades []domain.Trade
	log    zerolog.Logger
}

// NewRegistry creates an empty position registry
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		open: make(map[string]*Position),
		log:  log.With().Str("component", "positions").Logger(),
	}
}

// Open creates a new open position from its opening trade. Fails if a
// position for the instrument already exists.
func (r *Registry) Open(trade domain.Trade, div *domain.DividendInfo) (*Position, error) {
	if existing := r.open[trade.Instrument]; existing != nil {
		return nil, &AlreadyOpenError{Instrument: trade.Instrument}
	}

	p, err := Open(trade, div)
	if err != nil {
		return nil, err
	}

	r.open[trade.Instrument] = p
	r.trades = append(r.trades, trade)

	r.log.Info().
		Str("instrument", trade.Instrument).
		Int("shares", trade.Shares).
		Float64("price", trade.Price).
		Msg("Position opened")

	return p, nil
}

// Add applies an additional buy trade to the instrument's open position.
func (r *Registry) Add(trade domain.Trade) (*Position, error) {
	p := r.open[trade.Instrument]
	if p == nil {
		return nil, &NotOpenError{Instrument: trade.Instrument}
	}

	if err := p.ApplyAdd(trade); err != nil {
		return nil, err
	}
	r.trades = append(r.trades, trade)

	r.log.Info().
		Str("instrument", trade.Instrument).
		Int("shares", trade.Shares).
		Float64("price", trade.Price).
		Float64("average_cost", p.AverageCost).
		Msg("Position increased")

	return p, nil
}

// Close applies the closing sell trade and moves the position to the closed
// list. Returns the closed position.
func (r *Registry) Close(trade domain.Trade, reason domain.ExitReason) (*Position, error) {
	p := r.open[trade.Instrument]
	if p == nil {
		return nil, &NotOpenError{Instrument: trade.Instrument}
	}

	if err := p.Close(trade, reason); err != nil {
		return nil, err
	}

	r.trades = append(r.trades, trade)
	delete(r.open, trade.Instrument)
	r.closed = append(r.closed, p)

	r.log.Info().
		Str("instrument", trade.Instrument).
		Float64("realized_pnl", p.RealizedPnL).
		Str("exit_reason", string(reason)).
		Msg("Position closed")

	return p, nil
}

// Get returns the open position for the instrument, or nil.
func (r *Registry) Get(instrument string) *Position {
	return r.open[instrument]
}

// OpenPositions returns the open positions in sorted instrument order.
func (r *Registry) OpenPositions() []*Position {
	instruments := make([]string, 0, len(r.open))
	for instrument := range r.open {
		instruments = append(instruments, instrument)
	}
	sort.Strings(instruments)

	positions := make([]*Position, 0, len(instruments))
	for _, instrument := range instruments {
		positions = append(positions, r.open[instrument])
	}
	return positions
}

// ClosedPositions returns closed positions in close order.
func (r *Registry) ClosedPositions() []*Position {
	return r.closed
}

// OpenCount returns the number of open positions.
func (r *Registry) OpenCount() int {
	return len(r.open)
}

// MarketValue sums price*shares over open positions using the supplied
// price map. Instruments missing from the map contribute nothing.
func (r *Registry) MarketValue(prices map[string]float64) float64 {
	total := 0.0
	for instrument, p := range r.open {
		if price, ok := prices[instrument]; ok {
			total += price * float64(p.Shares)
		}
	}
	return total
}

// Trades returns the global trade log in execution order.
func (r *Registry) Trades() []domain.Trade {
	return r.trades
}

// Summaries returns one reporting record per position, open positions first
// (sorted by instrument), then closed positions in close order.
func (r *Registry) Summaries() []Summary {
	summaries := make([]Summary, 0, len(r.open)+len(r.closed))
	for _, p := range r.OpenPositions() {
		summaries = append(summaries, p.Summarize())
	}
	for _, p := range r.closed {
		summaries = append(summaries, p.Summarize())
	}
	return summaries
}

// AlreadyOpenError reports an attempt to open a second position for an
// instrument that already has one.
type AlreadyOpenError struct {
	Instrument string
}

func (e *AlreadyOpenError) Error() string {
	return "position already open for " + e.Instrument
}

// NotOpenError reports an operation against an instrument with no open
// position.
type NotOpenError struct {
	Instrument string
}

func (e *NotOpenError) Error() string {
	return "no open position for " + e.Instrument
}
