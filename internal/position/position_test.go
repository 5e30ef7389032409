package position

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/divcap/internal/calendar"
	"github.com/aristath/divcap/internal/domain"
)

func buyTrade(instrument string, date time.Time, price float64, shares int, commission float64) domain.Trade {
	return domain.Trade{
		Date:        date,
		Instrument:  instrument,
		Side:        domain.SideBuy,
		Price:       price,
		Shares:      shares,
		Commission:  commission,
		GrossAmount: price*float64(shares) + commission,
	}
}

func sellTrade(instrument string, date time.Time, price float64, shares int, commission float64) domain.Trade {
	return domain.Trade{
		Date:        date,
		Instrument:  instrument,
		Side:        domain.SideSell,
		Price:       price,
		Shares:      shares,
		Commission:  commission,
		GrossAmount: price*float64(shares) - commission,
	}
}

func TestOpenSeedsSharesExactlyOnce(t *testing.T) {
	// Regression: opening with trade size S must yield S shares, never 2S.
	// The historical defect seeded the share count from the opening trade
	// and then re-applied the same trade through the addition path.
	trade := buyTrade("7203", calendar.Date(2023, time.March, 28), 2000, 500, 500)

	p, err := Open(trade, nil)
	require.NoError(t, err)

	assert.Equal(t, 500, p.Shares)
	assert.Len(t, p.Trades, 1)
	assert.Equal(t, domain.PositionOpen, p.Status)
	assert.InDelta(t, 2001.0, p.AverageCost, 1e-9) // (2000*500+500)/500
}

func TestOpenRejectsSellAndZeroShares(t *testing.T) {
	date := calendar.Date(2023, time.March, 28)

	_, err := Open(sellTrade("7203", date, 2000, 500, 500), nil)
	assert.Error(t, err)

	_, err = Open(buyTrade("7203", date, 2000, 0, 0), nil)
	assert.Error(t, err)
}

func TestShareConservation(t *testing.T) {
	date := calendar.Date(2023, time.March, 28)
	p, err := Open(buyTrade("7203", date, 2000, 500, 500), nil)
	require.NoError(t, err)

	require.NoError(t, p.ApplyAdd(buyTrade("7203", date.AddDate(0, 0, 1), 1950, 300, 300)))
	require.NoError(t, p.Close(sellTrade("7203", date.AddDate(0, 0, 10), 2100, 800, 500), domain.ExitWindowFilled))

	// shares == sum(buys) - sum(sells) at every recorded point
	running := 0
	for _, tr := range p.Trades {
		if tr.Side == domain.SideBuy {
			running += tr.Shares
		} else {
			running -= tr.Shares
		}
	}
	assert.Equal(t, 0, running)
	assert.Equal(t, 0, p.Shares)
	assert.Equal(t, domain.PositionClosed, p.Status)
}

func TestAdditionUpdatesWeightedAverageCost(t *testing.T) {
	date := calendar.Date(2023, time.March, 28)
	p, err := Open(buyTrade("7203", date, 2000, 500, 500), nil)
	require.NoError(t, err)

	preAvg := p.AverageCost
	add := buyTrade("7203", date.AddDate(0, 0, 1), 1950, 300, 300)
	require.NoError(t, p.ApplyAdd(add))

	assert.Equal(t, 800, p.Shares)
	assert.InDelta(t, 800.0, p.TotalCommission, 1e-9)

	// Weighted by gross trade amounts: (2000*500+500 + 1950*300+300) / 800
	assert.InDelta(t, 1982.25, p.AverageCost, 1e-9)

	// The new average lies strictly between the pre-addition average and
	// the addition's effective per-share cost.
	addUnitCost := add.GrossAmount / float64(add.Shares)
	assert.Less(t, p.AverageCost, preAvg)
	assert.Greater(t, p.AverageCost, addUnitCost)
}

func TestCloseComputesRealizedPnL(t *testing.T) {
	// Round trip from the reference scenario: entry 500@2000 commission 500,
	// exit 500@2100 commission 500 -> PnL 49,000.
	entry := calendar.Date(2023, time.March, 28)
	p, err := Open(buyTrade("7203", entry, 2000, 500, 500), nil)
	require.NoError(t, err)

	exit := calendar.AddBusinessDays(entry, 8)
	require.NoError(t, p.Close(sellTrade("7203", exit, 2100, 500, 500), domain.ExitWindowFilled))

	assert.InDelta(t, 49000.0, p.RealizedPnL, 1e-9)
	assert.Equal(t, exit, p.ExitDate)
	assert.Equal(t, 2100.0, p.ExitPrice)
	assert.Equal(t, domain.ExitWindowFilled, p.ExitReason)
	assert.InDelta(t, 1000.0, p.TotalCommission, 1e-9)
}

func TestCloseIncludesDividends(t *testing.T) {
	entry := calendar.Date(2023, time.March, 28)
	p, err := Open(buyTrade("7203", entry, 2000, 500, 500), &domain.DividendInfo{
		ExDate:         calendar.Date(2023, time.March, 29),
		RecordDate:     calendar.Date(2023, time.March, 31),
		AmountPerShare: 50,
	})
	require.NoError(t, err)

	p.CreditDividend(50 * 500)
	require.NoError(t, p.Close(sellTrade("7203", entry.AddDate(0, 0, 14), 1980, 500, 500), domain.ExitMaxHolding))

	// proceeds 989,500 - cost 1,000,500 + dividends 25,000
	assert.InDelta(t, 14000.0, p.RealizedPnL, 1e-9)
}

func TestCloseRejectsPartialExit(t *testing.T) {
	entry := calendar.Date(2023, time.March, 28)
	p, err := Open(buyTrade("7203", entry, 2000, 500, 500), nil)
	require.NoError(t, err)

	err = p.Close(sellTrade("7203", entry.AddDate(0, 0, 5), 2100, 200, 500), domain.ExitStopLoss)
	assert.Error(t, err)
	assert.Equal(t, domain.PositionOpen, p.Status)
	assert.Equal(t, 500, p.Shares)
}

func TestClosedPositionIsTerminal(t *testing.T) {
	entry := calendar.Date(2023, time.March, 28)
	p, err := Open(buyTrade("7203", entry, 2000, 500, 500), nil)
	require.NoError(t, err)
	require.NoError(t, p.Close(sellTrade("7203", entry.AddDate(0, 0, 5), 2100, 500, 500), domain.ExitWindowFilled))

	assert.Error(t, p.ApplyAdd(buyTrade("7203", entry.AddDate(0, 0, 6), 2000, 100, 100)))
	assert.Error(t, p.Close(sellTrade("7203", entry.AddDate(0, 0, 7), 2100, 0, 0), domain.ExitStopLoss))
}

func TestUnrealizedPnL(t *testing.T) {
	entry := calendar.Date(2023, time.March, 28)
	p, err := Open(buyTrade("7203", entry, 2000, 500, 500), nil)
	require.NoError(t, err)

	// (2050 - 2001) * 500
	assert.InDelta(t, 24500.0, p.UnrealizedPnL(2050), 1e-9)

	require.NoError(t, p.Close(sellTrade("7203", entry.AddDate(0, 0, 5), 2100, 500, 500), domain.ExitWindowFilled))
	assert.Zero(t, p.UnrealizedPnL(2100))
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	date := calendar.Date(2023, time.March, 28)

	_, err := reg.Open(buyTrade("7203", date, 2000, 500, 500), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.OpenCount())

	// Second open for the same instrument is rejected
	_, err = reg.Open(buyTrade("7203", date, 2000, 500, 500), nil)
	var alreadyOpen *AlreadyOpenError
	require.ErrorAs(t, err, &alreadyOpen)
	assert.Equal(t, "7203", alreadyOpen.Instrument)

	// Add to a missing instrument is rejected
	_, err = reg.Add(buyTrade("6758", date, 1000, 100, 100))
	var notOpen *NotOpenError
	require.ErrorAs(t, err, &notOpen)

	_, err = reg.Close(sellTrade("7203", date.AddDate(0, 0, 10), 2100, 500, 500), domain.ExitWindowFilled)
	require.NoError(t, err)

	assert.Equal(t, 0, reg.OpenCount())
	assert.Len(t, reg.ClosedPositions(), 1)
	assert.Len(t, reg.Trades(), 2)
}

func TestRegistryDeterministicIteration(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	date := calendar.Date(2023, time.March, 28)

	for _, instrument := range []string{"9984", "6758", "7203"} {
		_, err := reg.Open(buyTrade(instrument, date, 1000, 100, 100), nil)
		require.NoError(t, err)
	}

	var order []string
	for _, p := range reg.OpenPositions() {
		order = append(order, p.Instrument)
	}
	assert.Equal(t, []string{"6758", "7203", "9984"}, order)
}

func TestRegistryMarketValue(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	date := calendar.Date(2023, time.March, 28)

	_, err := reg.Open(buyTrade("7203", date, 2000, 500, 500), nil)
	require.NoError(t, err)
	_, err = reg.Open(buyTrade("6758", date, 1000, 200, 200), nil)
	require.NoError(t, err)

	prices := map[string]float64{"7203": 2050, "6758": 990}
	assert.InDelta(t, 2050*500+990*200, reg.MarketValue(prices), 1e-9)

	// Missing price contributes nothing
	assert.InDelta(t, 2050*500, reg.MarketValue(map[string]float64{"7203": 2050}), 1e-9)
}
