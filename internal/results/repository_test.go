package results

import (
	"encoding/json"
	"math"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/divcap/internal/calendar"
	"github.com/aristath/divcap/internal/database"
	"github.com/aristath/divcap/internal/domain"
	"github.com/aristath/divcap/internal/portfolio"
	"github.com/aristath/divcap/internal/position"
)

func testRepository(t *testing.T) *Repository {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    "file:results_" + t.Name() + "?mode=memory&cache=shared",
		Profile: database.ProfileStandard,
		Name:    "results",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(Schema))

	return NewRepository(db, zerolog.Nop())
}

func sampleInput() RunInput {
	day0 := calendar.Date(2023, time.March, 28)
	return RunInput{
		StartDate:      calendar.Date(2023, time.January, 4),
		EndDate:        calendar.Date(2023, time.December, 29),
		InitialCapital: 10_000_000,
		ConfigJSON:     []byte(`{"strategy":{"entry":{"days_before_record":3}}}`),
		Metrics: portfolio.Metrics{
			TotalReturn:   0.0049,
			FinalValue:    10_049_000,
			TotalTrades:   2,
			WinningTrades: 1,
			WinRate:       1.0,
			ProfitFactor:  math.Inf(1),
		},
		Trades: []domain.Trade{
			{Date: day0, ID: "t-1", Instrument: "7203", Side: domain.SideBuy, Reason: "Dividend capture entry",
				Price: 2000, Shares: 500, Commission: 500, GrossAmount: 1_000_500},
			{Date: day0.AddDate(0, 0, 10), ID: "t-2", Instrument: "7203", Side: domain.SideSell, Reason: "Window filled",
				Price: 2100, Shares: 500, Commission: 500, GrossAmount: 1_049_500},
		},
		Positions: []position.Summary{
			{Instrument: "7203", Status: "CLOSED", EntryDate: "2023-03-28", EntryPrice: 2000, AverageCost: 2001,
				ExitDate: "2023-04-11", ExitPrice: 2100, ExitReason: "WINDOW_FILLED",
				RealizedPnL: 49_000, TotalCommission: 1000, TradeCount: 2},
		},
		Snapshots: []portfolio.DailySnapshot{
			{Date: day0, Cash: 8_999_500, PositionsValue: 1_000_000, TotalValue: 9_999_500, OpenPositionCount: 1},
			{Date: day0.AddDate(0, 0, 1), Cash: 8_999_500, PositionsValue: 1_025_000, TotalValue: 10_024_500,
				DailyReturn: 0.0025, OpenPositionCount: 1},
		},
		Signals: []SignalRecord{
			{Signal: domain.Signal{Date: day0, Instrument: "7203", Kind: domain.SignalEntry,
				Reason: "Dividend capture entry", Price: 2000, Shares: 500}, Executed: true},
			{Signal: domain.Signal{Date: day0, Instrument: "6758", Kind: domain.SignalEntry,
				Reason: "Dividend capture entry", Price: 12000, Shares: 100}, Executed: false},
		},
	}
}

func TestSaveAndReadRun(t *testing.T) {
	repo := testRepository(t)

	runID, err := repo.SaveRun(sampleInput())
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	run, err := repo.GetRun(runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, calendar.Date(2023, time.January, 4), run.StartDate)
	assert.InDelta(t, 10_000_000, run.InitialCapital, 1e-9)
	assert.InDelta(t, 0.0049, run.Metrics.TotalReturn, 1e-9)
	assert.Equal(t, 2, run.Metrics.TotalTrades)

	trades, err := repo.Trades(runID)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, domain.SideBuy, trades[0].Side)
	assert.Equal(t, "t-2", trades[1].ID)

	positions, err := repo.Positions(runID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "WINDOW_FILLED", positions[0].ExitReason)
	assert.InDelta(t, 49_000, positions[0].RealizedPnL, 1e-9)

	snaps, err := repo.Snapshots(runID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.InDelta(t, 0.0025, snaps[1].DailyReturn, 1e-9)

	signals, err := repo.Signals(runID)
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.True(t, signals[0].Executed)
	assert.False(t, signals[1].Executed)
	assert.Equal(t, domain.SignalEntry, signals[1].Kind)
}

func TestListRunsNewestFirst(t *testing.T) {
	repo := testRepository(t)

	first, err := repo.SaveRun(sampleInput())
	require.NoError(t, err)

	second, err := repo.SaveRun(sampleInput())
	require.NoError(t, err)

	runs, err := repo.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	// Same timestamp resolution can tie; both IDs must be present
	ids := []string{runs[0].ID, runs[1].ID}
	assert.Contains(t, ids, first)
	assert.Contains(t, ids, second)
}

func TestGetRunMissing(t *testing.T) {
	repo := testRepository(t)

	run, err := repo.GetRun("no-such-run")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestExportJSON(t *testing.T) {
	repo := testRepository(t)

	runID, err := repo.SaveRun(sampleInput())
	require.NoError(t, err)

	path, err := repo.ExportJSON(runID, t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var report Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, runID, report.Run.ID)
	assert.Len(t, report.Trades, 2)
	// Infinite profit factor must round-trip as null, decoded back to zero
	assert.Zero(t, report.Run.Metrics.ProfitFactor)
}
