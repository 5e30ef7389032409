package marketdata

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/divcap/internal/calendar"
	"github.com/aristath/divcap/internal/database"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(zerolog.Nop())
}

func TestPriceOnExactAndBackfill(t *testing.T) {
	s := testStore(t)
	s.SetPrices("7203", []PricePoint{
		{Date: calendar.Date(2023, time.June, 1), Close: 2000},
		{Date: calendar.Date(2023, time.June, 2), Close: 2010},
		{Date: calendar.Date(2023, time.June, 5), Close: 2050},
	})

	price, ok := s.PriceOn("7203", calendar.Date(2023, time.June, 2))
	require.True(t, ok)
	assert.Equal(t, 2010.0, price)

	// Weekend dates fall back to the Friday close
	price, ok = s.PriceOn("7203", calendar.Date(2023, time.June, 4))
	require.True(t, ok)
	assert.Equal(t, 2010.0, price)

	// Before the series starts there is nothing to serve
	_, ok = s.PriceOn("7203", calendar.Date(2023, time.May, 31))
	assert.False(t, ok)

	_, ok = s.PriceOn("9999", calendar.Date(2023, time.June, 2))
	assert.False(t, ok)
}

func TestNextDividend(t *testing.T) {
	s := testStore(t)
	s.SetDividends("7203", []DividendEvent{
		{ExDate: calendar.Date(2023, time.March, 29), RecordDate: calendar.Date(2023, time.March, 31), AmountPerShare: 50},
		{ExDate: calendar.Date(2023, time.September, 27), RecordDate: calendar.Date(2023, time.September, 29), AmountPerShare: 55},
	})

	div := s.NextDividend("7203", calendar.Date(2023, time.January, 1))
	require.NotNil(t, div)
	assert.Equal(t, calendar.Date(2023, time.March, 31), div.RecordDate)
	assert.Equal(t, 50.0, div.AmountPerShare)

	// Strictly after: the March record date itself moves past March
	div = s.NextDividend("7203", calendar.Date(2023, time.March, 31))
	require.NotNil(t, div)
	assert.Equal(t, 55.0, div.AmountPerShare)

	assert.Nil(t, s.NextDividend("7203", calendar.Date(2023, time.December, 1)))
	assert.Nil(t, s.NextDividend("9999", calendar.Date(2023, time.January, 1)))
}

func TestValidate(t *testing.T) {
	s := testStore(t)
	s.SetPrices("7203", []PricePoint{
		{Date: calendar.Date(2023, time.June, 1), Close: 2000},
		{Date: calendar.Date(2023, time.June, 2), Close: -5},   // bad value
		{Date: calendar.Date(2023, time.June, 5), Close: 2050},
	})
	s.SetDividends("7203", []DividendEvent{
		{ExDate: calendar.Date(2023, time.March, 29), RecordDate: calendar.Date(2023, time.March, 31), AmountPerShare: 50},
	})

	// Missing instrument in the universe is fatal
	report := s.Validate([]string{"7203", "6758"})
	require.Error(t, report.Err())
	assert.Contains(t, report.Errors[0], "6758")
	assert.NotEmpty(t, report.Warnings)

	// Same data restricted to the loaded instrument: warnings only
	report = s.Validate([]string{"7203"})
	assert.NoError(t, report.Err())
	assert.NotEmpty(t, report.Warnings)
}

func TestValidateExtremeMoveWarning(t *testing.T) {
	s := testStore(t)
	s.SetPrices("6758", []PricePoint{
		{Date: calendar.Date(2023, time.June, 1), Close: 1000},
		{Date: calendar.Date(2023, time.June, 2), Close: 1600}, // +60%
	})

	report := s.Validate(nil)
	assert.NoError(t, report.Err())

	found := false
	for _, w := range report.Warnings {
		if w == "6758: 1 single-day moves over 50%" {
			found = true
		}
	}
	assert.True(t, found, "expected extreme move warning, got %v", report.Warnings)
}

func TestCacheRoundTrip(t *testing.T) {
	s := testStore(t)
	s.SetPrices("7203", []PricePoint{
		{Date: calendar.Date(2023, time.June, 1), Close: 2000},
		{Date: calendar.Date(2023, time.June, 2), Close: 2010},
	})
	s.SetDividends("7203", []DividendEvent{
		{ExDate: calendar.Date(2023, time.March, 29), RecordDate: calendar.Date(2023, time.March, 31), AmountPerShare: 50},
	})

	path := filepath.Join(t.TempDir(), "cache", "history.msgpack")
	require.NoError(t, s.SaveCache(path))

	loaded := testStore(t)
	require.NoError(t, loaded.LoadCache(path))

	price, ok := loaded.PriceOn("7203", calendar.Date(2023, time.June, 2))
	require.True(t, ok)
	assert.Equal(t, 2010.0, price)

	div := loaded.NextDividend("7203", calendar.Date(2023, time.January, 1))
	require.NotNil(t, div)
	assert.Equal(t, 50.0, div.AmountPerShare)
}

func TestRepositoryRoundTrip(t *testing.T) {
	db, err := database.New(database.Config{
		Path:    "file:history_test?mode=memory&cache=shared",
		Profile: database.ProfileCache,
		Name:    "history",
	})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate(Schema))

	repo := NewRepository(db, zerolog.Nop())

	require.NoError(t, repo.UpsertPrice("7203", calendar.Date(2023, time.June, 1), 2000))
	require.NoError(t, repo.UpsertPrice("7203", calendar.Date(2023, time.June, 2), 2010))
	// Upsert replaces in place
	require.NoError(t, repo.UpsertPrice("7203", calendar.Date(2023, time.June, 2), 2015))

	require.NoError(t, repo.UpsertDividend("7203", DividendEvent{
		ExDate:         calendar.Date(2023, time.March, 29),
		AmountPerShare: 50, // record date derived under T+2
	}))

	store, err := repo.LoadStore([]string{"7203"},
		calendar.Date(2023, time.January, 1), calendar.Date(2023, time.December, 31), zerolog.Nop())
	require.NoError(t, err)

	price, ok := store.PriceOn("7203", calendar.Date(2023, time.June, 2))
	require.True(t, ok)
	assert.Equal(t, 2015.0, price)

	div := store.NextDividend("7203", calendar.Date(2023, time.January, 1))
	require.NotNil(t, div)
	assert.Equal(t, calendar.Date(2023, time.March, 31), div.RecordDate)
}
