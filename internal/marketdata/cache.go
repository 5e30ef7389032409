package marketdata

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshot is the on-disk shape of a store.
type snapshot struct {
	Prices    map[string][]PricePoint    `msgpack:"prices"`
	Dividends map[string][]DividendEvent `msgpack:"dividends"`
}

// SaveCache writes the store's series to a msgpack snapshot so later runs
// over the same window can skip the database load.
func (s *Store) SaveCache(path string) error {
	data, err := msgpack.Marshal(snapshot{Prices: s.prices, Dividends: s.dividends})
	if err != nil {
		return fmt.Errorf("failed to encode market data cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Write-then-rename so a crash never leaves a torn cache file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write market data cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize market data cache: %w", err)
	}

	s.log.Info().Str("path", path).Int("bytes", len(data)).Msg("Market data cache saved")
	return nil
}

// LoadCache replaces the store's series from a msgpack snapshot.
func (s *Store) LoadCache(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read market data cache: %w", err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode market data cache: %w", err)
	}

	s.prices = make(map[string][]PricePoint, len(snap.Prices))
	for instrument, series := range snap.Prices {
		s.SetPrices(instrument, series)
	}
	s.dividends = make(map[string][]DividendEvent, len(snap.Dividends))
	for instrument, events := range snap.Dividends {
		s.SetDividends(instrument, events)
	}

	s.log.Info().Str("path", path).Int("instruments", len(s.prices)).Msg("Market data cache loaded")
	return nil
}
