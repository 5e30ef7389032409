package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/divcap/internal/domain"
	"github.com/aristath/divcap/internal/portfolio"
	"github.com/aristath/divcap/internal/position"
)

// Report is the full JSON document exported for one run.
type Report struct {
	Run       Run                       `json:"run"`
	Trades    []domain.Trade            `json:"trades"`
	Positions []position.Summary        `json:"positions"`
	Snapshots []portfolio.DailySnapshot `json:"snapshots"`
	Signals   []SignalRecord            `json:"signals"`
}

// ExportJSON writes a run's full report to <dir>/run_<id>.json and returns
// the file path.
func (r *Repository) ExportJSON(runID, dir string) (string, error) {
	run, err := r.GetRun(runID)
	if err != nil {
		return "", err
	}
	if run == nil {
		return "", fmt.Errorf("run %s not found", runID)
	}

	report := Report{Run: *run}
	if report.Trades, err = r.Trades(runID); err != nil {
		return "", err
	}
	if report.Positions, err = r.Positions(runID); err != nil {
		return "", err
	}
	if report.Snapshots, err = r.Snapshots(runID); err != nil {
		return "", err
	}
	if report.Signals, err = r.Signals(runID); err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("run_%s.json", runID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	r.log.Info().Str("path", path).Msg("Report exported")
	return path, nil
}
