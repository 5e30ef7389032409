package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/divcap/internal/config"
	"github.com/aristath/divcap/internal/domain"
	"github.com/aristath/divcap/internal/results"
)

// RerunJob re-executes the backtest over the loaded data and persists the
// run. Registered with the scheduler in serve mode so result history keeps
// accumulating as configuration or data evolves on disk.
type RerunJob struct {
	cfg      *config.Config
	provider domain.DataProvider
	repo     *results.Repository
	log      zerolog.Logger
}

// NewRerunJob creates the scheduled re-run job.
func NewRerunJob(cfg *config.Config, provider domain.DataProvider, repo *results.Repository, log zerolog.Logger) *RerunJob {
	return &RerunJob{cfg: cfg, provider: provider, repo: repo, log: log}
}

// Name identifies the job in scheduler logs.
func (j *RerunJob) Name() string {
	return "backtest-rerun"
}

// Run executes one backtest and saves the results.
func (j *RerunJob) Run() error {
	eng := New(j.cfg, j.provider, j.log)

	out, err := eng.Run(context.Background())
	if err != nil {
		return err
	}

	runID, err := j.repo.SaveRun(out)
	if err != nil {
		return err
	}

	j.log.Info().Str("run_id", runID).Msg("Scheduled backtest run saved")
	return nil
}
