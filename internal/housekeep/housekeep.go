// Package housekeep runs the engine's periodic maintenance jobs — record
// store pruning and bus state snapshots — on cron schedules, replacing
// the teacher's timer-map scheduler with standard cron expressions.
package housekeep

import (
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/bus"
	"github.com/nugget/waymark/internal/opstate"
	"github.com/nugget/waymark/internal/store"
)

// Scheduler wraps a robfig/cron.Cron running the housekeeping jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
	state  *opstate.Store
}

// New builds a Scheduler. state may be nil, in which case jobs still run
// but their last-run bookkeeping isn't persisted across restarts. Jobs
// are added with AddPruneJob/AddSnapshotJob before calling Start.
func New(logger zerolog.Logger, state *opstate.Store) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger.With().Str("component", "housekeep").Logger(),
		state:  state,
	}
}

// recordRun persists job's completion in state, if a state store was
// given, so LastRun survives a restart.
func (s *Scheduler) recordRun(job string, at time.Time, result string) {
	if s.state == nil {
		return
	}
	if err := s.state.SetJobRun(job, at, result); err != nil {
		s.logger.Warn().Err(err).Str("job", job).Msg("failed to record job run")
	}
}

// LastRun reports when job last completed and what it reported, per the
// bookkeeping recordRun wrote. ok is false if job has never run or no
// state store was configured.
func (s *Scheduler) LastRun(job string) (at time.Time, result string, ok bool, err error) {
	if s.state == nil {
		return time.Time{}, "", false, nil
	}
	return s.state.JobRun(job)
}

// AddPruneJob schedules db.Prune(retain ago) on spec (standard 5-field
// cron syntax, e.g. "0 3 * * *" for daily at 03:00).
func (s *Scheduler) AddPruneJob(spec string, db *store.Store, retain time.Duration) error {
	_, err := s.cron.AddFunc(spec, func() {
		cutoff := time.Now().Add(-retain)
		n, err := db.Prune(cutoff)
		if err != nil {
			s.logger.Error().Err(err).Msg("record store prune failed")
			s.recordRun("prune", time.Now(), "error: "+err.Error())
			return
		}
		s.logger.Info().Int64("rows_removed", n).Time("cutoff", cutoff).Msg("record store pruned")
		s.recordRun("prune", time.Now(), strconv.FormatInt(n, 10)+" rows removed")
	})
	return err
}

// AddSnapshotJob schedules b.DumpState(dir) on spec.
func (s *Scheduler) AddSnapshotJob(spec string, b *bus.Bus, dir string) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := b.DumpState(dir); err != nil {
			s.logger.Error().Err(err).Str("dir", dir).Msg("bus state snapshot failed")
			s.recordRun("snapshot", time.Now(), "error: "+err.Error())
			return
		}
		s.logger.Info().Str("dir", dir).Msg("bus state snapshot written")
		s.recordRun("snapshot", time.Now(), "ok")
	})
	return err
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels future runs and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
