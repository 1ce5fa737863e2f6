package metrics

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// StatsJob periodically logs a one-line summary of the Recorder's frame
// counters on a configurable interval in seconds; an interval of 0
// disables it entirely.
type StatsJob struct {
	cron   *cron.Cron
	log    *slog.Logger
	record *Recorder
}

// NewStatsJob builds (but does not start) a cron scheduler that logs one
// stats line every intervalSeconds. intervalSeconds <= 0 disables the job
// entirely and NewStatsJob returns nil.
func NewStatsJob(intervalSeconds int, record *Recorder, log *slog.Logger) (*StatsJob, error) {
	if intervalSeconds <= 0 {
		return nil, nil
	}
	if log == nil {
		log = slog.Default()
	}
	if record == nil {
		record = Default()
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelDebug))))
	job := &StatsJob{cron: c, log: log.With("component", "stats-job"), record: record}

	spec := fmt.Sprintf("@every %ds", intervalSeconds)
	if _, err := c.AddFunc(spec, job.logStats); err != nil {
		return nil, fmt.Errorf("metrics: scheduling stats job: %w", err)
	}
	return job, nil
}

func (j *StatsJob) logStats() {
	framesIn, framesOut, framesRepeated, inSeq := j.record.FrameCounts()
	rebuilds, rebuildFailures := j.record.Rebuilds()
	j.log.Info(fmt.Sprintf("in=%d out=%d repeated=%d", framesIn, framesOut, framesRepeated),
		"in_seq", inSeq,
		"rebuilds", rebuilds,
		"rebuild_failures", rebuildFailures,
	)
}

// Start begins the cron scheduler.
func (j *StatsJob) Start() {
	j.cron.Start()
}

// Stop halts the scheduler and waits for any in-flight run to finish.
func (j *StatsJob) Stop() {
	<-j.cron.Stop().Done()
}
