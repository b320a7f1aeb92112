package reconcile

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vaulted-markets/orchestrator/pkg/logger"
)

// DefaultSweepSchedule runs a full reconcile pass every five minutes.
const DefaultSweepSchedule = "*/5 * * * *"

// Sweeper runs periodic full reconcile passes on a cron schedule.
type Sweeper struct {
	rec      *Reconciler
	cron     *cron.Cron
	schedule string
	timeout  time.Duration
	log      *logger.Logger
}

// NewSweeper creates a sweeper. An empty schedule uses the default.
func NewSweeper(rec *Reconciler, schedule string, timeout time.Duration, log *logger.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if log == nil {
		log = logger.NewDefault("reconcile-sweep")
	}
	return &Sweeper{
		rec:      rec,
		cron:     cron.New(),
		schedule: schedule,
		timeout:  timeout,
		log:      log,
	}
}

// Start schedules the sweep and begins running it in the background.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		start := time.Now()
		if err := s.rec.ReconcileAll(ctx); err != nil {
			s.log.WithError(err).Error("sweep completed with errors")
			return
		}
		s.log.WithField("elapsed", time.Since(start).String()).Info("sweep completed")
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
