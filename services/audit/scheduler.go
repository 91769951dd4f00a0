package audit

import (
	"context"
	"time"

	"licensing-controlplane/pkg/task"
	"licensing-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	scanHour   = 1
	scanMinute = 0
)

// Scheduler enqueues the daily license expiry scan.
type Scheduler struct {
	enqueuer task.Enqueuer
	now      func() time.Time
}

func NewScheduler(enq task.Enqueuer) *Scheduler {
	return &Scheduler{enqueuer: enq, now: time.Now}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started license expiry scheduler")

	for {
		now := s.now()
		next := nextRunTime(now, scanHour, scanMinute)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-time.After(sleepDuration):
			s.enqueue()
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

// enqueue submits one scan per day; asynq.Unique drops duplicates when more
// than one replica runs the scheduler.
func (s *Scheduler) enqueue() {
	t := asynq.NewTask(taskname.LicenseExpiryScan, nil,
		asynq.Queue(task.QueueAudit),
		asynq.Unique(23*time.Hour),
		asynq.MaxRetry(3),
	)

	if _, err := s.enqueuer.Enqueue(t); err != nil {
		zap.L().Error("[Scheduler] failed to enqueue expiry scan", zap.Error(err))
		return
	}
	zap.L().Info("[Scheduler] expiry scan enqueued")
}

func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
