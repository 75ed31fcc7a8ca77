package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

type Scheduler interface {
	RegisterTasks() error
	Run()
	Shutdown()
}

// Schedule holds the cron specs and task parameters of the periodic jobs.
// An empty spec disables that job.
type Schedule struct {
	PurgeSpec      string
	PurgeOlderThan time.Duration
	SweepSpec      string
	SweepOlderThan time.Duration
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	schedule       Schedule
	log            *slog.Logger
}

func NewScheduler(redisOpt asynq.RedisConnOpt, schedule Schedule, log *slog.Logger) Scheduler {
	if log == nil {
		log = slog.Default()
	}

	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			Logger:   newAsynqLogger(log),
			Location: time.UTC,
		}),
		schedule: schedule,
		log:      log,
	}
}

func (s *scheduler) RegisterTasks() error {
	if s.schedule.PurgeSpec != "" {
		task, err := NewPurgeMessagesTask(s.schedule.PurgeOlderThan)
		if err != nil {
			return err
		}
		if _, err := s.asynqScheduler.Register(s.schedule.PurgeSpec, task); err != nil {
			return err
		}
		s.log.Info("scheduler: registered task", slog.String("type", TaskTypePurgeMessages), slog.String("spec", s.schedule.PurgeSpec))
	}

	if s.schedule.SweepSpec != "" {
		task, err := NewSweepStaleTask(s.schedule.SweepOlderThan)
		if err != nil {
			return err
		}
		if _, err := s.asynqScheduler.Register(s.schedule.SweepSpec, task); err != nil {
			return err
		}
		s.log.Info("scheduler: registered task", slog.String("type", TaskTypeSweepStale), slog.String("spec", s.schedule.SweepSpec))
	}

	return nil
}

func (s *scheduler) Run() {
	s.log.InfoContext(context.Background(), "scheduler: starting")

	go func() {
		if err := s.asynqScheduler.Run(); err != nil {
			s.log.ErrorContext(context.Background(), "scheduler: run failed", slog.Any("error", err))
		}
	}()
}

func (s *scheduler) Shutdown() {
	s.log.InfoContext(context.Background(), "scheduler: shutting down")
	s.asynqScheduler.Shutdown()
}
