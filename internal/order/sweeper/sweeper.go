// Package sweeper republishes fulfillment events for orders whose first
// publish never reached the broker.
package sweeper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/config"
	"github.com/hibiken/asynq"
	"github.com/zeromicro/go-zero/core/logx"
)

const (
	TaskSweepUnpublished = "order:sweep_unpublished"
	queueName            = "order-sweeper"
)

type SweepPayload struct {
	GraceSeconds int64 `json:"grace_seconds"`
	Batch        int   `json:"batch"`
}

// Republisher is implemented by service.OrderService.
type Republisher interface {
	RepublishUnpublished(ctx context.Context, grace time.Duration, batch int) (int, error)
}

func NewSweepTask(grace time.Duration, batch int) (*asynq.Task, error) {
	payload, err := json.Marshal(SweepPayload{
		GraceSeconds: int64(grace / time.Second),
		Batch:        batch,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSweepUnpublished, payload), nil
}

func NewServeMux(republisher Republisher) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskSweepUnpublished, newSweepHandler(republisher))
	return mux
}

func newSweepHandler(republisher Republisher) func(ctx context.Context, t *asynq.Task) error {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("sweep payload error: %v: %w", err, asynq.SkipRetry)
		}
		if payload.Batch <= 0 {
			payload.Batch = 100
		}

		n, err := republisher.RepublishUnpublished(ctx, time.Duration(payload.GraceSeconds)*time.Second, payload.Batch)
		if err != nil {
			return fmt.Errorf("sweep error after %d republished: %w", n, err)
		}
		return nil
	}
}

// Sweeper owns the asynq scheduler that enqueues the periodic task and the
// server that runs it.
type Sweeper struct {
	config    config.SweeperConfig
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
}

func New(cfg config.SweeperConfig, republisher Republisher) (*Sweeper, error) {
	logger := logxLogger{}

	scheduler := asynq.NewScheduler(cfg.RedisOpt(), &asynq.SchedulerOpts{
		Logger:   logger,
		LogLevel: asynq.WarnLevel,
	})

	task, err := NewSweepTask(cfg.Grace, cfg.Batch)
	if err != nil {
		return nil, err
	}

	// every order service instance registers the entry; Unique keeps one run per tick
	_, err = scheduler.Register(cfg.Interval, task,
		asynq.Queue(queueName),
		asynq.MaxRetry(0),
		asynq.Unique(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("sweeper schedule error (%s): %w", cfg.Interval, err)
	}

	server := asynq.NewServer(cfg.RedisOpt(), asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{queueName: 1},
		Logger:      logger,
		LogLevel:    asynq.WarnLevel,
	})

	return &Sweeper{
		config:    cfg,
		server:    server,
		scheduler: scheduler,
		mux:       NewServeMux(republisher),
	}, nil
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return fmt.Errorf("sweeper server start error: %w", err)
	}
	if err := s.scheduler.Start(); err != nil {
		s.server.Shutdown()
		return fmt.Errorf("sweeper scheduler start error: %w", err)
	}
	logx.Infof("Order sweeper is running: interval=%s grace=%s batch=%d",
		s.config.Interval, s.config.Grace, s.config.Batch)

	<-ctx.Done()

	s.scheduler.Shutdown()
	s.server.Shutdown()
	logx.Info("Order sweeper is stopped")
	return nil
}

type logxLogger struct{}

func (logxLogger) Debug(args ...interface{}) { logx.Debug(args...) }
func (logxLogger) Info(args ...interface{})  { logx.Info(args...) }
func (logxLogger) Warn(args ...interface{})  { logx.Info(append([]interface{}{"[warn] "}, args...)...) }
func (logxLogger) Error(args ...interface{}) { logx.Error(args...) }
func (logxLogger) Fatal(args ...interface{}) { logx.Must(fmt.Errorf("%s", fmt.Sprint(args...))) }
