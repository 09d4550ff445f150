package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sanskari27/whatsapp-api-sub003/internal/config"
	"github.com/sanskari27/whatsapp-api-sub003/internal/engine"
	"github.com/sanskari27/whatsapp-api-sub003/internal/scheduler"
)

type dispatcherService struct {
	scheduler *scheduler.Scheduler
	engine    *engine.Engine
	logger    *zap.Logger
}

// NewDispatcherService wraps the deadline-aware scheduler around the
// engine's dispatch pass.
func NewDispatcherService(
	cfg *config.Config,
	eng *engine.Engine,
	logger *zap.Logger,
) DispatcherService {
	maxInterval := time.Duration(cfg.Dispatcher.MaxIntervalSeconds) * time.Second

	svc := &dispatcherService{
		engine: eng,
		logger: logger,
	}

	svc.scheduler = scheduler.NewScheduler(logger, maxInterval, svc.executeDispatchPass)
	return svc
}

func (s *dispatcherService) Start() error {
	ctx := context.Background()
	return s.scheduler.Start(ctx)
}

func (s *dispatcherService) Stop() error {
	return s.scheduler.Stop()
}

func (s *dispatcherService) IsRunning() bool {
	return s.scheduler.IsRunning()
}

func (s *dispatcherService) Kick() {
	s.scheduler.Kick()
}

func (s *dispatcherService) executeDispatchPass(ctx context.Context) (time.Time, error) {
	return s.engine.Tick(ctx)
}
