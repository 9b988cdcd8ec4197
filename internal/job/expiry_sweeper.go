package job

import (
	"context"
	"time"

	"go.uber.org/zap"

	"teoledger/internal/config"
	"teoledger/internal/service"
)

// ExpirySweeper auto-resolves pending opportunities whose decision deadline
// has passed. It reuses the same resolve path as manual decisions, so any
// number of sweeper instances can run concurrently without double-crediting.
type ExpirySweeper struct {
	absorption *service.AbsorptionService
	cfg        *config.Config
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewExpirySweeper(absorption *service.AbsorptionService, cfg *config.Config) *ExpirySweeper {
	return &ExpirySweeper{
		absorption: absorption,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   cfg.Business.SweepInterval(),
		batchSize:  cfg.Business.SweepBatchSize,
	}
}

func (j *ExpirySweeper) Start(ctx context.Context) {
	zap.L().Info("expiry sweeper started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("expiry sweeper stopping on context cancel")
			return
		case <-j.stopCh:
			zap.L().Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *ExpirySweeper) Stop() {
	close(j.stopCh)
}

func (j *ExpirySweeper) sweep(ctx context.Context) {
	expired, err := j.absorption.ExpireDue(ctx, time.Now(), j.batchSize)
	if err != nil {
		zap.L().Error("expiry sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		zap.L().Info("expired overdue opportunities", zap.Int("count", expired))
	}
}
