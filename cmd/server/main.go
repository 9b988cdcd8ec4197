package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"teoledger/internal/config"
	"teoledger/internal/handler"
	"teoledger/internal/infrastructure/cache"
	"teoledger/internal/infrastructure/database"
	"teoledger/internal/infrastructure/mq"
	"teoledger/internal/job"
	"teoledger/internal/repository"
	"teoledger/internal/service"
	"teoledger/internal/tier"
	"teoledger/pkg/idgen"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	cfg := config.LoadConfig("config/config.yaml")

	idgen.Init(1)

	db := database.InitMySQL(&cfg.MySQL)
	redisClient := cache.InitRedis(&cfg.Redis)

	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	accountRepo := repository.NewAccountRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	discountRepo := repository.NewDiscountRepository(db)
	opportunityRepo := repository.NewOpportunityRepository(db)
	withdrawalRepo := repository.NewWithdrawalRepository(db)

	tierResolver := tier.NewResolver(cfg.Business.TierTable())

	ledgerService := service.NewLedgerService(db, redisClient, accountRepo, transactionRepo, outboxRepo, tierResolver)
	discountService := service.NewDiscountService(db, ledgerService, accountRepo, discountRepo, opportunityRepo)
	absorptionService := service.NewAbsorptionService(db, redisClient, ledgerService, accountRepo, opportunityRepo)
	withdrawalService := service.NewWithdrawalService(db, ledgerService, accountRepo, withdrawalRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(db, cfg)
	go outboxSender.Start(ctx)

	expirySweeper := job.NewExpirySweeper(absorptionService, cfg)
	go expirySweeper.Start(ctx)

	router := handler.SetupRouter(handler.NewHandler(ledgerService, discountService, absorptionService, withdrawalService))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		zap.L().Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zap.L().Info("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("server shutdown error", zap.Error(err))
	}

	zap.L().Info("server stopped")
}
