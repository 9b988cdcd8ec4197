package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"teoledger/internal/config"
	"teoledger/internal/model"
)

var DB *gorm.DB

// InitMySQL opens the connection pool and migrates the ledger tables.
func InitMySQL(cfg *config.MySQLConfig) *gorm.DB {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		zap.L().Fatal("failed to connect to mysql", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zap.L().Fatal("failed to get underlying sql.DB", zap.Error(err))
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	err = db.AutoMigrate(
		&model.Account{},
		&model.AccountTransaction{},
		&model.DiscountRequest{},
		&model.AbsorptionOpportunity{},
		&model.WithdrawalRequest{},
		&model.OutboxMessage{},
	)
	if err != nil {
		zap.L().Fatal("failed to migrate schema", zap.Error(err))
	}

	DB = db
	zap.L().Info("mysql connected", zap.String("host", cfg.Host), zap.String("database", cfg.Database))
	return db
}
