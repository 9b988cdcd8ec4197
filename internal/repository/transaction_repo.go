package repository

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"teoledger/internal/model"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.AccountTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	var transactions []*model.AccountTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AccountTransaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

func (r *TransactionRepository) ListByRelatedEntity(ctx context.Context, tx *gorm.DB, relatedEntity string) ([]*model.AccountTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var transactions []*model.AccountTransaction
	err := tx.WithContext(ctx).
		Where("related_entity = ?", relatedEntity).
		Order("created_at ASC").
		Find(&transactions).Error
	return transactions, err
}

// SumTEOByUserID computes the running sum of TEO deltas for reconciliation
// against the cached available balance.
func (r *TransactionRepository) SumTEOByUserID(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var sumStr string
	err := r.db.WithContext(ctx).
		Model(&model.AccountTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND asset = ?", userID, model.AssetTEO).
		Scan(&sumStr).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(sumStr)
}
