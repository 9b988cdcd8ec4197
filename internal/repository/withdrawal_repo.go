package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"teoledger/internal/model"
)

type WithdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) Create(ctx context.Context, tx *gorm.DB, wdr *model.WithdrawalRequest) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(wdr).Error
}

func (r *WithdrawalRepository) GetByNo(ctx context.Context, withdrawalNo string) (*model.WithdrawalRequest, error) {
	var wdr model.WithdrawalRequest
	err := r.db.WithContext(ctx).Where("withdrawal_no = ?", withdrawalNo).First(&wdr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &wdr, nil
}

// CountOpen counts pending and processing withdrawals for the user. Callers
// enforcing the concurrency cap must hold the account row lock so the count
// cannot move under them.
func (r *WithdrawalRepository) CountOpen(ctx context.Context, tx *gorm.DB, userID int64) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.WithdrawalRequest{}).
		Where("user_id = ? AND status IN ?", userID, []string{model.WithdrawalStatusPending, model.WithdrawalStatusProcessing}).
		Count(&count).Error
	return count, err
}

func (r *WithdrawalRepository) GetByNoForUpdate(ctx context.Context, tx *gorm.DB, withdrawalNo string) (*model.WithdrawalRequest, error) {
	if tx == nil {
		tx = r.db
	}
	var wdr model.WithdrawalRequest
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("withdrawal_no = ?", withdrawalNo).
		First(&wdr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &wdr, nil
}

func (r *WithdrawalRepository) ListByUserID(ctx context.Context, userID int64, status string, page, pageSize int) ([]*model.WithdrawalRequest, int64, error) {
	var wdrs []*model.WithdrawalRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WithdrawalRequest{}).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&wdrs).Error

	return wdrs, total, err
}

// UpdateStatus moves a withdrawal from one status to another, guarded by the
// transition table and a status CAS in the WHERE clause.
func (r *WithdrawalRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, withdrawalNo, fromStatus, toStatus string, extra map[string]interface{}) error {
	if tx == nil {
		tx = r.db
	}
	if !model.WithdrawalCanTransitionTo(fromStatus, toStatus) {
		return ErrInvalidTransition
	}
	updates := map[string]interface{}{"status": toStatus}
	for k, v := range extra {
		updates[k] = v
	}
	result := tx.WithContext(ctx).
		Model(&model.WithdrawalRequest{}).
		Where("withdrawal_no = ? AND status = ?", withdrawalNo, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}
