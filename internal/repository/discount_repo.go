package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"teoledger/internal/model"
)

type DiscountRepository struct {
	db *gorm.DB
}

func NewDiscountRepository(db *gorm.DB) *DiscountRepository {
	return &DiscountRepository{db: db}
}

func (r *DiscountRepository) Create(ctx context.Context, tx *gorm.DB, req *model.DiscountRequest) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(req).Error
}

func (r *DiscountRepository) GetByRequestNo(ctx context.Context, requestNo string) (*model.DiscountRequest, error) {
	var req model.DiscountRequest
	err := r.db.WithContext(ctx).Where("request_no = ?", requestNo).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

// Confirm flips an open request to confirmed. RowsAffected of zero means the
// request was already confirmed by a concurrent call.
func (r *DiscountRepository) Confirm(ctx context.Context, tx *gorm.DB, requestNo string) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.DiscountRequest{}).
		Where("request_no = ? AND status = ?", requestNo, model.DiscountRequestStatusOpen).
		Update("status", model.DiscountRequestStatusConfirmed)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *DiscountRepository) ListByStudent(ctx context.Context, studentID int64, page, pageSize int) ([]*model.DiscountRequest, int64, error) {
	var reqs []*model.DiscountRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&model.DiscountRequest{}).Where("student_id = ?", studentID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&reqs).Error

	return reqs, total, err
}
