package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"teoledger/internal/model"
)

type OpportunityRepository struct {
	db *gorm.DB
}

func NewOpportunityRepository(db *gorm.DB) *OpportunityRepository {
	return &OpportunityRepository{db: db}
}

func (r *OpportunityRepository) Create(ctx context.Context, tx *gorm.DB, opp *model.AbsorptionOpportunity) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(opp).Error
}

func (r *OpportunityRepository) GetByNo(ctx context.Context, opportunityNo string) (*model.AbsorptionOpportunity, error) {
	var opp model.AbsorptionOpportunity
	err := r.db.WithContext(ctx).Where("opportunity_no = ?", opportunityNo).First(&opp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOpportunityNotFound
		}
		return nil, err
	}
	return &opp, nil
}

func (r *OpportunityRepository) GetByDiscountRequestNo(ctx context.Context, requestNo string) (*model.AbsorptionOpportunity, error) {
	var opp model.AbsorptionOpportunity
	err := r.db.WithContext(ctx).Where("discount_request_no = ?", requestNo).First(&opp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOpportunityNotFound
		}
		return nil, err
	}
	return &opp, nil
}

func (r *OpportunityRepository) ListByTeacher(ctx context.Context, teacherID int64, status string, page, pageSize int) ([]*model.AbsorptionOpportunity, int64, error) {
	var opps []*model.AbsorptionOpportunity
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AbsorptionOpportunity{}).Where("teacher_id = ?", teacherID)
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
		Find(&opps).Error

	return opps, total, err
}

// GetExpired returns pending opportunities whose deadline has passed, oldest
// first, capped at limit per sweep.
func (r *OpportunityRepository) GetExpired(ctx context.Context, now time.Time, limit int) ([]*model.AbsorptionOpportunity, error) {
	var opps []*model.AbsorptionOpportunity
	err := r.db.WithContext(ctx).
		Where("status = ? AND deadline_at <= ?", model.OpportunityStatusPending, now).
		Order("deadline_at ASC").
		Limit(limit).
		Find(&opps).Error
	return opps, err
}

// Resolve moves a pending opportunity to a terminal status. The WHERE clause
// on status makes the update a compare-and-swap: zero rows affected means a
// concurrent resolver won the race.
func (r *OpportunityRepository) Resolve(ctx context.Context, tx *gorm.DB, opportunityNo, toStatus, resolvedBy string, resolvedAt time.Time) error {
	if tx == nil {
		tx = r.db
	}
	if !model.OpportunityCanTransitionTo(model.OpportunityStatusPending, toStatus) {
		return ErrInvalidTransition
	}
	result := tx.WithContext(ctx).
		Model(&model.AbsorptionOpportunity{}).
		Where("opportunity_no = ? AND status = ?", opportunityNo, model.OpportunityStatusPending).
		Updates(map[string]interface{}{
			"status":      toStatus,
			"resolved_by": resolvedBy,
			"resolved_at": resolvedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyResolved
	}
	return nil
}
