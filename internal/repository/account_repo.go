package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"teoledger/internal/model"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByUserID(ctx context.Context, userID int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByUserIDForUpdate takes the row lock that serializes all mutations for
// one account. Must run inside a transaction.
func (r *AccountRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetOrCreate returns the account, creating a zeroed row on first contact.
// The ON CONFLICT DO NOTHING keeps concurrent first credits safe.
func (r *AccountRepository) GetOrCreate(ctx context.Context, userID int64, role string) (*model.Account, error) {
	account, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.Account{
		UserID:                userID,
		Role:                  role,
		AvailableBalance:      decimal.Zero,
		StakedAmount:          decimal.Zero,
		ReservedForWithdrawal: decimal.Zero,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newAccount).Error
	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, userID)
}

// Balances is the full projection written back after a mutation.
type Balances struct {
	Available decimal.Decimal
	Staked    decimal.Decimal
	Reserved  decimal.Decimal
}

// UpdateBalances writes the new projection guarded by the version the caller
// read under the row lock. RowsAffected == 0 means somebody slipped in
// between read and write, which the caller surfaces as ErrStaleWrite.
func (r *AccountRepository) UpdateBalances(ctx context.Context, tx *gorm.DB, userID int64, b Balances, version int) error {
	if b.Available.IsNegative() || b.Staked.IsNegative() || b.Reserved.IsNegative() {
		return ErrInsufficientBalance
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND version = ?", userID, version).
		Updates(map[string]interface{}{
			"available_balance":       b.Available,
			"staked_amount":           b.Staked,
			"reserved_for_withdrawal": b.Reserved,
			"version":                 gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}
