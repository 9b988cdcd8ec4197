package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// Transaction kinds
// ============================================================================

const (
	TransactionKindReward              = "reward"
	TransactionKindDiscountUsed        = "discount_used"
	TransactionKindDiscountAbsorbed    = "discount_absorbed"
	TransactionKindDiscountDeclined    = "discount_declined"
	TransactionKindWithdrawalReserved  = "withdrawal_reserved"
	TransactionKindWithdrawalCancelled = "withdrawal_cancelled"
	TransactionKindWithdrawalCompleted = "withdrawal_completed"
	TransactionKindDeposit             = "deposit"
	TransactionKindStake               = "stake"
	TransactionKindUnstake             = "unstake"
	TransactionKindBonus               = "bonus"
)

const (
	AssetTEO = "TEO"
	AssetEUR = "EUR"
)

// ============================================================================
// Ledger entry
// ============================================================================

// AccountTransaction is the append-only ledger. Rows are never updated or
// deleted. For asset TEO, Amount is the signed delta applied to the account's
// available balance, and the running sum must equal the cached projection.
// EUR rows record off-ledger commission settlements for reconciliation only;
// they carry BalanceBefore == BalanceAfter and do not move TEO.
type AccountTransaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        int64           `gorm:"index:idx_tx_user_created;not null" json:"user_id"`
	Asset         string          `gorm:"type:varchar(8);not null;default:TEO" json:"asset"`
	Kind          string          `gorm:"type:varchar(32);not null" json:"kind"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"balance_after"`
	RelatedEntity string          `gorm:"type:varchar(64);index;not null" json:"related_entity"`
	Remark        string          `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index:idx_tx_user_created" json:"created_at"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}
