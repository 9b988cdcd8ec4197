package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusCancelled  = "cancelled"
	WithdrawalStatusFailed     = "failed"
)

var ValidWithdrawalTransitions = map[string][]string{
	WithdrawalStatusPending:    {WithdrawalStatusProcessing, WithdrawalStatusCompleted, WithdrawalStatusCancelled, WithdrawalStatusFailed},
	WithdrawalStatusProcessing: {WithdrawalStatusCompleted, WithdrawalStatusFailed},
}

func WithdrawalCanTransitionTo(currentStatus, targetStatus string) bool {
	for _, s := range ValidWithdrawalTransitions[currentStatus] {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// WithdrawalStatusOpen reports whether a withdrawal still counts against the
// per-user concurrency cap.
func WithdrawalStatusOpen(status string) bool {
	return status == WithdrawalStatusPending || status == WithdrawalStatusProcessing
}

// WithdrawalRequest tracks TEO moving from the ledger to an external wallet.
// The amount sits in the account's reserved column from creation until the
// settlement bridge reports the final outcome.
type WithdrawalRequest struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalNo  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"withdrawal_no"`
	UserID        int64           `gorm:"index:idx_wdr_user_status;not null" json:"user_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	WalletAddress string          `gorm:"type:varchar(128);not null" json:"wallet_address"`
	Status        string          `gorm:"type:varchar(20);index:idx_wdr_user_status;not null" json:"status"`
	TxHash        string          `gorm:"type:varchar(128)" json:"tx_hash"`
	FailReason    string          `gorm:"type:varchar(256)" json:"fail_reason,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WithdrawalRequest) TableName() string {
	return "withdrawal_request"
}
