package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleStudent  = "student"
	RoleTeacher  = "teacher"
	RolePlatform = "platform"
)

// Account holds the per-user TEO ledger row. The three balance columns are a
// cached projection of the transaction log; mutations go through the ledger
// service only and bump the version for optimistic locking.
type Account struct {
	ID                    int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID                int64           `gorm:"uniqueIndex;not null" json:"user_id"`
	Role                  string          `gorm:"type:varchar(16);not null;default:student" json:"role"`
	AvailableBalance      decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"available_balance"`
	StakedAmount          decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"staked_amount"`
	ReservedForWithdrawal decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"reserved_for_withdrawal"`
	Version               int             `gorm:"not null;default:0" json:"version"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
