package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DiscountRequestStatusOpen      = "open"
	DiscountRequestStatusConfirmed = "confirmed"
)

const (
	OpportunityStatusPending  = "pending"
	OpportunityStatusAbsorbed = "absorbed"
	OpportunityStatusRefused  = "refused"
	OpportunityStatusExpired  = "expired"
)

const (
	ResolvedByTeacher = "teacher"
	ResolvedBySystem  = "system"
)

const (
	ChoiceAbsorb = "absorb"
	ChoiceRefuse = "refuse"
)

// ValidOpportunityTransitions maps each opportunity status to the statuses it
// may move to. Everything out of pending is terminal.
var ValidOpportunityTransitions = map[string][]string{
	OpportunityStatusPending: {OpportunityStatusAbsorbed, OpportunityStatusRefused, OpportunityStatusExpired},
}

func OpportunityCanTransitionTo(currentStatus, targetStatus string) bool {
	for _, s := range ValidOpportunityTransitions[currentStatus] {
		if s == targetStatus {
			return true
		}
	}
	return false
}

func OpportunityStatusTerminal(status string) bool {
	switch status {
	case OpportunityStatusAbsorbed, OpportunityStatusRefused, OpportunityStatusExpired:
		return true
	}
	return false
}

// DiscountRequest records a student paying TEO for a course discount. Created
// once, immutable apart from the open -> confirmed transition that spawns the
// teacher's absorption opportunity.
type DiscountRequest struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestNo       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_no"`
	StudentID       int64           `gorm:"index;not null" json:"student_id"`
	TeacherID       int64           `gorm:"index;not null" json:"teacher_id"`
	CourseID        string          `gorm:"type:varchar(64);not null" json:"course_id"`
	CoursePriceEur  decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"course_price_eur"`
	DiscountPercent int             `gorm:"not null" json:"discount_percent"`
	DiscountEur     decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"discount_eur"`
	TeoCost         decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"teo_cost"`
	TeacherBonusTeo decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"teacher_bonus_teo"`
	Status          string          `gorm:"type:varchar(20);not null" json:"status"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (DiscountRequest) TableName() string {
	return "discount_request"
}

// AbsorptionOpportunity is the teacher's pending decision between the full EUR
// commission (option A) and the absorbed TEO payout with bonus (option B).
// Status leaves pending exactly once; terminal rows are immutable.
type AbsorptionOpportunity struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OpportunityNo     string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"opportunity_no"`
	DiscountRequestNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"discount_request_no"`
	TeacherID         int64           `gorm:"index:idx_opp_teacher_status;not null" json:"teacher_id"`
	DiscountEur       decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"discount_eur"`
	TeoUsed           decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"teo_used"`
	TeacherBonusTeo   decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"teacher_bonus_teo"`
	OptionATeacherEur decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"option_a_teacher_eur"`
	OptionBTeacherEur decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"option_b_teacher_eur"`
	OptionBTeacherTeo decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"option_b_teacher_teo"`
	DeadlineAt        time.Time       `gorm:"index:idx_opp_status_deadline,priority:2;not null" json:"deadline_at"`
	Status            string          `gorm:"type:varchar(20);index:idx_opp_teacher_status;index:idx_opp_status_deadline,priority:1;not null" json:"status"`
	ResolvedAt        *time.Time      `json:"resolved_at"`
	ResolvedBy        string          `gorm:"type:varchar(16)" json:"resolved_by"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AbsorptionOpportunity) TableName() string {
	return "absorption_opportunity"
}
