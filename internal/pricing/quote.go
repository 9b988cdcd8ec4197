package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Policy carries the business constants the quote math depends on. They come
// from configuration so a peg or bonus change needs no code change.
type Policy struct {
	TeoPerEur    decimal.Decimal // fixed peg, 10 TEO per EUR (1 TEO = 0.10 EUR)
	BonusPercent decimal.Decimal // teacher bonus as a percent of the TEO cost
}

// DefaultPolicy returns the production constants.
func DefaultPolicy() Policy {
	return Policy{
		TeoPerEur:    decimal.NewFromInt(10),
		BonusPercent: decimal.NewFromInt(25),
	}
}

// Quote is the deterministic outcome of a discount request. The same inputs
// always produce the same decimals, so the quote shown to the student and the
// one used at finalization agree exactly.
type Quote struct {
	DiscountEur     decimal.Decimal `json:"discount_eur"`
	TeoCost         decimal.Decimal `json:"teo_cost"`
	TeacherBonusTeo decimal.Decimal `json:"teacher_bonus_teo"`
}

var allowedPercents = map[int]struct{}{5: {}, 10: {}, 15: {}}

var hundred = decimal.NewFromInt(100)

// NewQuote computes the EUR discount, its TEO cost at the peg, and the teacher
// bonus. All arithmetic is exact decimal; no rounding is applied because the
// peg and percents only ever scale by powers of ten and quarters.
func NewQuote(coursePriceEur decimal.Decimal, discountPercent int, p Policy) (Quote, error) {
	if _, ok := allowedPercents[discountPercent]; !ok {
		return Quote{}, fmt.Errorf("discount percent must be 5, 10 or 15, got %d", discountPercent)
	}
	if coursePriceEur.IsNegative() || coursePriceEur.IsZero() {
		return Quote{}, fmt.Errorf("course price must be positive, got %s", coursePriceEur)
	}

	discountEur := coursePriceEur.Mul(decimal.NewFromInt(int64(discountPercent))).Div(hundred)
	teoCost := discountEur.Mul(p.TeoPerEur)
	bonus := teoCost.Mul(p.BonusPercent).Div(hundred)

	return Quote{
		DiscountEur:     discountEur,
		TeoCost:         teoCost,
		TeacherBonusTeo: bonus,
	}, nil
}

// TeacherEur computes the teacher's full EUR payout for a course sale given
// the platform commission percent of the teacher's staking tier.
func TeacherEur(coursePriceEur, commissionRatePercent decimal.Decimal) decimal.Decimal {
	return coursePriceEur.Mul(hundred.Sub(commissionRatePercent)).Div(hundred)
}
