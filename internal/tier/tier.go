package tier

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Tier is one staking bracket. CommissionRatePercent is the platform's cut of
// a course sale for teachers in this bracket; higher stakes buy a lower cut.
type Tier struct {
	Name                  string          `json:"name"`
	MinStake              decimal.Decimal `json:"min_stake"`
	CommissionRatePercent decimal.Decimal `json:"commission_rate_percent"`
}

// Resolver maps a staked amount to its tier. It is a pure lookup over an
// immutable table, safe for concurrent use.
type Resolver struct {
	tiers []Tier
}

// NewResolver copies and sorts the table ascending by MinStake. An empty table
// falls back to the default brackets.
func NewResolver(tiers []Tier) *Resolver {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinStake.LessThan(sorted[j].MinStake)
	})
	return &Resolver{tiers: sorted}
}

// Resolve picks the highest tier whose MinStake <= staked. Exactly at a
// threshold the higher tier applies.
func (r *Resolver) Resolve(staked decimal.Decimal) Tier {
	current := r.tiers[0]
	for _, t := range r.tiers[1:] {
		if staked.GreaterThanOrEqual(t.MinStake) {
			current = t
			continue
		}
		break
	}
	return current
}

// Tiers returns the table ascending by MinStake.
func (r *Resolver) Tiers() []Tier {
	out := make([]Tier, len(r.tiers))
	copy(out, r.tiers)
	return out
}

// DefaultTiers is the platform's standard bracket table.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "Bronze", MinStake: decimal.NewFromInt(0), CommissionRatePercent: decimal.NewFromInt(25)},
		{Name: "Silver", MinStake: decimal.NewFromInt(100), CommissionRatePercent: decimal.NewFromInt(22)},
		{Name: "Gold", MinStake: decimal.NewFromInt(300), CommissionRatePercent: decimal.NewFromInt(19)},
		{Name: "Platinum", MinStake: decimal.NewFromInt(600), CommissionRatePercent: decimal.NewFromInt(16)},
		{Name: "Diamond", MinStake: decimal.NewFromInt(1000), CommissionRatePercent: decimal.NewFromInt(15)},
	}
}
