package tier

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestResolveDefaultBrackets(t *testing.T) {
	r := NewResolver(nil)

	cases := []struct {
		staked   string
		wantName string
		wantRate string
	}{
		{"0", "Bronze", "25"},
		{"99.99999999", "Bronze", "25"},
		{"100", "Silver", "22"},
		{"299", "Silver", "22"},
		{"300", "Gold", "19"},
		{"600", "Platinum", "16"},
		{"999.5", "Platinum", "16"},
		{"1000", "Diamond", "15"},
		{"50000", "Diamond", "15"},
	}

	for _, tc := range cases {
		staked, err := decimal.NewFromString(tc.staked)
		if err != nil {
			t.Fatalf("bad staked %q: %v", tc.staked, err)
		}
		got := r.Resolve(staked)
		if got.Name != tc.wantName {
			t.Errorf("Resolve(%s) = %s, want %s", tc.staked, got.Name, tc.wantName)
		}
		if !got.CommissionRatePercent.Equal(decimal.RequireFromString(tc.wantRate)) {
			t.Errorf("Resolve(%s) rate = %s, want %s", tc.staked, got.CommissionRatePercent, tc.wantRate)
		}
	}
}

func TestResolveThresholdInclusive(t *testing.T) {
	r := NewResolver(nil)
	exactly := r.Resolve(decimal.NewFromInt(100))
	if exactly.Name != "Silver" {
		t.Fatalf("stake exactly at threshold should reach the higher tier, got %s", exactly.Name)
	}
}

func TestResolveMonotonic(t *testing.T) {
	r := NewResolver(nil)
	prev := r.Resolve(decimal.Zero).CommissionRatePercent
	for staked := int64(1); staked <= 1200; staked += 7 {
		rate := r.Resolve(decimal.NewFromInt(staked)).CommissionRatePercent
		if rate.GreaterThan(prev) {
			t.Fatalf("commission rate rose from %s to %s at stake %d", prev, rate, staked)
		}
		prev = rate
	}
}

func TestNewResolverSortsInput(t *testing.T) {
	r := NewResolver([]Tier{
		{Name: "High", MinStake: decimal.NewFromInt(500), CommissionRatePercent: decimal.NewFromInt(10)},
		{Name: "Low", MinStake: decimal.NewFromInt(0), CommissionRatePercent: decimal.NewFromInt(30)},
	})

	if got := r.Resolve(decimal.NewFromInt(10)); got.Name != "Low" {
		t.Errorf("Resolve(10) = %s, want Low", got.Name)
	}
	if got := r.Resolve(decimal.NewFromInt(500)); got.Name != "High" {
		t.Errorf("Resolve(500) = %s, want High", got.Name)
	}
}

func TestTiersReturnsCopy(t *testing.T) {
	r := NewResolver(nil)
	tiers := r.Tiers()
	tiers[0].Name = "mutated"
	if r.Tiers()[0].Name == "mutated" {
		t.Fatal("Tiers must return a copy of the table")
	}
}
