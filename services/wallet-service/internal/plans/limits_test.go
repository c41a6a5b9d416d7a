package plans

import "testing"

func TestLimitsForTier(t *testing.T) {
	core := LimitsForTier("core")
	if core.Tier != "core" || core.MaxMonthlyBookings != 20 {
		t.Fatalf("unexpected core limits: %+v", core)
	}

	capacity := LimitsForTier("capacity")
	if capacity.Tier != "capacity" || capacity.MaxMonthlyBookings <= core.MaxMonthlyBookings {
		t.Fatalf("capacity should raise the booking cap, got %+v", capacity)
	}

	plus := LimitsForTier("plus")
	if plus.Tier != "plus" || plus.MaxMonthlyBookings <= capacity.MaxMonthlyBookings {
		t.Fatalf("plus should raise the booking cap further, got %+v", plus)
	}
}

func TestLimitsForTier_UnknownFallsBackToCore(t *testing.T) {
	got := LimitsForTier("enterprise")
	if got.Tier != "core" {
		t.Fatalf("unknown tier should fall back to core, got %q", got.Tier)
	}
}

func TestValidTier(t *testing.T) {
	for _, tier := range []string{"core", "capacity", "plus"} {
		if !ValidTier(tier) {
			t.Fatalf("tier %q should be valid", tier)
		}
	}
	for _, tier := range []string{"", "free", "pro", "CORE"} {
		if ValidTier(tier) {
			t.Fatalf("tier %q should be invalid", tier)
		}
	}
}
