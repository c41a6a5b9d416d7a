package plans

// Limits represents the budget derived from a participant's plan tier.
// Keep this small and stable: the booking service relies on these caps to
// enforce behavior.
type Limits struct {
	Tier                string `json:"tier"`
	MaxMonthlyBookings  int32  `json:"max_monthly_bookings"`
	MonthlySupportCents int64  `json:"monthly_support_cents"`
}

func LimitsForTier(tier string) Limits {
	switch tier {
	case "capacity":
		return Limits{
			Tier:                "capacity",
			MaxMonthlyBookings:  60,
			MonthlySupportCents: 450000,
		}
	case "plus":
		return Limits{
			Tier:                "plus",
			MaxMonthlyBookings:  200,
			MonthlySupportCents: 1500000,
		}
	default:
		return Limits{
			Tier:                "core",
			MaxMonthlyBookings:  20,
			MonthlySupportCents: 150000,
		}
	}
}

func ValidTier(tier string) bool {
	switch tier {
	case "core", "capacity", "plus":
		return true
	default:
		return false
	}
}
