package analytics

import "github.com/shopspring/decimal"

// Growth is the period-over-period percentage change of the overview.
type Growth struct {
	Leads    float64 `json:"leads"`
	Tours    float64 `json:"tours"`
	Bookings float64 `json:"bookings"`
	Revenue  float64 `json:"revenue"`
	Visitors float64 `json:"visitors"`
}

// PercentageChange is (current-previous)/previous*100. It is 0 when both
// periods are empty and 100 when only the previous one is.
func PercentageChange(current, previous float64) float64 {
	switch {
	case previous == 0 && current == 0:
		return 0
	case previous == 0:
		return 100
	default:
		return (current - previous) / previous * 100
	}
}

func decimalChange(current, previous decimal.Decimal) float64 {
	cur, _ := current.Float64()
	prev, _ := previous.Float64()
	return PercentageChange(cur, prev)
}
