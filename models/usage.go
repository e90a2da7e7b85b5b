package models

import "github.com/shopspring/decimal"

// UsageQuota tracks request counts and spend. It is incremented optimistically
// on every successful exchange and periodically replaced by an authoritative
// snapshot from the platform.
type UsageQuota struct {
	TotalRequests         int             `json:"total_requests"`
	TotalCostUSD          decimal.Decimal `json:"total_cost_usd"`
	DailyCostUSD          decimal.Decimal `json:"daily_cost_usd"`
	MonthlyCostUSD        decimal.Decimal `json:"monthly_cost_usd"`
	RemainingDailyQuota   decimal.Decimal `json:"remaining_daily_quota"`
	RemainingMonthlyQuota decimal.Decimal `json:"remaining_monthly_quota"`
}

// AddCost applies one exchange's spend to the running totals.
func (u *UsageQuota) AddCost(cost decimal.Decimal) {
	u.TotalRequests++
	if cost.IsZero() {
		return
	}
	u.TotalCostUSD = u.TotalCostUSD.Add(cost)
	u.DailyCostUSD = u.DailyCostUSD.Add(cost)
	u.MonthlyCostUSD = u.MonthlyCostUSD.Add(cost)
	u.RemainingDailyQuota = u.RemainingDailyQuota.Sub(cost)
	u.RemainingMonthlyQuota = u.RemainingMonthlyQuota.Sub(cost)
}
