package quota

import (
	"time"
)

// Usage is the metered consumption of one module under one license.
type Usage struct {
	ID                 string     `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt          time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at" json:"updated_at"`
	LicenseID          string     `gorm:"column:license_id;size:32;not null;uniqueIndex:idx_quota_usages_license_module,priority:1" json:"license_id"`
	Module             string     `gorm:"column:module;size:64;not null;uniqueIndex:idx_quota_usages_license_module,priority:2" json:"module"`
	TotalAmount        int64      `gorm:"column:total_amount;not null" json:"total_amount"`
	PeriodAmount       int64      `gorm:"column:period_amount;not null" json:"period_amount"`
	RequestsCount      int64      `gorm:"column:requests_count;not null" json:"requests_count"`
	SuccessfulRequests int64      `gorm:"column:successful_requests;not null" json:"successful_requests"`
	FailedRequests     int64      `gorm:"column:failed_requests;not null" json:"failed_requests"`
	AverageLatencyMs   float64    `gorm:"column:average_latency_ms;not null" json:"average_latency_ms"`
	LastResetAt        time.Time  `gorm:"column:last_reset_at;not null" json:"last_reset_at"`
	LastRequestAt      *time.Time `gorm:"column:last_request_at" json:"last_request_at,omitempty"`
}

func (Usage) TableName() string {
	return "quota_usages"
}

// CanConsume reports whether requested fits under limit given current usage.
// A limit of zero or below is the unlimited sentinel.
func CanConsume(current, requested, limit int64) bool {
	if limit <= 0 {
		return true
	}
	return current+requested <= limit
}

// rolledOver is true once now falls in a later calendar month than the last reset.
func (u *Usage) rolledOver(now time.Time) bool {
	last := u.LastResetAt.UTC()
	now = now.UTC()
	return now.Year() > last.Year() || (now.Year() == last.Year() && now.Month() > last.Month())
}

// PeriodUsageAt returns the current-period consumption as seen at now. A
// period that has rolled over but not yet been written reads as zero.
func (u *Usage) PeriodUsageAt(now time.Time) int64 {
	if u == nil || u.rolledOver(now) {
		return 0
	}
	return u.PeriodAmount
}

// Apply records one metered request. On the first request of a new month the
// period counter restarts at amount. Latency is averaged over successful
// requests only.
func (u *Usage) Apply(amount int64, latency time.Duration, success bool, now time.Time) {
	now = now.UTC()

	if u.rolledOver(now) {
		u.PeriodAmount = amount
		u.LastResetAt = now
	} else {
		u.PeriodAmount += amount
	}
	u.TotalAmount += amount
	u.RequestsCount++

	if success {
		u.SuccessfulRequests++
		n := float64(u.SuccessfulRequests)
		sample := float64(latency) / float64(time.Millisecond)
		u.AverageLatencyMs = (u.AverageLatencyMs*(n-1) + sample) / n
	} else {
		u.FailedRequests++
	}

	u.LastRequestAt = &now
}
