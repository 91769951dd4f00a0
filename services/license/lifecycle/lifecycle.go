// Package lifecycle holds the license status machine and the derived
// validity evaluation shared by every reader of license terms.
package lifecycle

import "time"

type Status string

const (
	Suspended Status = "suspended"
	Active    Status = "active"
	Cancelled Status = "cancelled"

	// Expired is never persisted. Evaluate reports it as the effective
	// status once the validity window has passed.
	Expired Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case Suspended, Active, Cancelled:
		return true
	default:
		return false
	}
}

var transitions = map[Status]map[Status]bool{
	Suspended: {Active: true, Cancelled: true},
	Active:    {Active: true, Cancelled: true},
}

// CanTransition reports whether a stored license may move from one status to
// another. Cancelled is terminal.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Evaluation carries the stored status unchanged next to the derived flags.
// EffectiveStatus folds expiry into a single display state.
type Evaluation struct {
	Status          Status `json:"status"`
	EffectiveStatus Status `json:"effective_status"`
	IsExpired       bool   `json:"is_expired"`
	IsActive        bool   `json:"is_active"`
	DaysUntilExpiry int    `json:"days_until_expiry"`
}

// Evaluate derives expiry and activeness from the stored status and the
// validity window at instant now.
func Evaluate(status Status, startAt, endAt, now time.Time) Evaluation {
	now = now.UTC()
	expired := now.After(endAt)

	ev := Evaluation{
		Status:          status,
		EffectiveStatus: status,
		IsExpired:       expired,
		IsActive:        status == Active && !now.Before(startAt) && !expired,
	}

	if !expired {
		ev.DaysUntilExpiry = int(endAt.Sub(now) / (24 * time.Hour))
	}

	if expired && status != Cancelled {
		ev.EffectiveStatus = Expired
	}

	return ev
}
