package entitlement

import (
	"encoding/json"
	"math"
	"time"

	"gorm.io/datatypes"
)

// Entitlement is the per-module capability record of a license. Limits maps a
// limit name to a number (or -1 for unlimited) or a structured value.
type Entitlement struct {
	ID        string            `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time         `gorm:"column:updated_at" json:"updated_at"`
	LicenseID string            `gorm:"column:license_id;size:32;not null;uniqueIndex:idx_entitlements_license_module,priority:1" json:"license_id"`
	Module    string            `gorm:"column:module;size:64;not null;uniqueIndex:idx_entitlements_license_module,priority:2" json:"module"`
	Enabled   bool              `gorm:"column:enabled;not null" json:"enabled"`
	Limits    datatypes.JSONMap `gorm:"column:limits" json:"limits"`
}

// Limit returns the raw limit value and whether the key is present.
func (e *Entitlement) Limit(name string) (any, bool) {
	if e == nil || e.Limits == nil {
		return nil, false
	}
	v, ok := e.Limits[name]
	return v, ok
}

// NumericLimit returns the named limit as an integer when it is numeric.
func (e *Entitlement) NumericLimit(name string) (*int64, bool) {
	raw, ok := e.Limit(name)
	if !ok {
		return nil, false
	}
	v, ok := toInt64(raw)
	if !ok {
		return nil, false
	}
	return &v, true
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float32:
		return int64(n), float64(n) == math.Trunc(float64(n))
	case float64:
		return int64(n), n == math.Trunc(n)
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// IsModuleEnabled reports whether module is licensed. The module must be in the
// license's module set and, when an entitlement row exists, the row must be enabled.
func IsModuleEnabled(modules []string, ent *Entitlement, module string) bool {
	listed := false
	for _, m := range modules {
		if m == module {
			listed = true
			break
		}
	}
	if !listed {
		return false
	}
	return ent == nil || ent.Enabled
}

// GetLimit returns the named limit or def when absent.
func GetLimit(ent *Entitlement, name string, def any) any {
	if v, ok := ent.Limit(name); ok {
		return v
	}
	return def
}

// IsWithinLimit is true when no numeric limit is set, the limit is
// Unlimited, or current does not exceed it.
func IsWithinLimit(ent *Entitlement, name string, current int64) bool {
	limit, ok := ent.NumericLimit(name)
	if !ok || *limit == Unlimited {
		return true
	}
	return current <= *limit
}

// Remaining returns the capacity left under the named limit, or Unlimited
// when no numeric limit is set.
func Remaining(ent *Entitlement, name string, current int64) int64 {
	limit, ok := ent.NumericLimit(name)
	if !ok || *limit == Unlimited {
		return Unlimited
	}
	if left := *limit - current; left > 0 {
		return left
	}
	return 0
}

// ValidateLimits rejects negative numeric limits other than Unlimited.
func ValidateLimits(limits map[string]any) error {
	for name, raw := range limits {
		v, ok := toInt64(raw)
		if !ok {
			continue
		}
		if v < 0 && v != Unlimited {
			return &InvalidLimitError{Name: name, Value: v}
		}
	}
	return nil
}

type InvalidLimitError struct {
	Name  string
	Value int64
}

func (e *InvalidLimitError) Error() string {
	return "limit " + e.Name + " must be non-negative or -1"
}
