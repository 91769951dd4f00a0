package license

import (
	"time"

	"licensing-controlplane/pkg/signature"
	"licensing-controlplane/services/entitlement"
	"licensing-controlplane/services/license/lifecycle"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type License struct {
	ID            string                      `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt     time.Time                   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time                   `gorm:"column:updated_at" json:"updated_at"`
	Code          string                      `gorm:"column:code;size:32;index" json:"code"`
	TenantID      string                      `gorm:"column:tenant_id;size:32;not null;index" json:"tenant_id"`
	ActivationKey string                      `gorm:"column:activation_key;size:64;not null;uniqueIndex" json:"activation_key"`
	Plan          entitlement.Plan            `gorm:"column:plan;size:32;not null" json:"plan"`
	Modules       datatypes.JSONSlice[string] `gorm:"column:modules" json:"modules"`
	UsersLimit    int                         `gorm:"column:users_limit;not null" json:"users_limit"`
	UnitsLimit    *int                        `gorm:"column:units_limit" json:"units_limit"`
	StartAt       time.Time                   `gorm:"column:start_at;not null" json:"start_at"`
	EndAt         time.Time                   `gorm:"column:end_at;not null" json:"end_at"`
	Status        lifecycle.Status            `gorm:"column:status;size:32;not null;index" json:"status"`
	Signature     string                      `gorm:"column:signature;type:text;not null" json:"-"`
	CancelledAt   *time.Time                  `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
}

// Payload returns the signed core terms of the license.
func (l *License) Payload() signature.Payload {
	return signature.Payload{
		TenantID:   l.TenantID,
		Plan:       string(l.Plan),
		Modules:    l.Modules,
		UsersLimit: l.UsersLimit,
		UnitsLimit: l.UnitsLimit,
		StartAt:    l.StartAt,
		EndAt:      l.EndAt,
	}
}

func (l *License) Terms() *entitlement.Terms {
	return &entitlement.Terms{
		LicenseID: l.ID,
		TenantID:  l.TenantID,
		Plan:      l.Plan,
		Modules:   append([]string(nil), l.Modules...),
		Status:    l.Status,
		StartAt:   l.StartAt,
		EndAt:     l.EndAt,
	}
}

func (l *License) Evaluate(now time.Time) lifecycle.Evaluation {
	return lifecycle.Evaluate(l.Status, l.StartAt, l.EndAt, now)
}

// CanAddUser reports whether one more user fits within the seat limit.
func (l *License) CanAddUser(current int) bool {
	return current < l.UsersLimit
}

// Migrate creates the licenses table and the partial unique index that keeps
// at most one non-cancelled license per tenant.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&License{}); err != nil {
		return err
	}

	if db.Dialector.Name() == "mysql" {
		return nil
	}

	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_licenses_tenant_live ON licenses (tenant_id) WHERE status <> 'cancelled'`).Error
}

// View is the read model returned to callers, with the derived validity
// fields layered on the stored status.
type View struct {
	*License
	Evaluation lifecycle.Evaluation `json:"evaluation"`
}

func NewView(l *License, now time.Time) *View {
	return &View{License: l, Evaluation: l.Evaluate(now)}
}

// MyLicense is the tenant-facing license summary. Legacy is set when the
// tenant has no signed license and the reduced legacy columns were used.
type MyLicense struct {
	Legacy          bool             `json:"legacy"`
	LicenseID       string           `json:"license_id,omitempty"`
	Code            string           `json:"code,omitempty"`
	Plan            entitlement.Plan `json:"plan,omitempty"`
	Status          lifecycle.Status `json:"status"`
	EffectiveStatus lifecycle.Status `json:"effective_status"`
	Modules         []string         `json:"modules"`
	UsersLimit      int              `json:"users_limit"`
	UnitsLimit      *int             `json:"units_limit,omitempty"`
	StartAt         *time.Time       `json:"start_at,omitempty"`
	EndAt           *time.Time       `json:"end_at,omitempty"`
	IsExpired       bool             `json:"is_expired"`
	IsActive        bool             `json:"is_active"`
	DaysUntilExpiry int              `json:"days_until_expiry"`
}
