package tenant

import (
	"time"

	"gorm.io/datatypes"
)

type TenantType string

var (
	Personal TenantType = "personal"
	Company  TenantType = "company"
)

func (t TenantType) String() string {
	switch t {
	case Personal, Company:
		return string(t)
	default:
		return ""
	}
}

type TenantStatus string

var (
	Pending   TenantStatus = "pending"
	Active    TenantStatus = "active"
	Suspended TenantStatus = "suspended"
	Archived  TenantStatus = "archived"
)

func (t TenantStatus) String() string {
	switch t {
	case Pending, Active, Suspended, Archived:
		return string(t)
	default:
		return ""
	}
}

// Tenant is the minimal tenant directory entry the licensing flows need.
// TaxID is the tenant identifier presented during activation.
type Tenant struct {
	ID          string       `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt   time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"column:updated_at" json:"updated_at"`
	Code        string       `gorm:"column:code;size:32" json:"code"`
	Type        TenantType   `gorm:"column:type;size:32" json:"type"`
	Name        string       `gorm:"column:name;not null" json:"name"`
	Slug        string       `gorm:"column:slug;size:191;uniqueIndex" json:"slug"`
	TaxID       string       `gorm:"column:tax_id;size:64;uniqueIndex;not null" json:"tax_id"`
	CountryCode string       `gorm:"column:country_code;size:8" json:"country_code"`
	Timezone    string       `gorm:"column:timezone;size:64" json:"timezone"`
	Status      TenantStatus `gorm:"column:status;size:32" json:"status"`
	LicenseID   *string      `gorm:"column:license_id;index" json:"license_id,omitempty"`

	// Columns carried over from tenants licensed before signed licenses existed.
	LicenseKey     *string                     `gorm:"column:license_key" json:"-"`
	ExpirationDate *time.Time                  `gorm:"column:expiration_date" json:"-"`
	MaxUsers       int                         `gorm:"column:max_users;default:0" json:"-"`
	ActiveModules  datatypes.JSONSlice[string] `gorm:"column:active_modules" json:"-"`
	LegacyActive   bool                        `gorm:"column:is_license_active;default:false" json:"-"`
}

// HasLegacyLicense reports whether the tenant carries a pre-signature license.
func (m *Tenant) HasLegacyLicense() bool {
	return m.LicenseKey != nil && *m.LicenseKey != ""
}
