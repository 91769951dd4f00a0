package apikey

import (
	"database/sql/driver"
	"slices"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type APIKeyType string

const (
	APIKeyTypeAdmin   APIKeyType = "admin"
	APIKeyTypeService APIKeyType = "service"
)

type APIKeyStatus string

const (
	APIKeyStatusActive  APIKeyStatus = "active"
	APIKeyStatusRevoked APIKeyStatus = "revoked"
)

// Scopes is stored as a native text[] on postgres and as the array literal
// text elsewhere.
type Scopes pq.StringArray

func (s Scopes) Value() (driver.Value, error) {
	return pq.StringArray(s).Value()
}

func (s *Scopes) Scan(src any) error {
	return (*pq.StringArray)(s).Scan(src)
}

func (Scopes) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

func (s Scopes) Has(scope string) bool {
	return slices.Contains(s, scope)
}

type APIKey struct {
	ID         string       `gorm:"column:id;primaryKey" json:"id"`
	TenantID   *string      `gorm:"column:tenant_id;index" json:"tenant_id,omitempty"`
	Name       string       `gorm:"column:name;size:128" json:"name"`
	KeyID      string       `gorm:"column:key_id;uniqueIndex;not null" json:"key_id"` // e.g. lcsk_admin_xxx
	KeyType    APIKeyType   `gorm:"column:key_type;size:32;not null" json:"key_type"`
	SecretHash string       `gorm:"column:secret_hash;not null" json:"-"` // argon2id, never plaintext
	Scopes     Scopes       `gorm:"column:scopes;not null" json:"scopes"`
	Status     APIKeyStatus `gorm:"column:status;size:16;not null" json:"status"`
	CreatedBy  *string      `gorm:"column:created_by" json:"created_by,omitempty"`
	CreatedAt  time.Time    `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	ExpiresAt  *time.Time   `gorm:"column:expires_at" json:"expires_at,omitempty"`
	LastUsedAt *time.Time   `gorm:"column:last_used_at" json:"last_used_at,omitempty"`
	RevokedAt  *time.Time   `gorm:"column:revoked_at" json:"revoked_at,omitempty"`
}

func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}
