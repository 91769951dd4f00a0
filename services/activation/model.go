package activation

import (
	"time"

	"licensing-controlplane/pkg/security"

	"gorm.io/datatypes"
)

type Status string

const (
	Active   Status = "active"
	Migrated Status = "migrated"
	Revoked  Status = "revoked"
)

var transitions = map[Status]map[Status]bool{
	Active:   {Migrated: true, Revoked: true},
	Migrated: {Revoked: true},
}

func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Activation binds a license to one deployment instance. Rows are never
// deleted; revoked and migrated bindings stay as audit trail.
type Activation struct {
	ID          string            `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt   time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"column:updated_at" json:"updated_at"`
	LicenseID   string            `gorm:"column:license_id;size:32;not null;uniqueIndex:idx_activations_license_instance,priority:1" json:"license_id"`
	InstanceID  string            `gorm:"column:instance_id;size:64;not null;uniqueIndex:idx_activations_license_instance,priority:2" json:"instance_id"`
	DeviceInfo  datatypes.JSONMap `gorm:"column:device_info" json:"device_info"`
	Status      Status            `gorm:"column:status;size:16;not null;index" json:"status"`
	ActivatedAt time.Time         `gorm:"column:activated_at;not null" json:"activated_at"`
	LastCheckAt time.Time         `gorm:"column:last_check_at;not null" json:"last_check_at"`
}

// InstanceID derives the stable instance identifier. A hardware fingerprint
// wins when present; otherwise the tenant and admin identifiers are hashed so
// repeated activations by the same pair land on the same row.
func InstanceID(fingerprint, tenantIdentifier, adminIdentifier string) string {
	source := fingerprint
	if source == "" {
		source = tenantIdentifier + ":" + adminIdentifier
	}
	return security.SHA256Hex(source)
}

func (a *Activation) DaysSinceActivation(now time.Time) int {
	return wholeDays(now.Sub(a.ActivatedAt))
}

func (a *Activation) DaysSinceLastCheck(now time.Time) int {
	return wholeDays(now.Sub(a.LastCheckAt))
}

// DeviceValue returns a string attribute of the recorded device info.
func (a *Activation) DeviceValue(key string) string {
	if a.DeviceInfo == nil {
		return ""
	}
	v, _ := a.DeviceInfo[key].(string)
	return v
}

func wholeDays(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
