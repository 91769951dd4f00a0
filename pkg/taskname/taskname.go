package taskname

const (
	// Audit tasks
	AuditRecord = "audit:record"

	// License tasks
	LicenseExpiryScan = "license:expiry:scan"
)

// Audit actions
const (
	LicenseCreated    = "license.created"
	LicenseUpdated    = "license.updated"
	LicenseCancelled  = "license.cancelled"
	LicenseActivated  = "license.activated"
	LicenseExpiring   = "license.expiring"
	ActivationRevoked = "activation.revoked"
	ActivationMigrate = "activation.migrated"
	EntitlementSet    = "entitlement.updated"
)
