package entitlement

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gosimple/slug"
)

type Plan string

const (
	PlanBasic        Plan = "basic"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
	PlanCustom       Plan = "custom"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanBasic, PlanProfessional, PlanEnterprise, PlanCustom:
		return true
	default:
		return false
	}
}

// Module names form a closed set.
const (
	ModulePatients     = "patients"
	ModuleAppointments = "appointments"
	ModuleClinical     = "clinical"
	ModuleFinancial    = "financial"
	ModuleStock        = "stock"
	ModuleProcedures   = "procedures"
	ModuleTISS         = "tiss"
	ModuleBI           = "bi"
	ModuleTelemed      = "telemed"
	ModuleMobile       = "mobile"
	ModuleAPI          = "api"
	ModuleReports      = "reports"
	ModuleBackup       = "backup"
	ModuleIntegration  = "integration"
	ModuleAI           = "ai"
)

var knownModules = map[string]struct{}{
	ModulePatients: {}, ModuleAppointments: {}, ModuleClinical: {}, ModuleFinancial: {},
	ModuleStock: {}, ModuleProcedures: {}, ModuleTISS: {}, ModuleBI: {}, ModuleTelemed: {},
	ModuleMobile: {}, ModuleAPI: {}, ModuleReports: {}, ModuleBackup: {}, ModuleIntegration: {},
	ModuleAI: {},
}

func IsKnownModule(module string) bool {
	_, ok := knownModules[module]
	return ok
}

// Limit names.
const (
	LimitMaxRecords          = "max_records"
	LimitMaxUsers            = "max_users"
	LimitMaxStorageGB        = "max_storage_gb"
	LimitMaxAPICallsPerDay   = "max_api_calls_per_day"
	LimitMaxExportsPerDay    = "max_exports_per_day"
	LimitMaxBackups          = "max_backups"
	LimitMaxIntegrations     = "max_integrations"
	LimitRetentionDays       = "retention_days"
	LimitConcurrentSessions  = "concurrent_sessions"
	LimitCustomFields        = "custom_fields"
	LimitMonthlyTokens       = "monthly_tokens"
	defaultLimitForUnmetered = LimitMaxRecords
)

// Unlimited is the sentinel limit value meaning "no cap".
const Unlimited int64 = -1

// meteredModules maps metered capabilities to the limit their quota is tracked against.
var meteredModules = map[string]string{
	ModuleAI: LimitMonthlyTokens,
}

// MeteredLimit returns the quota limit name for a metered module.
func MeteredLimit(module string) (string, bool) {
	name, ok := meteredModules[module]
	return name, ok
}

// DefaultLimitName is the limit consulted when a query names none.
func DefaultLimitName(module string) string {
	if name, ok := meteredModules[module]; ok {
		return name
	}
	return defaultLimitForUnmetered
}

// planDefaults is the only place plan tiers are mapped to default limits.
var planDefaults = map[string]map[Plan]int64{
	LimitMonthlyTokens: {
		PlanBasic:        10_000,
		PlanProfessional: 50_000,
		PlanCustom:       200_000,
		PlanEnterprise:   Unlimited,
	},
}

// ResolveLimit returns the explicit limit when set, otherwise the plan default
// for the named limit. Unknown plans fall back to the basic tier. ok is false
// when neither an explicit value nor a default exists.
func ResolveLimit(plan Plan, name string, explicit *int64) (limit int64, ok bool) {
	if explicit != nil {
		return *explicit, true
	}

	defaults, found := planDefaults[name]
	if !found {
		return 0, false
	}

	if v, found := defaults[plan]; found {
		return v, true
	}
	return defaults[PlanBasic], true
}

// NormalizeModule lower-cases and slugifies a module name.
func NormalizeModule(module string) string {
	return slug.Make(strings.TrimSpace(module))
}

// NormalizeModules returns the sorted, de-duplicated module set and rejects
// names outside the catalog.
func NormalizeModules(modules []string) ([]string, error) {
	seen := make(map[string]struct{}, len(modules))
	out := make([]string, 0, len(modules))
	var unknown []string

	for _, m := range modules {
		name := NormalizeModule(m)
		if name == "" {
			continue
		}
		if !IsKnownModule(name) {
			unknown = append(unknown, m)
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown modules: %s", strings.Join(unknown, ", "))
	}

	sort.Strings(out)
	return out, nil
}
