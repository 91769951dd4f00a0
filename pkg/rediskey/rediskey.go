package rediskey

import "fmt"

const (
	TenantPrefix        = "tenant"
	TenantLicensePrefix = "tenant:license"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildTenantLicenseKey returns "tenant:license:{tenantID}"
func BuildTenantLicenseKey(tenantID string) string {
	return NamespaceKey(TenantLicensePrefix, tenantID)
}
