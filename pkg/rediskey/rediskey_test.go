package rediskey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildTenantLicenseKey(t *testing.T) {
	require.Equal(t, "tenant:license:42", BuildTenantLicenseKey("42"))
	require.Equal(t, "tenant:42", NamespaceKey(TenantPrefix, "42"))
}
