package apikey

import (
	"context"
	"strings"
	"testing"
	"time"

	"licensing-controlplane/pkg/accesscontrol"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &APIKey{})
	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node})
}

func TestCreateAndAuthenticate(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, CreateRequest{
		Name:    "ops",
		KeyType: APIKeyTypeAdmin,
		Scopes:  []string{accesscontrol.ScopeLicensesWrite},
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.Token, "lcsk_admin_"))
	require.NotContains(t, res.SecretHash, strings.SplitN(res.Token, ".", 2)[1])

	key, err := svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	require.Equal(t, res.ID, key.ID)
	require.True(t, key.Scopes.Has(accesscontrol.ScopeLicensesWrite))
	require.NotNil(t, key.LastUsedAt)
}

func TestAuthenticateRejects(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, CreateRequest{Name: "ops", KeyType: APIKeyTypeAdmin, Scopes: []string{accesscontrol.ScopeAdmin}})
	require.NoError(t, err)

	for _, token := range []string{
		"",
		res.KeyID,
		res.KeyID + ".wrong",
		"lcsk_admin_missing.secret",
	} {
		_, err := svc.Authenticate(ctx, token)
		require.True(t, errutil.Is(err, errutil.StatusUnauthorized), token)
	}

	_, err = svc.Revoke(ctx, res.ID)
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, res.Token)
	require.True(t, errutil.Is(err, errutil.StatusUnauthorized))
}

func TestAuthenticateExpired(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour)
	res, err := svc.Create(ctx, CreateRequest{Name: "short", KeyType: APIKeyTypeService, Scopes: []string{accesscontrol.ScopeLicensesRead}, ExpiresAt: &expires})
	require.NoError(t, err)

	svc.now = func() time.Time { return expires.Add(time.Second) }
	_, err = svc.Authenticate(ctx, res.Token)
	require.True(t, errutil.Is(err, errutil.StatusUnauthorized))
}

func TestCreateValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Name: "x", KeyType: APIKeyTypeAdmin, Scopes: []string{"licenses:delete"}})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = svc.Create(ctx, CreateRequest{Name: "x", KeyType: "root", Scopes: []string{accesscontrol.ScopeAdmin}})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	past := time.Now().Add(-time.Minute)
	_, err = svc.Create(ctx, CreateRequest{Name: "x", KeyType: APIKeyTypeAdmin, Scopes: []string{accesscontrol.ScopeAdmin}, ExpiresAt: &past})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestRevokeUnknown(t *testing.T) {
	svc := newService(t)
	_, err := svc.Revoke(context.Background(), "nope")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}
