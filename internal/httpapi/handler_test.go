package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"licensing-controlplane/pkg/accesscontrol"
	"licensing-controlplane/pkg/credential"
	"licensing-controlplane/pkg/db/pagination"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/middleware"
	"licensing-controlplane/services/activation"
	"licensing-controlplane/services/apikey"
	"licensing-controlplane/services/audit"
	"licensing-controlplane/services/entitlement"
	"licensing-controlplane/services/license"
	"licensing-controlplane/services/license/lifecycle"
	"licensing-controlplane/services/quota"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type mockLicenses struct {
	createFn    func(ctx context.Context, req license.CreateRequest) (*license.License, error)
	getFn       func(ctx context.Context, id string) (*license.License, error)
	listFn      func(ctx context.Context, req license.ListRequest) ([]*license.License, *pagination.PageInfo, error)
	updateFn    func(ctx context.Context, id string, req license.UpdateRequest) (*license.License, error)
	cancelFn    func(ctx context.Context, id, actor string) (*license.License, error)
	setEntFn    func(ctx context.Context, licenseID, module string, req entitlement.SetRequest, actor string) (*entitlement.Entitlement, error)
	myLicenseFn func(ctx context.Context, tenantID string) (*license.MyLicense, error)
}

func (m *mockLicenses) Create(ctx context.Context, req license.CreateRequest) (*license.License, error) {
	return m.createFn(ctx, req)
}

func (m *mockLicenses) Get(ctx context.Context, id string) (*license.License, error) {
	return m.getFn(ctx, id)
}

func (m *mockLicenses) List(ctx context.Context, req license.ListRequest) ([]*license.License, *pagination.PageInfo, error) {
	return m.listFn(ctx, req)
}

func (m *mockLicenses) Update(ctx context.Context, id string, req license.UpdateRequest) (*license.License, error) {
	return m.updateFn(ctx, id, req)
}

func (m *mockLicenses) Cancel(ctx context.Context, id, actor string) (*license.License, error) {
	return m.cancelFn(ctx, id, actor)
}

func (m *mockLicenses) SetEntitlement(ctx context.Context, licenseID, module string, req entitlement.SetRequest, actor string) (*entitlement.Entitlement, error) {
	return m.setEntFn(ctx, licenseID, module, req, actor)
}

func (m *mockLicenses) MyLicense(ctx context.Context, tenantID string) (*license.MyLicense, error) {
	return m.myLicenseFn(ctx, tenantID)
}

type mockActivations struct {
	activateFn func(ctx context.Context, req activation.ActivateRequest) (*activation.ActivateResult, error)
	listFn     func(ctx context.Context, licenseID string) ([]*activation.Activation, error)
	revokeFn   func(ctx context.Context, id, actor string) (*activation.Activation, error)
	migrateFn  func(ctx context.Context, id, actor string) (*activation.Activation, error)
}

func (m *mockActivations) Activate(ctx context.Context, req activation.ActivateRequest) (*activation.ActivateResult, error) {
	return m.activateFn(ctx, req)
}

func (m *mockActivations) List(ctx context.Context, licenseID string) ([]*activation.Activation, error) {
	return m.listFn(ctx, licenseID)
}

func (m *mockActivations) Revoke(ctx context.Context, id, actor string) (*activation.Activation, error) {
	return m.revokeFn(ctx, id, actor)
}

func (m *mockActivations) Migrate(ctx context.Context, id, actor string) (*activation.Activation, error) {
	return m.migrateFn(ctx, id, actor)
}

type mockEntitlements struct {
	snapshotFn func(ctx context.Context, tenantID string) (*entitlement.Snapshot, error)
	queryFn    func(ctx context.Context, req entitlement.QueryRequest) (*entitlement.QueryResult, error)
}

func (m *mockEntitlements) Snapshot(ctx context.Context, tenantID string) (*entitlement.Snapshot, error) {
	return m.snapshotFn(ctx, tenantID)
}

func (m *mockEntitlements) Query(ctx context.Context, req entitlement.QueryRequest) (*entitlement.QueryResult, error) {
	return m.queryFn(ctx, req)
}

type mockQuota struct {
	authorizeFn func(ctx context.Context, tenantID, module string, amount int64) (*quota.Decision, error)
	recordFn    func(ctx context.Context, tenantID, module string, req quota.RecordRequest) (*quota.Usage, error)
	usageFn     func(ctx context.Context, tenantID, module string) (*quota.UsageView, error)
}

func (m *mockQuota) Authorize(ctx context.Context, tenantID, module string, amount int64) (*quota.Decision, error) {
	return m.authorizeFn(ctx, tenantID, module, amount)
}

func (m *mockQuota) Record(ctx context.Context, tenantID, module string, req quota.RecordRequest) (*quota.Usage, error) {
	return m.recordFn(ctx, tenantID, module, req)
}

func (m *mockQuota) Usage(ctx context.Context, tenantID, module string) (*quota.UsageView, error) {
	return m.usageFn(ctx, tenantID, module)
}

// keyring maps raw tokens to keys; unknown tokens fail like the real service.
type keyring map[string]*apikey.APIKey

func (k keyring) Authenticate(_ context.Context, token string) (*apikey.APIKey, error) {
	key, ok := k[token]
	if !ok {
		return nil, errutil.Unauthorized("invalid api key", nil)
	}
	return key, nil
}

type mockAudit struct {
	listFn func(ctx context.Context, req audit.ListRequest) ([]*audit.Log, *pagination.PageInfo, error)
}

func (m *mockAudit) List(ctx context.Context, req audit.ListRequest) ([]*audit.Log, *pagination.PageInfo, error) {
	return m.listFn(ctx, req)
}

type staticVerifier map[string]*credential.Claims

func (v staticVerifier) Verify(raw string) (*credential.Claims, error) {
	c, ok := v[raw]
	if !ok {
		return nil, credential.ErrInvalidToken
	}
	return c, nil
}

type staticFlags struct {
	enabled bool
}

func (f staticFlags) Features(context.Context, string) ([]flagsmith.Flag, error) { return nil, nil }

func (f staticFlags) Flags(context.Context, string, ...*flagsmith.Trait) (flagsmith.Flags, error) {
	return flagsmith.Flags{}, nil
}

func (f staticFlags) IsEnabled(context.Context, string, string, bool) bool { return f.enabled }

func strPtr(s string) *string { return &s }

var keys = keyring{
	"reader": {KeyID: "lcsk_admin_r", CreatedBy: strPtr("ops"), Scopes: apikey.Scopes{accesscontrol.ScopeLicensesRead}},
	"writer": {KeyID: "lcsk_admin_w", CreatedBy: strPtr("ops"), Scopes: apikey.Scopes{accesscontrol.ScopeLicensesWrite}},
	"root":   {KeyID: "lcsk_admin_x", Scopes: apikey.Scopes{accesscontrol.ScopeAdmin}},
}

func newTestHandler(t *testing.T, p Params) *gin.Engine {
	t.Helper()

	enforcer, err := accesscontrol.NewDefault()
	require.NoError(t, err)

	if p.Keys == nil {
		p.Keys = keys
	}
	if p.Tokens == nil {
		p.Tokens = staticVerifier{}
	}
	p.Enforcer = enforcer

	h := NewHandler(p)
	h.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	r := gin.New()
	r.Use(middleware.Error())
	h.Register(r)
	return r
}

func do(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func sampleLicense() *license.License {
	return &license.License{
		ID:         "lic-1",
		TenantID:   "tenant-1",
		Plan:       entitlement.PlanBasic,
		Modules:    []string{"patients"},
		UsersLimit: 5,
		Status:     lifecycle.Suspended,
		StartAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndAt:      time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		Signature:  "c2lnbmF0dXJl",
	}
}

func TestCreateLicenseRequiresAPIKey(t *testing.T) {
	r := newTestHandler(t, Params{Licenses: &mockLicenses{}})

	w := do(r, http.MethodPost, "/v1/licenses", `{}`, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/v1/licenses", `{}`, map[string]string{headerAPIKey: "nope"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateLicenseChecksScope(t *testing.T) {
	r := newTestHandler(t, Params{Licenses: &mockLicenses{}})

	w := do(r, http.MethodPost, "/v1/licenses", `{}`, map[string]string{headerAPIKey: "reader"})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "forbidden", errorCode(t, w))
}

func TestCreateLicense(t *testing.T) {
	var got license.CreateRequest
	r := newTestHandler(t, Params{Licenses: &mockLicenses{
		createFn: func(_ context.Context, req license.CreateRequest) (*license.License, error) {
			got = req
			return sampleLicense(), nil
		},
	}})

	body := `{"tenant_id":"tenant-1","plan":"basic","modules":["patients"],"users_limit":5,
		"start_at":"2026-01-01T00:00:00Z","end_at":"2027-01-01T00:00:00Z"}`
	w := do(r, http.MethodPost, "/v1/licenses", body, map[string]string{headerAPIKey: "writer"})
	require.Equal(t, http.StatusCreated, w.Code)

	require.Equal(t, "tenant-1", got.TenantID)
	require.Equal(t, "lcsk_admin_w:ops", got.Actor)
	require.NotContains(t, w.Body.String(), "c2lnbmF0dXJl")

	var view map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Equal(t, "suspended", view["status"])
	require.Equal(t, false, view["evaluation"].(map[string]any)["is_active"])
}

func TestCreateLicenseConflict(t *testing.T) {
	r := newTestHandler(t, Params{Licenses: &mockLicenses{
		createFn: func(context.Context, license.CreateRequest) (*license.License, error) {
			return nil, errutil.Conflict("tenant already holds a license", nil)
		},
	}})

	w := do(r, http.MethodPost, "/v1/licenses", `{"tenant_id":"tenant-1"}`, map[string]string{headerAPIKey: "root"})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestGetLicenseWithReadScope(t *testing.T) {
	r := newTestHandler(t, Params{Licenses: &mockLicenses{
		getFn: func(_ context.Context, id string) (*license.License, error) {
			if id != "lic-1" {
				return nil, errutil.NotFound("license not found", nil)
			}
			return sampleLicense(), nil
		},
	}})

	w := do(r, http.MethodGet, "/v1/licenses/lic-1", "", map[string]string{headerAPIKey: "reader"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/v1/licenses/lic-2", "", map[string]string{headerAPIKey: "writer"})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListLicensesBindsQuery(t *testing.T) {
	var got license.ListRequest
	r := newTestHandler(t, Params{Licenses: &mockLicenses{
		listFn: func(_ context.Context, req license.ListRequest) ([]*license.License, *pagination.PageInfo, error) {
			got = req
			return []*license.License{sampleLicense()}, &pagination.PageInfo{}, nil
		},
	}})

	w := do(r, http.MethodGet, "/v1/licenses?tenant_id=tenant-1&limit=5", "", map[string]string{headerAPIKey: "reader"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "tenant-1", got.TenantID)
	require.Equal(t, 5, got.Limit)
}

func TestActivateIsPublic(t *testing.T) {
	calls := 0
	r := newTestHandler(t, Params{Activations: &mockActivations{
		activateFn: func(_ context.Context, req activation.ActivateRequest) (*activation.ActivateResult, error) {
			calls++
			require.Equal(t, "key-1", req.ActivationKey)
			return &activation.ActivateResult{
				Activation:       &activation.Activation{ID: "act-1", Status: activation.Active},
				AlreadyActivated: calls > 1,
			}, nil
		},
	}})

	body := `{"activation_key":"key-1","tenant_identifier":"12345678000190","admin_identifier":"admin@clinic"}`
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/v1/licenses/activate", body, nil).Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/v1/licenses/activate", body, nil).Code)
}

func TestActivateInvalidSignature(t *testing.T) {
	r := newTestHandler(t, Params{Activations: &mockActivations{
		activateFn: func(context.Context, activation.ActivateRequest) (*activation.ActivateResult, error) {
			return nil, errutil.InvalidSignature("license signature is invalid", nil)
		},
	}})

	w := do(r, http.MethodPost, "/v1/licenses/activate", `{"activation_key":"k"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_signature", errorCode(t, w))
}

func TestRevokeActivationScope(t *testing.T) {
	var gotActor string
	r := newTestHandler(t, Params{Activations: &mockActivations{
		revokeFn: func(_ context.Context, id, actor string) (*activation.Activation, error) {
			gotActor = actor
			return &activation.Activation{ID: id, Status: activation.Revoked}, nil
		},
	}})

	w := do(r, http.MethodPost, "/v1/activations/act-1/revoke", "", map[string]string{headerAPIKey: "writer"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodPost, "/v1/activations/act-1/revoke", "", map[string]string{headerAPIKey: "root"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "lcsk_admin_x", gotActor)
}

func TestListAuditScopedToLicense(t *testing.T) {
	var got audit.ListRequest
	r := newTestHandler(t, Params{Audit: &mockAudit{
		listFn: func(_ context.Context, req audit.ListRequest) ([]*audit.Log, *pagination.PageInfo, error) {
			got = req
			return nil, &pagination.PageInfo{}, nil
		},
	}})

	w := do(r, http.MethodGet, "/v1/licenses/lic-1/audit?license_id=other", "", map[string]string{headerAPIKey: "reader"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "lic-1", got.LicenseID)
}

func TestMyLicenseTenantContext(t *testing.T) {
	r := newTestHandler(t, Params{
		Licenses: &mockLicenses{
			myLicenseFn: func(_ context.Context, tenantID string) (*license.MyLicense, error) {
				return &license.MyLicense{LicenseID: "lic-" + tenantID, Status: lifecycle.Active, IsActive: true}, nil
			},
		},
		Tokens: staticVerifier{"tok": {Scope: credential.ScopeActivation, TenantID: "tenant-9"}},
	})

	require.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/v1/me/license", "", nil).Code)

	w := do(r, http.MethodGet, "/v1/me/license", "", map[string]string{headerTenantID: "tenant-1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"license_id":"lic-tenant-1"`)

	w = do(r, http.MethodGet, "/v1/me/license", "", map[string]string{"Authorization": "Bearer tok"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"license_id":"lic-tenant-9"`)

	w = do(r, http.MethodGet, "/v1/me/license", "", map[string]string{"Authorization": "Bearer tok", headerTenantID: "tenant-1"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodGet, "/v1/me/license", "", map[string]string{"Authorization": "Bearer forged"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestQueryEntitlementParams(t *testing.T) {
	var got entitlement.QueryRequest
	r := newTestHandler(t, Params{Entitlements: &mockEntitlements{
		queryFn: func(_ context.Context, req entitlement.QueryRequest) (*entitlement.QueryResult, error) {
			got = req
			return &entitlement.QueryResult{Module: req.Module, Allowed: true}, nil
		},
	}})

	hdr := map[string]string{headerTenantID: "tenant-1"}
	w := do(r, http.MethodGet, "/v1/me/entitlements/patients?limit=max_records&usage=42", "", hdr)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "max_records", got.Limit)
	require.NotNil(t, got.Usage)
	require.Equal(t, int64(42), *got.Usage)

	w = do(r, http.MethodGet, "/v1/me/entitlements/patients?usage=-1", "", hdr)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func gatedQuota(allowed bool) *mockEntitlements {
	return &mockEntitlements{
		queryFn: func(_ context.Context, req entitlement.QueryRequest) (*entitlement.QueryResult, error) {
			return &entitlement.QueryResult{Module: req.Module, Allowed: allowed}, nil
		},
	}
}

func TestModuleGateBlocksUnlicensedModule(t *testing.T) {
	called := false
	r := newTestHandler(t, Params{
		Entitlements: gatedQuota(false),
		Quota: &mockQuota{
			authorizeFn: func(context.Context, string, string, int64) (*quota.Decision, error) {
				called = true
				return &quota.Decision{}, nil
			},
		},
	})

	w := do(r, http.MethodPost, "/v1/me/usage/ai/authorize", `{"amount":1}`, map[string]string{headerTenantID: "tenant-1"})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.False(t, called)
}

func TestModuleGateHonoursEnforcementFlag(t *testing.T) {
	called := false
	r := newTestHandler(t, Params{
		Entitlements: gatedQuota(false),
		Flags:        staticFlags{enabled: false},
		Quota: &mockQuota{
			usageFn: func(_ context.Context, tenantID, module string) (*quota.UsageView, error) {
				called = true
				return &quota.UsageView{Module: module}, nil
			},
		},
	})

	w := do(r, http.MethodGet, "/v1/me/usage/ai", "", map[string]string{headerTenantID: "tenant-1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, called)
}

func TestAuthorizeUsageQuotaExceeded(t *testing.T) {
	var gotAmount int64
	r := newTestHandler(t, Params{
		Entitlements: gatedQuota(true),
		Quota: &mockQuota{
			authorizeFn: func(_ context.Context, _, module string, amount int64) (*quota.Decision, error) {
				gotAmount = amount
				return nil, errutil.QuotaExceeded("monthly quota exceeded", nil, errutil.WithDetails(
					errutil.Detail{Field: "module", Message: module},
					errutil.Detail{Field: "limit", Message: "10000"},
				))
			},
		},
	})

	w := do(r, http.MethodPost, "/v1/me/usage/ai/authorize", "", map[string]string{headerTenantID: "tenant-1"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "quota_exceeded", errorCode(t, w))
	require.Equal(t, int64(1), gotAmount)
}

func TestRecordUsage(t *testing.T) {
	var got quota.RecordRequest
	r := newTestHandler(t, Params{
		Entitlements: gatedQuota(true),
		Quota: &mockQuota{
			recordFn: func(_ context.Context, _, module string, req quota.RecordRequest) (*quota.Usage, error) {
				got = req
				return &quota.Usage{Module: module}, nil
			},
		},
	})

	w := do(r, http.MethodPost, "/v1/me/usage/ai", `{"amount":250,"latency_ms":40}`, map[string]string{headerTenantID: "tenant-1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, int64(250), got.Amount)
	require.Equal(t, 40*time.Millisecond, got.Latency)
	require.True(t, got.Success)

	do(r, http.MethodPost, "/v1/me/usage/ai", `{"amount":0,"success":false}`, map[string]string{headerTenantID: "tenant-1"})
	require.False(t, got.Success)
}

func TestRecordUsageBypassesModuleGate(t *testing.T) {
	called := false
	r := newTestHandler(t, Params{
		Entitlements: gatedQuota(false),
		Quota: &mockQuota{
			recordFn: func(_ context.Context, _, module string, _ quota.RecordRequest) (*quota.Usage, error) {
				called = true
				return &quota.Usage{Module: module}, nil
			},
		},
	})

	w := do(r, http.MethodPost, "/v1/me/usage/ai", `{"amount":10}`, map[string]string{headerTenantID: "tenant-1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, called)
}
