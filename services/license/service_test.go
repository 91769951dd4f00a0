package license

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/signature"
	"licensing-controlplane/pkg/task"
	"licensing-controlplane/pkg/task/mock"
	"licensing-controlplane/pkg/taskname"
	"licensing-controlplane/services/entitlement"
	"licensing-controlplane/services/license/lifecycle"
	"licensing-controlplane/services/tenant"
	"licensing-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testKeyring = func() *signature.Keyring {
	key, err := signature.GenerateKey(2048)
	if err != nil {
		panic(err)
	}
	k, err := signature.NewKeyring(key)
	if err != nil {
		panic(err)
	}
	return k
}()

type fakeSequence struct {
	mu sync.Mutex
	n  int
}

func (f *fakeSequence) NextTenantCode(context.Context) (string, error) {
	return "T001", nil
}

func (f *fakeSequence) NextLicenseCode(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return "LIC-260101-0000" + string(rune('0'+f.n%10)), nil
}

type recordingCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (c *recordingCache) Get(context.Context, string) (*entitlement.Snapshot, bool) { return nil, false }
func (c *recordingCache) Set(context.Context, string, *entitlement.Snapshot)        {}
func (c *recordingCache) Invalidate(_ context.Context, tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, tenantID)
}

type fixture struct {
	db    *gorm.DB
	svc   *Service
	store *entitlement.Store
	cache *recordingCache
}

func newFixture(t *testing.T, enq task.Enqueuer) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &tenant.Tenant{}, &entitlement.Entitlement{})
	require.NoError(t, Migrate(db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	seq := &fakeSequence{}
	store := entitlement.NewStore(entitlement.StoreParams{DB: db, Node: node})
	cache := &recordingCache{}

	svc := NewService(ServiceParams{
		DB:           db,
		Node:         node,
		Seq:          seq,
		Tenants:      tenant.NewService(tenant.ServiceParams{DB: db, Node: node, Seq: seq}),
		Signer:       testKeyring,
		Entitlements: store,
		Cache:        cache,
		Enqueuer:     enq,
	})

	return &fixture{db: db, svc: svc, store: store, cache: cache}
}

func (f *fixture) seedTenant(t *testing.T, id, taxID string) *tenant.Tenant {
	t.Helper()
	tn := &tenant.Tenant{
		ID:     id,
		Name:   "Clinic " + id,
		Slug:   "clinic-" + id,
		TaxID:  taxID,
		Status: tenant.Active,
	}
	require.NoError(t, f.db.Create(tn).Error)
	return tn
}

func basicRequest(tenantID string) CreateRequest {
	start := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	return CreateRequest{
		TenantID:   tenantID,
		Plan:       entitlement.PlanBasic,
		Modules:    []string{"patients", "api"},
		UsersLimit: 5,
		StartAt:    start,
		EndAt:      start.Add(365 * 24 * time.Hour),
	}
}

func TestCreateLicense(t *testing.T) {
	ctrl := gomock.NewController(t)
	enq := mock.NewMockEnqueuer(ctrl)
	enq.EXPECT().
		Enqueue(gomock.Any()).
		DoAndReturn(func(tk *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
			require.Equal(t, taskname.AuditRecord, tk.Type())
			ev, err := task.DecodeAuditEvent(tk)
			require.NoError(t, err)
			require.Equal(t, taskname.LicenseCreated, ev.Action)
			require.Equal(t, "tenant-1", ev.TenantID)
			return &asynq.TaskInfo{}, nil
		})

	f := newFixture(t, enq)
	f.seedTenant(t, "tenant-1", "11222333000181")
	ctx := context.Background()

	lic, err := f.svc.Create(ctx, basicRequest("tenant-1"))
	require.NoError(t, err)
	require.Equal(t, lifecycle.Suspended, lic.Status)
	require.NotEmpty(t, lic.ActivationKey)
	require.NotEqual(t, lic.ID, lic.ActivationKey)
	require.Equal(t, []string{"api", "patients"}, []string(lic.Modules))
	require.True(t, f.svc.VerifySignature(lic))

	ev := lic.Evaluate(time.Now())
	require.False(t, ev.IsActive)
	require.False(t, ev.IsExpired)

	stored, err := f.svc.Get(ctx, lic.ID)
	require.NoError(t, err)
	require.True(t, f.svc.VerifySignature(stored), "signature must survive a storage round trip")

	rows, err := f.store.List(ctx, nil, lic.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.True(t, r.Enabled)
	}
	require.Equal(t, []string{"tenant-1"}, f.cache.invalidated)
}

func TestCreateRejectsInvalidWindow(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTenant(t, "tenant-1", "11222333000181")

	req := basicRequest("tenant-1")
	req.EndAt = req.StartAt

	_, err := f.svc.Create(context.Background(), req)
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	var count int64
	require.NoError(t, f.db.Model(&License{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCreateRejectsUnknownModule(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTenant(t, "tenant-1", "11222333000181")

	req := basicRequest("tenant-1")
	req.Modules = []string{"patients", "payroll"}

	_, err := f.svc.Create(context.Background(), req)
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestCreateUnknownTenant(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Create(context.Background(), basicRequest("ghost"))
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestCreateRejectsSecondLiveLicense(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTenant(t, "tenant-1", "11222333000181")
	ctx := context.Background()

	first, err := f.svc.Create(ctx, basicRequest("tenant-1"))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, basicRequest("tenant-1"))
	require.True(t, errutil.Is(err, errutil.StatusConflict))
	require.Contains(t, err.Error(), "live license")

	_, err = f.svc.Cancel(ctx, first.ID, "ops")
	require.NoError(t, err)

	second, err := f.svc.Create(ctx, basicRequest("tenant-1"))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
}

func TestLiveLicenseIndex(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTenant(t, "tenant-1", "11222333000181")

	lic, err := f.svc.Create(context.Background(), basicRequest("tenant-1"))
	require.NoError(t, err)

	dup := *lic
	dup.ID = "other"
	dup.ActivationKey = "other-key"
	err = f.db.Create(&dup).Error
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestUpdateResignsAndSyncsEntitlements(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTenant(t, "tenant-1", "11222333000181")
	ctx := context.Background()

	lic, err := f.svc.Create(ctx, basicRequest("tenant-1"))
	require.NoError(t, err)

	plan := entitlement.PlanProfessional
	updated, err := f.svc.Update(ctx, lic.ID, UpdateRequest{
		Plan:    &plan,
		Modules: []string{"patients", "ai"},
	})
	require.NoError(t, err)
	require.Equal(t, entitlement.PlanProfessional, updated.Plan)
	require.NotEqual(t, lic.Signature, updated.Signature)
	require.True(t, f.svc.VerifySignature(updated))
	require.False(t, f.svc.VerifySignature(&License{
		TenantID: updated.TenantID, Plan: lic.Plan, Modules: updated.Modules,
		UsersLimit: updated.UsersLimit, StartAt: updated.StartAt, EndAt: updated.EndAt,
		Signature: updated.Signature,
	}))

	rows, err := f.store.List(ctx, nil, lic.ID)
	require.NoError(t, err)
	enabled := map[string]bool{}
	for _, r := range rows {
		enabled[r.Module] = r.Enabled
	}
	require.Equal(t, map[string]bool{"ai": true, "api": false, "patients": true}, enabled)
}

func TestUpdateWithoutChangesKeepsSignature(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTenant(t, "tenant-1", "11222333000181")
	ctx := context.Background()

	lic, err := f.svc.Create(ctx, basicRequest("tenant-1"))
	require.NoError(t, err)

	users := lic.UsersLimit
	updated, err := f.svc.Update(ctx, lic.ID, UpdateRequest{UsersLimit: &users, Modules: []string{"api", "patients"}})
	require.NoError(t, err)
	require.Equal(t, lic.Signature, updated.Signature)
}

func TestUpdateRejectsInvertedWindow(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTenant(t, "tenant-1", "11222333000181")
	ctx := context.Background()

	lic, err := f.svc.Create(ctx, basicRequest("tenant-1"))
	require.NoError(t, err)

	end := lic.StartAt.Add(-time.Hour)
	_, err = f.svc.Update(ctx, lic.ID, UpdateRequest{EndAt: &end})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	stored, err := f.svc.Get(ctx, lic.ID)
	require.NoError(t, err)
	require.Equal(t, lic.Signature, stored.Signature)
}

func TestCancelIsTerminal(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTenant(t, "tenant-1", "11222333000181")
	ctx := context.Background()

	lic, err := f.svc.Create(ctx, basicRequest("tenant-1"))
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, lic.ID, "ops")
	require.NoError(t, err)
	require.Equal(t, lifecycle.Cancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = f.svc.Cancel(ctx, lic.ID, "ops")
	require.True(t, errutil.Is(err, errutil.StatusUnprocessableEntity))

	users := 10
	_, err = f.svc.Update(ctx, lic.ID, UpdateRequest{UsersLimit: &users})
	require.True(t, errutil.Is(err, errutil.StatusUnprocessableEntity))

	err = f.svc.MarkActive(ctx, f.db, cancelled)
	require.True(t, errutil.Is(err, errutil.StatusUnprocessableEntity))
}

func TestSetEntitlement(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTenant(t, "tenant-1", "11222333000181")
	ctx := context.Background()

	lic, err := f.svc.Create(ctx, basicRequest("tenant-1"))
	require.NoError(t, err)

	ent, err := f.svc.SetEntitlement(ctx, lic.ID, "Patients", entitlement.SetRequest{
		Limits: map[string]any{entitlement.LimitMaxRecords: 500},
	}, "ops")
	require.NoError(t, err)
	require.Equal(t, "patients", ent.Module)
	require.True(t, ent.Enabled)

	_, err = f.svc.SetEntitlement(ctx, lic.ID, "patients", entitlement.SetRequest{
		Limits: map[string]any{entitlement.LimitMaxRecords: -3},
	}, "ops")
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = f.svc.SetEntitlement(ctx, "missing", "patients", entitlement.SetRequest{}, "ops")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestTermsForTenant(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTenant(t, "tenant-1", "11222333000181")
	ctx := context.Background()

	_, err := f.svc.TermsForTenant(ctx, "tenant-1")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	lic, err := f.svc.Create(ctx, basicRequest("tenant-1"))
	require.NoError(t, err)

	terms, err := f.svc.TermsForTenant(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, lic.ID, terms.LicenseID)
	require.Equal(t, lifecycle.Suspended, terms.Status)
	require.Equal(t, []string{"api", "patients"}, terms.Modules)
}

func TestMyLicense(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTenant(t, "tenant-1", "11222333000181")
	ctx := context.Background()

	lic, err := f.svc.Create(ctx, basicRequest("tenant-1"))
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkActive(ctx, f.db, lic))

	my, err := f.svc.MyLicense(ctx, "tenant-1")
	require.NoError(t, err)
	require.False(t, my.Legacy)
	require.Equal(t, lic.ID, my.LicenseID)
	require.Equal(t, lifecycle.Active, my.Status)
	require.True(t, my.IsActive)
	require.Equal(t, 364, my.DaysUntilExpiry)
}

func TestMyLicenseAfterWindowKeepsStoredStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTenant(t, "tenant-1", "11222333000181")
	ctx := context.Background()

	req := basicRequest("tenant-1")
	req.StartAt = time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Second)
	req.EndAt = req.StartAt.Add(time.Hour)

	lic, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkActive(ctx, f.db, lic))

	my, err := f.svc.MyLicense(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, lifecycle.Active, my.Status)
	require.Equal(t, lifecycle.Expired, my.EffectiveStatus)
	require.True(t, my.IsExpired)
	require.False(t, my.IsActive)
	require.Zero(t, my.DaysUntilExpiry)
}

func TestMyLicenseLegacy(t *testing.T) {
	f := newFixture(t, nil)
	tn := f.seedTenant(t, "tenant-1", "11222333000181")
	ctx := context.Background()

	key := "LEGACY-KEY"
	expires := time.Now().UTC().Add(10*24*time.Hour + time.Hour)
	require.NoError(t, f.db.Model(tn).Updates(map[string]any{
		"license_key":       key,
		"expiration_date":   expires,
		"max_users":         3,
		"active_modules":    []byte(`["patients"]`),
		"is_license_active": true,
	}).Error)

	my, err := f.svc.MyLicense(ctx, "tenant-1")
	require.NoError(t, err)
	require.True(t, my.Legacy)
	require.Equal(t, lifecycle.Active, my.Status)
	require.Equal(t, 3, my.UsersLimit)
	require.Equal(t, []string{"patients"}, my.Modules)
	require.True(t, my.IsActive)
	require.Equal(t, 10, my.DaysUntilExpiry)
	require.Empty(t, my.LicenseID)

	f.seedTenant(t, "tenant-2", "99888777000166")
	_, err = f.svc.MyLicense(ctx, "tenant-2")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestListExpiring(t *testing.T) {
	f := newFixture(t, nil)
	f.seedTenant(t, "tenant-1", "11222333000181")
	f.seedTenant(t, "tenant-2", "99888777000166")
	ctx := context.Background()

	soon := basicRequest("tenant-1")
	soon.EndAt = time.Now().UTC().Add(5 * 24 * time.Hour)
	a, err := f.svc.Create(ctx, soon)
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkActive(ctx, f.db, a))

	b, err := f.svc.Create(ctx, basicRequest("tenant-2"))
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkActive(ctx, f.db, b))

	out, err := f.svc.ListExpiring(ctx, time.Now(), 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, a.ID, out[0].ID)
}

func TestCanAddUser(t *testing.T) {
	lic := &License{UsersLimit: 2}
	require.True(t, lic.CanAddUser(1))
	require.False(t, lic.CanAddUser(2))
}
