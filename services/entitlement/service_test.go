package entitlement

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"

	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/services/license/lifecycle"
	"licensing-controlplane/services/testutil"
)

type fakeSource struct {
	terms *Terms
	err   error
	calls atomic.Int32
}

func (f *fakeSource) TermsForTenant(ctx context.Context, tenantID string) (*Terms, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.terms == nil || f.terms.TenantID != tenantID {
		return nil, errutil.NotFound("license not found", nil)
	}
	t := *f.terms
	return &t, nil
}

type fakeUsage struct {
	amount int64
}

func (f *fakeUsage) PeriodUsage(ctx context.Context, licenseID, module string, now time.Time) (int64, error) {
	return f.amount, nil
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string]*Snapshot
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: map[string]*Snapshot{}}
}

func (c *memoryCache) Get(_ context.Context, tenantID string) (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.items[tenantID]
	return s, ok
}

func (c *memoryCache) Set(_ context.Context, tenantID string, snap *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[tenantID] = snap
}

func (c *memoryCache) Invalidate(_ context.Context, tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, tenantID)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := testutil.NewTestDB(t, &Entitlement{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	return NewStore(StoreParams{DB: db, Node: node})
}

func activeTerms(plan Plan, modules ...string) *Terms {
	now := time.Now().UTC()
	return &Terms{
		LicenseID: "lic-1",
		TenantID:  "tenant-1",
		Plan:      plan,
		Modules:   modules,
		Status:    lifecycle.Active,
		StartAt:   now.Add(-24 * time.Hour),
		EndAt:     now.Add(30 * 24 * time.Hour),
	}
}

func TestStoreSeedAndSync(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Seed(ctx, nil, "lic-1", []string{ModulePatients, ModuleAI}, map[string]map[string]any{
		ModuleAI: {LimitMonthlyTokens: 500},
	}))

	rows, err := store.List(ctx, nil, "lic-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, ModuleAI, rows[0].Module)
	limit, ok := rows[0].NumericLimit(LimitMonthlyTokens)
	require.True(t, ok)
	require.Equal(t, int64(500), *limit)

	// seeding again is a no-op
	require.NoError(t, store.Seed(ctx, nil, "lic-1", []string{ModulePatients}, nil))
	rows, err = store.List(ctx, nil, "lic-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, store.Sync(ctx, nil, "lic-1", []string{ModulePatients, ModuleBI}))
	rows, err = store.List(ctx, nil, "lic-1")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byName := map[string]*Entitlement{}
	for _, r := range rows {
		byName[r.Module] = r
	}
	require.False(t, byName[ModuleAI].Enabled)
	require.True(t, byName[ModulePatients].Enabled)
	require.True(t, byName[ModuleBI].Enabled)

	require.NoError(t, store.Sync(ctx, nil, "lic-1", []string{ModuleAI}))
	ai, err := store.Get(ctx, nil, "lic-1", ModuleAI)
	require.NoError(t, err)
	require.True(t, ai.Enabled)
}

func TestStoreSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	disabled := false
	ent, err := store.Set(ctx, nil, "lic-1", ModuleReports, SetRequest{
		Enabled: &disabled,
		Limits:  map[string]any{LimitMaxExportsPerDay: 5},
	})
	require.NoError(t, err)
	require.False(t, ent.Enabled)

	ent, err = store.Set(ctx, nil, "lic-1", ModuleReports, SetRequest{
		Limits: map[string]any{LimitMaxBackups: 2, LimitMaxExportsPerDay: nil},
	})
	require.NoError(t, err)
	require.False(t, ent.Enabled)
	_, ok := ent.Limit(LimitMaxExportsPerDay)
	require.False(t, ok)
	backups, ok := ent.NumericLimit(LimitMaxBackups)
	require.True(t, ok)
	require.Equal(t, int64(2), *backups)

	ent, err = store.Set(ctx, nil, "lic-1", ModuleReports, SetRequest{
		Limits:        map[string]any{LimitRetentionDays: 30},
		ReplaceLimits: true,
	})
	require.NoError(t, err)
	require.Len(t, ent.Limits, 1)
}

func TestQueryUnmeteredModule(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx, nil, "lic-1", []string{ModulePatients}, map[string]map[string]any{
		ModulePatients: {LimitMaxRecords: 100},
	}))

	svc := NewService(ServiceParams{
		Source: &fakeSource{terms: activeTerms(PlanBasic, ModulePatients)},
		Store:  store,
		Cache:  noopCache{},
	})

	usage := int64(40)
	res, err := svc.Query(ctx, QueryRequest{TenantID: "tenant-1", Module: "patients", Usage: &usage})
	require.NoError(t, err)
	require.True(t, res.Enabled)
	require.True(t, res.Allowed)
	require.False(t, res.Metered)
	require.Equal(t, LimitMaxRecords, res.LimitName)
	require.True(t, res.WithinLimit)
	require.Equal(t, int64(60), res.Remaining)

	res, err = svc.Query(ctx, QueryRequest{TenantID: "tenant-1", Module: ModuleBI})
	require.NoError(t, err)
	require.False(t, res.Enabled)
	require.False(t, res.Allowed)
}

func TestQueryMeteredModuleUsesPlanDefault(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx, nil, "lic-1", []string{ModuleAI}, nil))

	svc := NewService(ServiceParams{
		Source: &fakeSource{terms: activeTerms(PlanProfessional, ModuleAI)},
		Store:  store,
		Cache:  noopCache{},
		Usage:  &fakeUsage{amount: 49_000},
	})

	res, err := svc.Query(ctx, QueryRequest{TenantID: "tenant-1", Module: ModuleAI})
	require.NoError(t, err)
	require.True(t, res.Metered)
	require.Equal(t, int64(50_000), res.Limit)
	require.Equal(t, int64(49_000), res.Current)
	require.True(t, res.WithinLimit)
	require.Equal(t, int64(1_000), res.Remaining)
}

func TestQueryEnterpriseUnlimited(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(ServiceParams{
		Source: &fakeSource{terms: activeTerms(PlanEnterprise, ModuleAI)},
		Store:  store,
		Cache:  noopCache{},
		Usage:  &fakeUsage{amount: 9_999_999},
	})

	res, err := svc.Query(context.Background(), QueryRequest{TenantID: "tenant-1", Module: ModuleAI})
	require.NoError(t, err)
	require.Equal(t, Unlimited, res.Limit)
	require.True(t, res.WithinLimit)
	require.Equal(t, Unlimited, res.Remaining)
}

func TestQueryUnknownModule(t *testing.T) {
	svc := NewService(ServiceParams{Source: &fakeSource{}, Store: newTestStore(t), Cache: noopCache{}})

	_, err := svc.Query(context.Background(), QueryRequest{TenantID: "tenant-1", Module: "payroll"})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestQueryNoLicense(t *testing.T) {
	svc := NewService(ServiceParams{Source: &fakeSource{}, Store: newTestStore(t), Cache: noopCache{}})

	_, err := svc.Query(context.Background(), QueryRequest{TenantID: "tenant-1", Module: ModuleAI})
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestSnapshotUsesCache(t *testing.T) {
	source := &fakeSource{terms: activeTerms(PlanBasic, ModulePatients)}
	cache := newMemoryCache()
	svc := NewService(ServiceParams{Source: source, Store: newTestStore(t), Cache: cache})
	ctx := context.Background()

	_, err := svc.Snapshot(ctx, "tenant-1")
	require.NoError(t, err)
	_, err = svc.Snapshot(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, int32(1), source.calls.Load())

	svc.Invalidate(ctx, "tenant-1")
	_, err = svc.Snapshot(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, int32(2), source.calls.Load())
}
