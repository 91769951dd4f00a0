package entitlement

import (
	"context"
	"fmt"

	"licensing-controlplane/pkg/db/option"
	"licensing-controlplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists entitlement rows. Methods taking a tx run inside the caller's
// transaction; a nil tx uses the store's own connection.
type Store struct {
	db   *gorm.DB
	node *snowflake.Node
	repo repository.Repository[Entitlement]
}

type StoreParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewStore(p StoreParams) *Store {
	return &Store{
		db:   p.DB,
		node: p.Node,
		repo: repository.ProvideStore[Entitlement](p.DB),
	}
}

func (s *Store) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

var byModule = option.WithSortBy(option.QuerySortBy{
	SortBy:  "module",
	OrderBy: "asc",
	Allow:   map[string]bool{"module": true},
})

func (s *Store) List(ctx context.Context, tx *gorm.DB, licenseID string) ([]*Entitlement, error) {
	return s.repo.WithTrx(s.conn(tx)).Find(ctx, &Entitlement{LicenseID: licenseID}, byModule)
}

func (s *Store) Get(ctx context.Context, tx *gorm.DB, licenseID, module string) (*Entitlement, error) {
	return s.repo.WithTrx(s.conn(tx)).FindOne(ctx, &Entitlement{LicenseID: licenseID, Module: module})
}

// Seed creates one enabled entitlement per module. Rows that already exist
// are left untouched.
func (s *Store) Seed(ctx context.Context, tx *gorm.DB, licenseID string, modules []string, limits map[string]map[string]any) error {
	if len(modules) == 0 {
		return nil
	}

	rows := make([]*Entitlement, 0, len(modules))
	for _, m := range modules {
		rows = append(rows, &Entitlement{
			ID:        s.node.Generate().String(),
			LicenseID: licenseID,
			Module:    m,
			Enabled:   true,
			Limits:    datatypes.JSONMap(copyLimits(limits[m])),
		})
	}

	err := s.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "license_id"}, {Name: "module"}},
			DoNothing: true,
		}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("seed entitlements: %w", err)
	}
	return nil
}

// Sync aligns rows with the license module set: listed modules are created or
// re-enabled, unlisted ones are disabled. Rows are never deleted here.
func (s *Store) Sync(ctx context.Context, tx *gorm.DB, licenseID string, modules []string) error {
	existing, err := s.List(ctx, tx, licenseID)
	if err != nil {
		return fmt.Errorf("list entitlements: %w", err)
	}

	wanted := make(map[string]bool, len(modules))
	for _, m := range modules {
		wanted[m] = true
	}

	repo := s.repo.WithTrx(s.conn(tx))
	have := make(map[string]bool, len(existing))
	for _, e := range existing {
		have[e.Module] = true
		if wanted[e.Module] == e.Enabled {
			continue
		}
		if err := repo.Update(ctx, e.ID, map[string]any{"enabled": wanted[e.Module]}); err != nil {
			return fmt.Errorf("update entitlement %s: %w", e.Module, err)
		}
	}

	var missing []string
	for _, m := range modules {
		if !have[m] {
			missing = append(missing, m)
		}
	}

	return s.Seed(ctx, tx, licenseID, missing, nil)
}

type SetRequest struct {
	Enabled *bool          `json:"enabled"`
	Limits  map[string]any `json:"limits"`
	// ReplaceLimits drops keys not present in Limits. Otherwise Limits is
	// merged and a null value removes a key.
	ReplaceLimits bool `json:"replace_limits"`
}

// Set upserts a single entitlement row.
func (s *Store) Set(ctx context.Context, tx *gorm.DB, licenseID, module string, req SetRequest) (*Entitlement, error) {
	repo := s.repo.WithTrx(s.conn(tx))

	current, err := repo.FindOne(ctx, &Entitlement{LicenseID: licenseID, Module: module}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}

	if current == nil {
		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		ent := &Entitlement{
			ID:        s.node.Generate().String(),
			LicenseID: licenseID,
			Module:    module,
			Enabled:   enabled,
			Limits:    datatypes.JSONMap(mergeLimits(nil, req.Limits, true)),
		}
		if err := repo.Create(ctx, ent); err != nil {
			return nil, err
		}
		return ent, nil
	}

	updates := map[string]any{}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	if req.Limits != nil || req.ReplaceLimits {
		updates["limits"] = datatypes.JSONMap(mergeLimits(current.Limits, req.Limits, req.ReplaceLimits))
	}
	if len(updates) > 0 {
		if err := repo.Update(ctx, current.ID, updates); err != nil {
			return nil, err
		}
	}

	return repo.FindOne(ctx, &Entitlement{ID: current.ID})
}

func copyLimits(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func mergeLimits(current map[string]any, patch map[string]any, replace bool) map[string]any {
	out := map[string]any{}
	if !replace {
		for k, v := range current {
			out[k] = v
		}
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
