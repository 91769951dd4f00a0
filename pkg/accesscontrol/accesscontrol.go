package accesscontrol

import (
	"fmt"

	"licensing-controlplane/pkg/config"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("accesscontrol", fx.Provide(ProvideEnforcer))

// Scopes granted to admin API keys.
const (
	ScopeLicensesRead     = "licenses:read"
	ScopeLicensesWrite    = "licenses:write"
	ScopeActivationsWrite = "activations:write"
	ScopeAdmin            = "admin"
)

const (
	ObjectLicenses     = "licenses"
	ObjectEntitlements = "entitlements"
	ObjectActivations  = "activations"

	ActionRead  = "read"
	ActionWrite = "write"
)

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

var defaultPolicies = [][]string{
	{ScopeLicensesRead, ObjectLicenses, ActionRead},
	{ScopeLicensesRead, ObjectEntitlements, ActionRead},
	{ScopeLicensesWrite, ObjectLicenses, ActionWrite},
	{ScopeLicensesWrite, ObjectEntitlements, ActionWrite},
	{ScopeActivationsWrite, ObjectActivations, ActionWrite},
	{ScopeAdmin, "*", "*"},
}

// licenses:write implies licenses:read.
var defaultGroupings = [][]string{
	{ScopeLicensesWrite, ScopeLicensesRead},
	{ScopeActivationsWrite, ScopeLicensesRead},
}

var knownScopes = map[string]struct{}{
	ScopeLicensesRead:     {},
	ScopeLicensesWrite:    {},
	ScopeActivationsWrite: {},
	ScopeAdmin:            {},
}

func KnownScope(scope string) bool {
	_, ok := knownScopes[scope]
	return ok
}

type Enforcer struct {
	e *casbin.SyncedEnforcer
}

type Params struct {
	fx.In
	Config *config.Config
}

// ProvideEnforcer loads the model and policy files named by ACCESS_CONTROL
// when both are set, and the built-in scope policy otherwise.
func ProvideEnforcer(p Params) (*Enforcer, error) {
	ac := p.Config.AccessControl
	if ac.Model != "" && ac.Policy != "" {
		e, err := casbin.NewSyncedEnforcer(ac.Model, ac.Policy)
		if err != nil {
			return nil, fmt.Errorf("load access control policy: %w", err)
		}
		zap.L().Info("access control loaded from files", zap.String("model", ac.Model), zap.String("policy", ac.Policy))
		return &Enforcer{e: e}, nil
	}
	return NewDefault()
}

func NewDefault() (*Enforcer, error) {
	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, fmt.Errorf("parse access control model: %w", err)
	}

	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, fmt.Errorf("add policies: %w", err)
	}
	if _, err := e.AddGroupingPolicies(defaultGroupings); err != nil {
		return nil, fmt.Errorf("add groupings: %w", err)
	}

	return &Enforcer{e: e}, nil
}

// Allowed reports whether any of scopes may perform act on obj.
func (a *Enforcer) Allowed(scopes []string, obj, act string) bool {
	for _, s := range scopes {
		ok, err := a.e.Enforce(s, obj, act)
		if err != nil {
			zap.L().Error("access control evaluation failed", zap.String("scope", s), zap.Error(err))
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
