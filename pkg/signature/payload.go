package signature

import (
	"encoding/json"
	"sort"
	"time"
)

// Payload is the set of license terms covered by a signature.
type Payload struct {
	TenantID   string
	Plan       string
	Modules    []string
	UsersLimit int
	UnitsLimit *int
	StartAt    time.Time
	EndAt      time.Time
}

// Canonical renders the payload as JSON with sorted keys and no whitespace.
// Modules are sorted and de-duplicated, instants are UTC epoch seconds and an
// unset units limit is rendered as null.
func (p Payload) Canonical() ([]byte, error) {
	doc := map[string]any{
		"tenant_id":   p.TenantID,
		"plan":        p.Plan,
		"modules":     normalizeModules(p.Modules),
		"users_limit": p.UsersLimit,
		"units_limit": p.UnitsLimit,
		"start_at":    p.StartAt.UTC().Unix(),
		"end_at":      p.EndAt.UTC().Unix(),
	}

	return json.Marshal(doc)
}

func normalizeModules(modules []string) []string {
	out := make([]string, 0, len(modules))
	seen := make(map[string]struct{}, len(modules))
	for _, m := range modules {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
