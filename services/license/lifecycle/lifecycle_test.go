package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(Suspended, Active))
	require.True(t, CanTransition(Active, Active))
	require.True(t, CanTransition(Active, Cancelled))
	require.True(t, CanTransition(Suspended, Cancelled))

	require.False(t, CanTransition(Cancelled, Active))
	require.False(t, CanTransition(Cancelled, Cancelled))
	require.False(t, CanTransition(Active, Suspended))
	require.False(t, CanTransition(Active, Expired))
}

func TestEvaluate(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		status    Status
		now       time.Time
		active    bool
		expired   bool
		days      int
		effective Status
	}{
		{"active within window", Active, start.Add(48 * time.Hour), true, false, 362, Active},
		{"suspended within window", Suspended, start.Add(time.Hour), false, false, 363, Suspended},
		{"active before start", Active, start.Add(-time.Hour), false, false, 364, Active},
		{"active after end keeps stored status", Active, end.Add(time.Second), false, true, 0, Expired},
		{"cancelled after end", Cancelled, end.Add(time.Hour), false, true, 0, Cancelled},
		{"exactly at end", Active, end, true, false, 0, Active},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Evaluate(tt.status, start, end, tt.now)
			require.Equal(t, tt.active, ev.IsActive)
			require.Equal(t, tt.expired, ev.IsExpired)
			require.Equal(t, tt.days, ev.DaysUntilExpiry)
			require.Equal(t, tt.status, ev.Status)
			require.Equal(t, tt.effective, ev.EffectiveStatus)
		})
	}
}
