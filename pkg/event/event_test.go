package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargets_Matches(t *testing.T) {
	cases := []struct {
		name    string
		targets *Targets
		userID  string
		roles   []string
		want    bool
	}{
		{"nil targets is broadcast", nil, "u1", nil, true},
		{"empty targets is broadcast", &Targets{}, "u1", []string{"viewer"}, true},
		{"user id match", &Targets{UserIDs: []string{"u1", "u2"}}, "u2", nil, true},
		{"user id miss", &Targets{UserIDs: []string{"u1"}}, "u3", nil, false},
		{"role match", &Targets{Roles: []string{"admin"}}, "u1", []string{"viewer", "admin"}, true},
		{"role miss", &Targets{Roles: []string{"admin"}}, "u1", []string{"viewer"}, false},
		{"user OR role", &Targets{UserIDs: []string{"u9"}, Roles: []string{"admin"}}, "u1", []string{"admin"}, true},
		{"neither", &Targets{UserIDs: []string{"u9"}, Roles: []string{"admin"}}, "u1", []string{"viewer"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.targets.Matches(tc.userID, tc.roles))
		})
	}
}

func TestPriority_Normalize(t *testing.T) {
	assert.Equal(t, PriorityHigh, PriorityHigh.Normalize())
	assert.Equal(t, PriorityLow, PriorityLow.Normalize())
	assert.Equal(t, PriorityNormal, Priority("").Normalize())
	assert.Equal(t, PriorityNormal, Priority("urgent").Normalize())
}

func TestNew(t *testing.T) {
	before := time.Now().UTC()
	ev := New(TypeDashboardUpdate, []byte(`{"branchId":"b1"}`), &Targets{UserIDs: []string{"u1"}})

	require.NotEmpty(t, ev.ID)
	assert.Equal(t, TypeDashboardUpdate, ev.Type)
	assert.False(t, ev.Timestamp.Before(before))
	assert.False(t, ev.Targets.IsBroadcast())

	// IDs must be unique per event.
	ev2 := New(TypeDashboardUpdate, nil, nil)
	assert.NotEqual(t, ev.ID, ev2.ID)
}
