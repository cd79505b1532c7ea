package resources

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/fossawork/dispatcher/internal/models"
)

func testManager(t *testing.T, limits Limits) *Manager {
	t.Helper()
	return New(limits, arbor.NewLogger())
}

func TestCanAllocate_RespectsSessionLimit(t *testing.T) {
	m := testManager(t, Limits{MaxSessions: 2})
	req := models.ResourceRequirement{Sessions: 1}

	require.True(t, m.CanAllocate(req))
	m.Allocate("a", req)
	require.True(t, m.CanAllocate(req))
	m.Allocate("b", req)
	require.False(t, m.CanAllocate(req))
}

func TestRelease_FreesCapacity(t *testing.T) {
	m := testManager(t, Limits{MaxSessions: 1})
	req := models.ResourceRequirement{Sessions: 1}

	m.Allocate("a", req)
	require.False(t, m.CanAllocate(req))

	m.Release("a")
	require.True(t, m.CanAllocate(req))
}

func TestRelease_UnknownHolder_NoOp(t *testing.T) {
	m := testManager(t, Limits{MaxSessions: 1})
	require.NotPanics(t, func() { m.Release("does-not-exist") })
}

func TestUtilization_ReflectsUsage(t *testing.T) {
	m := testManager(t, Limits{MaxSessions: 4, MaxMemoryMB: 1000})
	m.Allocate("a", models.ResourceRequirement{Sessions: 1, MemoryMB: 250})

	u := m.Utilization()
	require.Equal(t, 0.25, u.Sessions)
	require.Equal(t, 0.25, u.MemoryMB)
}
