package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembershipExcludesSelf(t *testing.T) {
	m := NewMembership("n1", map[string]string{
		"n1": ":7001",
		"n2": ":7002",
		"n3": ":7003",
	})

	_, ok := m.Get("n1")
	assert.False(t, ok)

	all := m.All()
	assert.Len(t, all, 2)
	assert.Equal(t, 3, m.Count())
	assert.Equal(t, 2, m.Majority())
}

func TestMembershipSetReachable(t *testing.T) {
	m := NewMembership("n1", map[string]string{"n1": ":7001", "n2": ":7002"})
	require.NoError(t, m.SetReachable("n2", false))

	p, ok := m.Get("n2")
	require.True(t, ok)
	assert.False(t, p.IsReachable)

	assert.Error(t, m.SetReachable("missing", true))
}
