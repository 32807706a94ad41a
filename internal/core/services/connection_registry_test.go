package services

import (
	"fmt"
	"sync"
	"testing"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionRegistry_BindUnbind(t *testing.T) {
	reg := NewConnectionRegistry(testLogger())

	assert.False(t, reg.IsOnline("alice"))
	assert.Empty(t, reg.ConnectionsFor("alice"))

	c1 := connect(t, reg, "alice")
	c2 := connect(t, reg, "alice")
	assert.True(t, reg.IsOnline("alice"))
	assert.ElementsMatch(t, []domain.ConnectionID{c1, c2}, reg.ConnectionsFor("alice"))

	conn, err := reg.Unbind(c1)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), conn.UserID)
	assert.True(t, reg.IsOnline("alice"))

	_, err = reg.Unbind(c2)
	require.NoError(t, err)
	assert.False(t, reg.IsOnline("alice"))
	assert.Empty(t, reg.ConnectionsFor("alice"))
	assert.NoError(t, reg.Verify())

	_, err = reg.Unbind(c2)
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestConnectionRegistry_BindIsIdempotentButNotReassignable(t *testing.T) {
	reg := NewConnectionRegistry(testLogger())

	var changes []ports.RegistryChange
	reg.Subscribe(func(c ports.RegistryChange) { changes = append(changes, c) })

	id := connect(t, reg, "alice")
	require.NoError(t, reg.Bind(id, "alice"))
	assert.Len(t, changes, 1, "rebinding to the same user must not emit")

	assert.ErrorIs(t, reg.Bind(id, "bob"), domain.ErrAlreadyBound)
	assert.ErrorIs(t, reg.Bind("missing", "bob"), domain.ErrConnectionNotFound)
	assert.ErrorIs(t, reg.Bind(id, ""), domain.ErrValidation)
	assert.False(t, reg.IsOnline("bob"))
}

func TestConnectionRegistry_UnboundConnectionsAreInvisible(t *testing.T) {
	reg := NewConnectionRegistry(testLogger())

	var changes []ports.RegistryChange
	reg.Subscribe(func(c ports.RegistryChange) { changes = append(changes, c) })

	conn := reg.Register("10.0.0.1:1234")
	stats := reg.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 0, stats.OnlineUsers)

	_, err := reg.Unbind(conn.ID)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestConnectionRegistry_ChangesReportRemaining(t *testing.T) {
	reg := NewConnectionRegistry(testLogger())

	var changes []ports.RegistryChange
	reg.Subscribe(func(c ports.RegistryChange) { changes = append(changes, c) })

	c1 := connect(t, reg, "alice")
	c2 := connect(t, reg, "alice")
	_, _ = reg.Unbind(c1)
	_, _ = reg.Unbind(c2)

	require.Len(t, changes, 4)
	assert.Equal(t, []int{1, 2, 1, 0}, []int{changes[0].Remaining, changes[1].Remaining, changes[2].Remaining, changes[3].Remaining})
	assert.Equal(t, ports.ConnectionUnbound, changes[3].Type)
}

func TestConnectionRegistry_OnlineIffConnectionsUnderConcurrency(t *testing.T) {
	reg := NewConnectionRegistry(testLogger())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			user := domain.UserID(fmt.Sprintf("user-%d", w%3))
			for i := 0; i < 200; i++ {
				conn := reg.Register("test")
				_ = reg.Bind(conn.ID, user)
				reg.Touch(conn.ID)
				if i%2 == 0 {
					_, _ = reg.Unbind(conn.ID)
				}
			}
		}(w)
	}
	wg.Wait()

	require.NoError(t, reg.Verify())
	for i := 0; i < 3; i++ {
		u := domain.UserID(fmt.Sprintf("user-%d", i))
		assert.Equal(t, reg.IsOnline(u), len(reg.ConnectionsFor(u)) > 0)
	}
	assert.Len(t, reg.OnlineUsers(), 3)
	assert.Len(t, reg.BoundConnections(), reg.Stats().BoundConnections)
}

func TestConnectionRegistry_TouchUpdatesActivity(t *testing.T) {
	reg := NewConnectionRegistry(testLogger())
	id := connect(t, reg, "alice")

	before, ok := reg.Get(id)
	require.True(t, ok)
	reg.Touch(id)
	after, _ := reg.Get(id)
	assert.False(t, after.LastActivity.Before(before.LastActivity))

	_, ok = reg.Get("nope")
	assert.False(t, ok)
}
