package room

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveIsSingleInstance(t *testing.T) {
	reg, _ := newTestRegistry()

	const n = 32
	rooms := make([]*Room, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rooms[i] = reg.Resolve("lobby")
		}()
	}
	wg.Wait()

	for _, r := range rooms[1:] {
		assert.Same(t, rooms[0], r)
	}
	assert.Equal(t, 1, reg.Len())
}

func TestConcurrentBroadcastersOneWins(t *testing.T) {
	reg, _ := newTestRegistry()

	const n = 16
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := newParticipant("cam", RoleBroadcaster)
			_, errs[i] = reg.Join("stage", func(r *Room) error {
				return r.AttachBroadcaster(p.session)
			})
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrRoomBusy)
	}
	assert.Equal(t, 1, wins)
}

func TestRemoveIfEmpty(t *testing.T) {
	reg, _ := newTestRegistry()

	r := reg.Resolve("busy")
	v := newParticipant("v", RoleViewer)
	require.NoError(t, r.AttachViewer(v.session))
	assert.False(t, reg.RemoveIfEmpty("busy"))

	r.DetachViewer(v.session)
	assert.True(t, reg.RemoveIfEmpty("busy"))
	assert.False(t, reg.RemoveIfEmpty("busy"))
	assert.False(t, reg.RemoveIfEmpty("never-created"))
	assert.Zero(t, reg.Len())

	// a holder of the removed room can't attach to it anymore
	assert.ErrorIs(t, r.AttachViewer(newParticipant("v2", RoleViewer).session), ErrRoomRetired)
}

func TestJoinRetriesOnRetiredRoom(t *testing.T) {
	reg, _ := newTestRegistry()

	attempts := 0
	var first *Room
	got, err := reg.Join("hall", func(r *Room) error {
		attempts++
		if attempts == 1 {
			first = r
			// someone else empties and removes the room between resolve and attach
			require.True(t, reg.RemoveIfEmpty("hall"))
		}
		return r.AttachViewer(newParticipant("v", RoleViewer).session)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NotSame(t, first, got)

	current, ok := reg.Lookup("hall")
	require.True(t, ok)
	assert.Same(t, got, current)
}

func TestSnapshotIsSorted(t *testing.T) {
	reg, _ := newTestRegistry()

	b := newParticipant("cam", RoleBroadcaster)
	require.NoError(t, reg.Resolve("zeta").AttachBroadcaster(b.session))
	reg.Resolve("alpha")

	infos := reg.Snapshot()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "empty", infos[0].State)
	assert.Equal(t, "zeta", infos[1].Name)
	assert.Equal(t, "broadcasting_idle", infos[1].State)
	assert.Equal(t, "cam", infos[1].Broadcaster)
}
