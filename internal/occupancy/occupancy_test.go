package occupancy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplySnapshotReplacesTable(t *testing.T) {
	tr := NewTracker()
	tr.ApplySnapshot(map[string]int{"room-a": 2, "room-b": 1})
	assert.Equal(t, 2, tr.CountOf("room-a"))

	tr.ApplySnapshot(map[string]int{"room-b": 3})
	assert.Equal(t, 0, tr.CountOf("room-a"))
	assert.Equal(t, 3, tr.CountOf("room-b"))
}

func TestApplyUpdateClampsNegative(t *testing.T) {
	tr := NewTracker()
	tr.ApplyUpdate("room-a", -5)
	assert.Equal(t, 0, tr.CountOf("room-a"))
}

func TestSubscribeReceivesSnapshot(t *testing.T) {
	tr := NewTracker()
	ch := tr.Subscribe()
	defer tr.Unsubscribe(ch)

	tr.ApplyUpdate("room-a", 4)

	select {
	case snap := <-ch:
		assert.Equal(t, 4, snap["room-a"])
	case <-time.After(time.Second):
		t.Fatal("expected a notification")
	}
}

func TestRemoveDropsRoom(t *testing.T) {
	tr := NewTracker()
	tr.ApplyUpdate("room-a", 2)
	tr.Remove("room-a")
	_, ok := tr.Snapshot()["room-a"]
	assert.False(t, ok)
}
