package distribution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/courier/identity"
	"github.com/opd-ai/courier/store"
	"github.com/opd-ai/courier/wire"
)

// fakePresence reports presence from a fixed set and can fail per
// device.
type fakePresence struct {
	online map[string]bool
	fail   map[string]bool
}

func (f *fakePresence) IsOnline(_ context.Context, id identity.Identity) (bool, error) {
	if f.fail[id.DeviceID] {
		return false, errors.New("presence backend unavailable")
	}
	return f.online[id.DeviceID], nil
}

func testEnv() *wire.Envelope {
	return &wire.Envelope{
		ID:   "m-1",
		From: identity.New("app1", "alice", "dev-a"),
		To:   []identity.Identity{identity.NewBare("app1", "bob")},
	}
}

func TestDistributePartitionsByPresence(t *testing.T) {
	mem := store.NewMemory()
	mem.AddDevice("app1", "bob", store.DeviceEndpoint{DeviceID: "d1"})
	mem.AddDevice("app1", "bob", store.DeviceEndpoint{DeviceID: "d2", PushToken: "tok", PushTokenValid: true})
	mem.AddDevice("app1", "bob", store.DeviceEndpoint{DeviceID: "d3"})

	pres := &fakePresence{online: map[string]bool{"d1": true}}
	d := New(mem, pres)

	res, err := d.Distribute(context.Background(), testEnv(), Context{
		TargetUser: "bob", AppID: "app1", Domain: "mx", MessageID: "m-1",
	})
	require.NoError(t, err)
	assert.False(t, res.HadNoDevices)

	require.Len(t, res.Delivered, 1)
	assert.Equal(t, "d1", res.Delivered[0].DeviceID)

	require.Len(t, res.NotDistributed, 2)
	ids := map[string]bool{}
	for _, pair := range res.NotDistributed {
		ids[pair.Device.DeviceID] = true
		assert.Equal(t, pair.Device.DeviceID, pair.Identity.DeviceID)
		assert.Equal(t, "bob", pair.Identity.UserID)
	}
	assert.True(t, ids["d2"] && ids["d3"])
}

func TestDistributeNoDevices(t *testing.T) {
	mem := store.NewMemory()
	d := New(mem, &fakePresence{})

	res, err := d.Distribute(context.Background(), testEnv(), Context{
		TargetUser: "bob", AppID: "app1", MessageID: "m-1",
	})
	require.NoError(t, err)
	assert.True(t, res.HadNoDevices)
	assert.Empty(t, res.Delivered)
	assert.Empty(t, res.NotDistributed)
}

func TestPresenceFailureTreatedAsOffline(t *testing.T) {
	mem := store.NewMemory()
	mem.AddDevice("app1", "bob", store.DeviceEndpoint{DeviceID: "d1"})
	mem.AddDevice("app1", "bob", store.DeviceEndpoint{DeviceID: "d2"})

	pres := &fakePresence{
		online: map[string]bool{"d2": true},
		fail:   map[string]bool{"d1": true},
	}
	d := New(mem, pres)

	res, err := d.Distribute(context.Background(), testEnv(), Context{
		TargetUser: "bob", AppID: "app1", MessageID: "m-1",
	})
	require.NoError(t, err)

	// The failing device lands in NotDistributed; the other is
	// unaffected.
	require.Len(t, res.NotDistributed, 1)
	assert.Equal(t, "d1", res.NotDistributed[0].Device.DeviceID)
	require.Len(t, res.Delivered, 1)
	assert.Equal(t, "d2", res.Delivered[0].DeviceID)
}
