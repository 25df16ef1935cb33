package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djyosi/rubisos/internal/models"
	"github.com/djyosi/rubisos/internal/repository"
)

func newTestRegistry() *PresenceRegistry {
	return NewPresenceRegistry(10, repository.NewMemoryStore())
}

type deadConn struct{}

func (deadConn) Send(Event) error { return errors.New("connection reset by peer") }
func (deadConn) Close() error     { return nil }

func TestUpsertProfileKeepsIdentityStable(t *testing.T) {
	r := newTestRegistry()

	first := r.UpsertProfile(models.User{Phone: "+972501234567", Name: "Dana"})
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, 10.0, first.AlertRadiusKm)
	assert.True(t, first.ReceiveAlerts)

	second := r.UpsertProfile(models.User{Phone: "+972501234567", Name: "Dana Levi"})
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Dana Levi", second.Name)
}

func TestConnectRequiresExistingProfile(t *testing.T) {
	r := newTestRegistry()
	err := r.Connect("no-such-user", &fakeConn{}, nil)
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestConnectDisconnectInvariant(t *testing.T) {
	r := newTestRegistry()
	user := r.UpsertProfile(models.User{Phone: "+972501234567", Name: "Dana"})

	conn := &fakeConn{}
	loc := models.Location{Lat: 32.0853, Lng: 34.7818}
	require.NoError(t, r.Connect(user.ID, conn, &loc))

	got, ok := r.Get(user.ID)
	require.True(t, ok)
	assert.True(t, got.Online)
	require.NotNil(t, got.Location)
	assert.False(t, got.Location.Timestamp.IsZero(), "connect must stamp the location")

	r.Disconnect(user.ID)
	got, _ = r.Get(user.ID)
	assert.False(t, got.Online)
	assert.True(t, conn.closed)

	// Double disconnect is a no-op, not an error.
	r.Disconnect(user.ID)
	r.Disconnect("no-such-user")
}

func TestConnectReplacesExistingConnection(t *testing.T) {
	r := newTestRegistry()
	user := r.UpsertProfile(models.User{Phone: "+972501234567", Name: "Dana"})

	old := &fakeConn{}
	require.NoError(t, r.Connect(user.ID, old, nil))
	require.NoError(t, r.Connect(user.ID, &fakeConn{}, nil))
	assert.True(t, old.closed, "stale connection must be closed on reconnect")

	got, _ := r.Get(user.ID)
	assert.True(t, got.Online)
}

func TestUpdateLocationStampsTime(t *testing.T) {
	r := newTestRegistry()
	user := r.UpsertProfile(models.User{Phone: "+972501234567", Name: "Dana"})

	assert.ErrorIs(t, r.UpdateLocation("no-such-user", models.Location{}), ErrUnknownUser)

	require.NoError(t, r.UpdateLocation(user.ID, models.Location{Lat: 1, Lng: 2}))
	got, _ := r.Get(user.ID)
	require.NotNil(t, got.Location)
	assert.Equal(t, 1.0, got.Location.Lat)
	assert.False(t, got.Location.Timestamp.IsZero())
}

func TestSendTearsDownDeadConnections(t *testing.T) {
	r := newTestRegistry()
	user := r.UpsertProfile(models.User{Phone: "+972501234567", Name: "Dana"})

	require.NoError(t, r.Connect(user.ID, &deadConn{}, nil))
	ok := r.Send(user.ID, Event{Type: "ping"})
	assert.False(t, ok)

	got, _ := r.Get(user.ID)
	assert.False(t, got.Online, "a failed write must disconnect the user")
}

func TestForEachOnlineSkipsOffline(t *testing.T) {
	r := newTestRegistry()
	a := r.UpsertProfile(models.User{Phone: "+972501111111", Name: "A"})
	b := r.UpsertProfile(models.User{Phone: "+972502222222", Name: "B"})
	require.NoError(t, r.Connect(a.ID, &fakeConn{}, nil))
	require.NoError(t, r.Connect(b.ID, &fakeConn{}, nil))
	r.Disconnect(b.ID)

	var seen []string
	r.ForEachOnline(func(u models.User) { seen = append(seen, u.ID) })
	assert.Equal(t, []string{a.ID}, seen)
	assert.Equal(t, 1, r.OnlineCount())
}

func TestSnapshotsAreIsolated(t *testing.T) {
	r := newTestRegistry()
	user := r.UpsertProfile(models.User{Phone: "+972501234567", Name: "Dana"})
	require.NoError(t, r.UpdateLocation(user.ID, models.Location{Lat: 1, Lng: 2}))

	got, _ := r.Get(user.ID)
	got.Location.Lat = 99

	again, _ := r.Get(user.ID)
	assert.Equal(t, 1.0, again.Location.Lat, "mutating a snapshot must not touch the registry")
}
