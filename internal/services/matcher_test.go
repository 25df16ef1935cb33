package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djyosi/rubisos/internal/models"
)

// seedUser registers a profile with a location and returns the snapshot.
func seedUser(r *PresenceRegistry, phone, name string, loc models.Location, radiusKm float64) models.User {
	return r.UpsertProfile(models.User{
		Phone:         phone,
		Name:          name,
		Location:      &loc,
		AlertRadiusKm: radiusKm,
	})
}

func TestFindNearbyOrdersByDistance(t *testing.T) {
	r := newTestRegistry()
	m := NewMatcher(r)

	far := seedUser(r, "+972501000001", "Far", northOf(origin, 8), 10)
	near := seedUser(r, "+972501000002", "Near", northOf(origin, 2), 10)
	mid := seedUser(r, "+972501000003", "Mid", northOf(origin, 5), 10)

	got := m.FindNearby(origin, 10, MatchOptions{})
	require.Len(t, got, 3)
	assert.Equal(t, near.ID, got[0].User.ID)
	assert.Equal(t, mid.ID, got[1].User.ID)
	assert.Equal(t, far.ID, got[2].User.ID)
	assert.InDelta(t, 2, got[0].DistanceKm, 0.05)
	assert.InDelta(t, 8, got[2].DistanceKm, 0.05)
}

func TestFindNearbyHonorsBothRadii(t *testing.T) {
	r := newTestRegistry()
	m := NewMatcher(r)

	// 8km away but only willing to help within 5km.
	narrow := seedUser(r, "+972501000001", "Narrow", northOf(origin, 8), 5)
	wide := seedUser(r, "+972501000002", "Wide", northOf(origin, 8), 50)

	got := m.FindNearby(origin, 10, MatchOptions{})
	require.Len(t, got, 1)
	assert.Equal(t, wide.ID, got[0].User.ID)

	// The sender's radius still caps the wide helper.
	got = m.FindNearby(origin, 5, MatchOptions{})
	assert.Empty(t, got)
	_ = narrow
}

func TestFindNearbySkipsUsersWithoutLocation(t *testing.T) {
	r := newTestRegistry()
	m := NewMatcher(r)

	r.UpsertProfile(models.User{Phone: "+972501000001", Name: "Nowhere"})
	located := seedUser(r, "+972501000002", "Here", origin, 10)

	got := m.FindNearby(origin, 10, MatchOptions{})
	require.Len(t, got, 1)
	assert.Equal(t, located.ID, got[0].User.ID)
}

func TestFindNearbyFiltersBySubscription(t *testing.T) {
	r := newTestRegistry()
	m := NewMatcher(r)

	medic := seedUser(r, "+972501000001", "Medic", origin, 10)
	require.NoError(t, r.UpdateSettings(medic.ID, 10, true, []models.AlertType{models.AlertMedical}))
	optedOut := seedUser(r, "+972501000002", "Quiet", origin, 10)
	require.NoError(t, r.UpdateSettings(optedOut.ID, 10, false, nil))
	everything := seedUser(r, "+972501000003", "All", origin, 10)

	got := m.FindNearby(origin, 10, MatchOptions{RequireType: models.AlertFire})
	require.Len(t, got, 1)
	assert.Equal(t, everything.ID, got[0].User.ID)

	got = m.FindNearby(origin, 10, MatchOptions{RequireType: models.AlertMedical})
	require.Len(t, got, 2)
}

func TestFindNearbyExcludesSenderAndOffline(t *testing.T) {
	r := newTestRegistry()
	m := NewMatcher(r)

	sender := seedUser(r, "+972501000001", "Sender", origin, 10)
	online := seedUser(r, "+972501000002", "Online", origin, 10)
	require.NoError(t, r.Connect(online.ID, &fakeConn{}, nil))
	offline := seedUser(r, "+972501000003", "Offline", origin, 10)

	got := m.FindNearby(origin, 10, MatchOptions{ExcludeID: sender.ID})
	assert.Len(t, got, 2, "offline users with profiles still match for deferred delivery")

	got = m.FindNearby(origin, 10, MatchOptions{ExcludeID: sender.ID, RequireOnline: true})
	require.Len(t, got, 1)
	assert.Equal(t, online.ID, got[0].User.ID)
	_ = offline

	assert.Equal(t, 1, m.CountNearbyHelpers(origin, 10, sender.ID))
}
