package services

import (
	"sort"

	"github.com/djyosi/rubisos/internal/geo"
	"github.com/djyosi/rubisos/internal/models"
)

// Candidate is a matched user with their distance from the alert origin.
type Candidate struct {
	User       models.User
	DistanceKm float64
}

// MatchOptions filter the candidate set.
type MatchOptions struct {
	ExcludeID     string
	RequireOnline bool
	RequireType   models.AlertType
}

// Matcher selects users near an origin. It is a read-only view over the
// presence registry plus the geo math; the linear scan is fine at the scale
// of one dispatch authority (a geo index would go here if it ever is not).
type Matcher struct {
	registry *PresenceRegistry
}

// NewMatcher creates a matcher over the registry.
func NewMatcher(registry *PresenceRegistry) *Matcher {
	return &Matcher{registry: registry}
}

// FindNearby returns users within radiusKm of origin, ascending by distance
// with identity as tiebreak. A candidate is included only when the distance
// also respects the candidate's own configured radius: senders do not force
// alerts onto users who opted into a smaller catchment.
func (m *Matcher) FindNearby(origin models.Location, radiusKm float64, opts MatchOptions) []Candidate {
	var out []Candidate
	m.registry.ForEach(func(u models.User) {
		if u.ID == opts.ExcludeID {
			return
		}
		if opts.RequireOnline && !u.Online {
			return
		}
		if u.Location == nil {
			return
		}
		if opts.RequireType != "" && !u.Subscribed(opts.RequireType) {
			return
		}
		dist := geo.DistanceKm(origin.Lat, origin.Lng, u.Location.Lat, u.Location.Lng)
		effective := radiusKm
		if u.AlertRadiusKm > 0 && u.AlertRadiusKm < effective {
			effective = u.AlertRadiusKm
		}
		if dist > effective {
			return
		}
		out = append(out, Candidate{User: u, DistanceKm: dist})
	})

	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].User.ID < out[j].User.ID
	})
	return out
}

// CountNearbyHelpers counts online users within radiusKm of origin,
// regardless of type subscriptions. Used for the registered acknowledgement
// and the nearby-helpers query.
func (m *Matcher) CountNearbyHelpers(origin models.Location, radiusKm float64, excludeID string) int {
	return len(m.FindNearby(origin, radiusKm, MatchOptions{
		ExcludeID:     excludeID,
		RequireOnline: true,
	}))
}
