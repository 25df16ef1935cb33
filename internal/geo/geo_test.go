package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKm(t *testing.T) {
	t.Run("identical points", func(t *testing.T) {
		assert.Zero(t, DistanceKm(32.0853, 34.7818, 32.0853, 34.7818))
	})

	t.Run("symmetric", func(t *testing.T) {
		points := [][4]float64{
			{32.0853, 34.7818, 31.7683, 35.2137}, // Tel Aviv <-> Jerusalem
			{0, 0, 10, 10},
			{-45.5, 170.2, 60.1, -120.9},
		}
		for _, p := range points {
			ab := DistanceKm(p[0], p[1], p[2], p[3])
			ba := DistanceKm(p[2], p[3], p[0], p[1])
			assert.InDelta(t, ab, ba, 1e-9)
		}
	})

	t.Run("known distance", func(t *testing.T) {
		// Tel Aviv to Jerusalem is roughly 54 km as the crow flies.
		d := DistanceKm(32.0853, 34.7818, 31.7683, 35.2137)
		assert.InDelta(t, 54, d, 2)
	})

	t.Run("monotonic in separation", func(t *testing.T) {
		prev := 0.0
		for deg := 0.1; deg < 5; deg += 0.1 {
			d := DistanceKm(0, 0, deg, 0)
			assert.Greater(t, d, prev)
			prev = d
		}
	})
}

func TestEstimate(t *testing.T) {
	t.Run("driving six km", func(t *testing.T) {
		eta := Estimate(6, ModeDriving)
		assert.Equal(t, 12, eta.Minutes)
		assert.Equal(t, "12m", eta.Label)
	})

	t.Run("floor applies to tiny distances", func(t *testing.T) {
		eta := Estimate(0.01, ModeEmergency)
		assert.Equal(t, MinimumETAMinutes, eta.Minutes)
	})

	t.Run("positive for any positive distance", func(t *testing.T) {
		for _, mode := range []Mode{ModeWalking, ModeCycling, ModeDriving, ModeEmergency} {
			assert.GreaterOrEqual(t, Estimate(0.001, mode).Minutes, 1)
		}
	})

	t.Run("non-decreasing in distance", func(t *testing.T) {
		prev := 0
		for d := 0.5; d < 100; d += 0.5 {
			m := Estimate(d, ModeWalking).Minutes
			assert.GreaterOrEqual(t, m, prev)
			prev = m
		}
	})

	t.Run("unknown mode falls back to driving", func(t *testing.T) {
		assert.Equal(t, Estimate(6, ModeDriving), Estimate(6, Mode("teleport")))
	})

	t.Run("labels over an hour", func(t *testing.T) {
		assert.Equal(t, "2h", Estimate(10, ModeWalking).Label)
		assert.Equal(t, "1h 12m", Estimate(6, ModeWalking).Label)
	})
}

func TestValidCoordinates(t *testing.T) {
	assert.True(t, ValidCoordinates(0, 0))
	assert.True(t, ValidCoordinates(-90, 180))
	assert.False(t, ValidCoordinates(90.1, 0))
	assert.False(t, ValidCoordinates(0, -180.5))
}

func TestNavigation(t *testing.T) {
	urls := Navigation(32.0853, 34.7818)
	assert.Contains(t, urls.Waze, "waze://")
	assert.Contains(t, urls.GoogleMaps, "google.com/maps/dir")
	assert.Contains(t, urls.AppleMaps, "maps.apple.com")
	assert.NotEmpty(t, urls.Universal)
}
