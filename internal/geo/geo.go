// Package geo provides the pure distance and ETA math used by the dispatch
// engine. All functions are stateless and safe for concurrent use.
package geo

import (
	"fmt"
	"math"
	"net/url"
)

const earthRadiusKm = 6371

// MinimumETAMinutes is the floor applied to every ETA estimate.
const MinimumETAMinutes = 1

// Mode is a travel mode for ETA estimation.
type Mode string

const (
	ModeWalking   Mode = "walking"
	ModeCycling   Mode = "cycling"
	ModeDriving   Mode = "driving"
	ModeEmergency Mode = "emergency"
)

// Average speeds in km/h per travel mode. Driving assumes urban traffic.
var speedKmh = map[Mode]float64{
	ModeWalking:   5,
	ModeCycling:   15,
	ModeDriving:   30,
	ModeEmergency: 45,
}

// DistanceKm returns the great-circle distance between two coordinates using
// the haversine formula on a spherical Earth.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// ETA is an arrival-time estimate.
type ETA struct {
	Minutes int    `json:"minutes"`
	Label   string `json:"label"`
}

// Estimate computes a straight-line ETA for a distance and travel mode.
// Unknown modes fall back to driving. The result is never below
// MinimumETAMinutes.
func Estimate(distanceKm float64, mode Mode) ETA {
	speed, ok := speedKmh[mode]
	if !ok {
		speed = speedKmh[ModeDriving]
	}
	minutes := int(math.Round(distanceKm / speed * 60))
	if minutes < MinimumETAMinutes {
		minutes = MinimumETAMinutes
	}
	return ETA{Minutes: minutes, Label: formatDuration(minutes)}
}

func formatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	mins := minutes % 60
	if mins == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}

// ValidCoordinates reports whether lat/lng are in range.
func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// NavigationURLs are deep links for navigating to a destination.
type NavigationURLs struct {
	Waze       string `json:"waze"`
	GoogleMaps string `json:"google_maps"`
	AppleMaps  string `json:"apple_maps"`
	Universal  string `json:"universal"`
}

// Navigation builds navigation deep links to the given coordinates.
func Navigation(lat, lng float64) NavigationURLs {
	ll := url.QueryEscape(fmt.Sprintf("%f,%f", lat, lng))
	return NavigationURLs{
		Waze:       fmt.Sprintf("waze://?ll=%s&navigate=yes", ll),
		GoogleMaps: fmt.Sprintf("https://www.google.com/maps/dir/?api=1&destination=%s&travelmode=driving", ll),
		AppleMaps:  fmt.Sprintf("http://maps.apple.com/?daddr=%s&dirflg=d", ll),
		Universal:  fmt.Sprintf("https://www.google.com/maps/search/?api=1&query=%s", ll),
	}
}
