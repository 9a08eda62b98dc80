package ingest

import (
	"github.com/golang/geo/s2"

	"github.com/tphakala/wildwatch/internal/datastore"
)

// CellLevel is the S2 level of the report cell token, roughly 1 km².
const CellLevel = 13

// Location is a resolved report position
type Location struct {
	Latitude  float64
	Longitude float64
	CellToken string
}

// validCoordinates reports whether lat/lng form a point on the sphere
func validCoordinates(lat, lng float64) bool {
	return s2.LatLngFromDegrees(lat, lng).IsValid()
}

func newLocation(lat, lng float64) *Location {
	ll := s2.LatLngFromDegrees(lat, lng)
	return &Location{
		Latitude:  lat,
		Longitude: lng,
		CellToken: s2.CellIDFromLatLng(ll).Parent(CellLevel).ToToken(),
	}
}

// resolveLocation picks the payload coordinates, else the device's
// registered coordinates, else nil.
func resolveLocation(ev *DetectionEvent, device *datastore.Device) *Location {
	if ev.Latitude != nil && ev.Longitude != nil {
		return newLocation(*ev.Latitude, *ev.Longitude)
	}
	if device != nil {
		if lat, lng, ok := device.Coordinates(); ok && validCoordinates(lat, lng) {
			return newLocation(lat, lng)
		}
	}
	return nil
}
