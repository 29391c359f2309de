// Package geo turns a location feed into geofence enter, exit and dwell events.
package geo

import (
	"math"

	"github.com/julianstephens/wayfare/internal/models"
)

// EarthRadiusM is the mean earth radius used by Distance.
const EarthRadiusM = 6371000.0

// DefaultRadiusM applies to venue types without a dedicated radius.
const DefaultRadiusM = 50.0

var radiusByVenue = map[models.VenueType]float64{
	models.VenueTemple:          100,
	models.VenueShrine:          100,
	models.VenuePark:            150,
	models.VenueGarden:          150,
	models.VenueMuseum:          50,
	models.VenueRestaurant:      30,
	models.VenueCafe:            25,
	models.VenueShopping:        200,
	models.VenueTransitStation:  100,
	models.VenueHotel:           40,
	models.VenueObservationDeck: 50,
	models.VenueEntertainment:   75,
}

// RadiusFor returns the geofence radius in metres for a venue type.
func RadiusFor(vt models.VenueType) float64 {
	if r, ok := radiusByVenue[vt]; ok {
		return r
	}
	return DefaultRadiusM
}

// Distance returns the haversine great-circle distance between a and b in metres.
func Distance(a, b models.Coordinates) float64 {
	if a == b {
		return 0
	}
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Geofence is a circular boundary around one slot's venue.
type Geofence struct {
	ID     string
	SlotID string
	Center models.Coordinates
	Radius float64
}

// Contains reports whether p lies inside the fence (boundary inclusive).
func (g Geofence) Contains(p models.Coordinates) bool {
	return Distance(g.Center, p) <= g.Radius
}

// ForSlot builds the geofence of a slot's selected venue. Slots without a
// selected option have no fence.
func ForSlot(slot models.Slot) (Geofence, bool) {
	opt, ok := slot.SelectedOption()
	if !ok {
		return Geofence{}, false
	}
	if opt.Venue.Location == (models.Coordinates{}) {
		return Geofence{}, false
	}
	return Geofence{
		ID:     "gf-" + slot.ID,
		SlotID: slot.ID,
		Center: opt.Venue.Location,
		Radius: RadiusFor(opt.Venue.Type),
	}, true
}

// ForDay builds one fence per slot of the day that has a located venue.
func ForDay(day models.Day) []Geofence {
	fences := make([]Geofence, 0, len(day.Slots))
	for _, s := range day.Slots {
		if g, ok := ForSlot(s); ok {
			fences = append(fences, g)
		}
	}
	return fences
}
