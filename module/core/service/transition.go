package service

import (
	"math"

	"github.com/nandanugg/tracker-relay/module/core/domain"
)

const earthRadiusMeters = 6371000

// TransitionDetector turns a fix and a snapshot of regions into membership
// changes. It holds configuration only, so one value can be shared by any
// number of goroutines.
type TransitionDetector struct {
	// MaxAccuracy discards fixes whose reported accuracy radius is larger
	// than this many meters. Zero disables the gate.
	MaxAccuracy float64
}

func NewTransitionDetector(maxAccuracy float64) TransitionDetector {
	return TransitionDetector{MaxAccuracy: maxAccuracy}
}

// Evaluate returns one event per region whose membership differs from its
// last recorded transition, in the order the regions were given. The caller
// persists the new state.
func (d TransitionDetector) Evaluate(fix domain.GeoPoint, regions []domain.Region) []domain.TransitionEvent {
	if d.MaxAccuracy > 0 && fix.Accuracy != nil && *fix.Accuracy > d.MaxAccuracy {
		return nil
	}

	var events []domain.TransitionEvent
	for _, r := range regions {
		inside := haversine(fix.Lat, fix.Lon, r.Center.Lat, r.Center.Lon) <= r.Radius
		if inside == r.LastTransition.Inside() {
			continue
		}
		dir := domain.TransitionExit
		if inside {
			dir = domain.TransitionEnter
		}
		events = append(events, domain.TransitionEvent{
			RegionID:    r.ID,
			Description: r.Description,
			Direction:   dir,
			Fix:         fix,
			Timestamp:   fix.Time(),
		})
	}
	return events
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push a just past 1 for antipodal points
	a = math.Min(1, math.Max(0, a))
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
