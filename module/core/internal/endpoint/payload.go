package endpoint

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/nandanugg/tracker-relay/module/core/domain"
)

type locationPayload struct {
	Type      string  `json:"_type"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Tst       int64   `json:"tst"`
	Accuracy  *int    `json:"acc,omitempty"`
	Altitude  *int    `json:"alt,omitempty"`
	Course    *int    `json:"cog,omitempty"`
	Velocity  *int    `json:"vel,omitempty"`
	Battery   *int    `json:"batt,omitempty"`
	TrackerID string  `json:"tid,omitempty"`
	Trigger   string  `json:"t,omitempty"`
	Created   int64   `json:"created_at,omitempty"`
}

type transitionPayload struct {
	Type        string  `json:"_type"`
	Event       string  `json:"event"`
	Description string  `json:"desc"`
	RegionID    string  `json:"rid"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Accuracy    *int    `json:"acc,omitempty"`
	Tst         int64   `json:"tst"`
	Wtst        int64   `json:"wtst"`
	TrackerID   string  `json:"tid,omitempty"`
	Trigger     string  `json:"t"`
}

type cardPayload struct {
	Type      string `json:"_type"`
	Name      string `json:"name,omitempty"`
	Face      string `json:"face,omitempty"`
	TrackerID string `json:"tid,omitempty"`
}

type WaypointPayload struct {
	Type        string  `json:"_type"`
	Description string  `json:"desc"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Radius      int     `json:"rad"`
	Tst         int64   `json:"tst"`
	RegionID    string  `json:"rid,omitempty"`
}

type waypointsPayload struct {
	Type      string            `json:"_type"`
	Waypoints []WaypointPayload `json:"waypoints"`
}

// Encode renders a message in the OwnTracks JSON format shared by the MQTT
// and HTTP transports. Clear messages encode to an empty payload.
func Encode(msg domain.OutgoingMessage) ([]byte, error) {
	switch m := msg.(type) {
	case *domain.LocationMessage:
		return json.Marshal(locationPayload{
			Type:      "location",
			Lat:       m.Fix.Lat,
			Lon:       m.Fix.Lon,
			Tst:       m.Fix.Timestamp,
			Accuracy:  rounded(m.Fix.Accuracy),
			Altitude:  rounded(m.Fix.Altitude),
			Course:    rounded(m.Fix.Bearing),
			Velocity:  kmh(m.Fix.Speed),
			Battery:   m.Battery,
			TrackerID: m.TrackerID,
			Trigger:   m.Trigger,
			Created:   m.CreatedAt.Unix(),
		})
	case *domain.TransitionMessage:
		return json.Marshal(transitionPayload{
			Type:        "transition",
			Event:       m.Event.String(),
			Description: m.Description,
			RegionID:    RegionID(m.RegionID),
			Lat:         m.Fix.Lat,
			Lon:         m.Fix.Lon,
			Accuracy:    rounded(m.Fix.Accuracy),
			Tst:         m.TriggeredAt.Unix(),
			Wtst:        m.RegionTst.Unix(),
			TrackerID:   m.TrackerID,
			Trigger:     "c",
		})
	case *domain.CardMessage:
		return json.Marshal(cardPayload{Type: "card", Name: m.Name, Face: m.Face, TrackerID: m.TrackerID})
	case *domain.ClearMessage:
		return []byte{}, nil
	case *domain.WaypointsMessage:
		return json.Marshal(waypointsPayload{Type: "waypoints", Waypoints: Waypoints(m.Waypoints)})
	}
	return nil, fmt.Errorf("unsupported message type %T", msg)
}

func Waypoints(regions []domain.Region) []WaypointPayload {
	out := make([]WaypointPayload, 0, len(regions))
	for _, r := range regions {
		out = append(out, WaypointPayload{
			Type:        "waypoint",
			Description: r.Description,
			Lat:         r.Center.Lat,
			Lon:         r.Center.Lon,
			Radius:      int(r.Radius),
			Tst:         r.CreatedAt.Unix(),
			RegionID:    RegionID(r.ID),
		})
	}
	return out
}

func RegionID(id int64) string {
	return strconv.FormatInt(id, 16)
}

func rounded(v *float64) *int {
	if v == nil {
		return nil
	}
	n := int(math.Round(*v))
	return &n
}

// kmh converts m/s to the km/h OwnTracks reports.
func kmh(v *float64) *int {
	if v == nil {
		return nil
	}
	n := int(math.Round(*v * 3.6))
	return &n
}
