package domain

import (
	"fmt"
	"time"
)

// GeoPoint is a single location fix. Optional measurements are nil when the
// source did not report them.
type GeoPoint struct {
	Lat       float64  `json:"latitude"`
	Lon       float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Bearing   *float64 `json:"bearing,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

func (p GeoPoint) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude: must be between -90 and 90")
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("longitude: must be between -180 and 180")
	}
	if p.Accuracy != nil && *p.Accuracy < 0 {
		return fmt.Errorf("accuracy: must not be negative")
	}
	if p.Timestamp <= 0 {
		return fmt.Errorf("timestamp: must be positive")
	}
	return nil
}

func (p GeoPoint) Time() time.Time {
	return time.Unix(p.Timestamp, 0)
}

type Transition int

const (
	TransitionUnknown Transition = iota
	TransitionEnter
	TransitionExit
)

func (t Transition) String() string {
	switch t {
	case TransitionEnter:
		return "enter"
	case TransitionExit:
		return "leave"
	default:
		return "unknown"
	}
}

// Inside reports the membership implied by the last recorded transition.
// Regions that never fired are treated as outside.
func (t Transition) Inside() bool {
	return t == TransitionEnter
}

// Region is a circular waypoint. It is owned by the waypoint store; the
// transition engine only ever reads snapshots of it.
type Region struct {
	ID              int64      `json:"id"`
	Description     string     `json:"description"`
	Center          GeoPoint   `json:"center"`
	Radius          float64    `json:"radius"`
	LastTransition  Transition `json:"last_transition"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (r *Region) Validate() error {
	if r.Description == "" {
		return fmt.Errorf("description: required")
	}
	if r.Radius <= 0 {
		return fmt.Errorf("radius: must be positive")
	}
	if r.Center.Lat < -90 || r.Center.Lat > 90 {
		return fmt.Errorf("latitude: must be between -90 and 90")
	}
	if r.Center.Lon < -180 || r.Center.Lon > 180 {
		return fmt.Errorf("longitude: must be between -180 and 180")
	}
	return nil
}

type TransitionEvent struct {
	RegionID    int64      `json:"region_id"`
	Description string     `json:"description"`
	Direction   Transition `json:"direction"`
	Fix         GeoPoint   `json:"fix"`
	Timestamp   time.Time  `json:"timestamp"`
}
