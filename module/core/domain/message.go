package domain

import "time"

type MessageType string

const (
	TypeLocation   MessageType = "location"
	TypeTransition MessageType = "transition"
	TypeCard       MessageType = "card"
	TypeClear      MessageType = "clear"
	TypeWaypoints  MessageType = "waypoints"
)

// OutgoingMessage is implemented by every message kind the queue can carry.
type OutgoingMessage interface {
	Base() *MessageBase
	Type() MessageType
}

// MessageBase holds the delivery hints shared by all message kinds. Topic is
// a destination hint; stateless transports may ignore it.
type MessageBase struct {
	ID        string
	Topic     string
	QoS       byte
	Retained  bool
	CreatedAt time.Time
}

func (b *MessageBase) Base() *MessageBase { return b }

type LocationMessage struct {
	MessageBase
	Fix       GeoPoint
	Battery   *int
	TrackerID string
	DeviceID  string
	// Trigger is the OwnTracks report trigger: "p" ping, "u" user, "c"
	// circular region, "r" remote command, empty for automatic reports.
	Trigger string
	// LatestOnly lets a newer latest-only location replace this one while it
	// is still queued.
	LatestOnly bool
}

func (*LocationMessage) Type() MessageType { return TypeLocation }

type TransitionMessage struct {
	MessageBase
	RegionID    int64
	Description string
	Event       Transition
	Fix         GeoPoint
	RegionTst   time.Time
	TriggeredAt time.Time
	TrackerID   string
	DeviceID    string
}

func (*TransitionMessage) Type() MessageType { return TypeTransition }

type CardMessage struct {
	MessageBase
	Name      string
	Face      string
	TrackerID string
}

func (*CardMessage) Type() MessageType { return TypeCard }

// ClearMessage removes retained state for the device; it has no payload.
type ClearMessage struct {
	MessageBase
}

func (*ClearMessage) Type() MessageType { return TypeClear }

type WaypointsMessage struct {
	MessageBase
	Waypoints []Region
}

func (*WaypointsMessage) Type() MessageType { return TypeWaypoints }
