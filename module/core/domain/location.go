package domain

import "time"

type DeviceLocation struct {
	DeviceID string   `json:"device_id"`
	Fix      GeoPoint `json:"fix"`
}

type HistoryQuery struct {
	DeviceID string
	Start    time.Time
	End      time.Time
}

// ReportingMode controls how often fixes turn into location messages.
type ReportingMode string

const (
	// ReportingSignificant publishes only after a minimum displacement or
	// interval.
	ReportingSignificant ReportingMode = "significant"
	// ReportingMove publishes every fix and lets newer fixes supersede
	// undelivered ones.
	ReportingMove ReportingMode = "move"
)
