package telemetry

import (
	"context"
	"time"
)

// EventClass is the coarse classification of a telemetry report.
type EventClass string

const (
	ClassStatus   EventClass = "status"
	ClassPosition EventClass = "position"
	ClassReefer   EventClass = "reefer"
	ClassGeofence EventClass = "geofence"
	ClassUnknown  EventClass = "unknown"
)

// GPSFix holds the positional block of an event. HasGPS is derived from
// coordinate presence, never from numeric value: a fix at (0, 0) with a
// lock still counts.
type GPSFix struct {
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	HasGPS         bool     `json:"hasGps"`
	LockState      string   `json:"lockState,omitempty"`
	SatelliteCount *int     `json:"satelliteCount,omitempty"`
	Altitude       *float64 `json:"altitude,omitempty"`
	Speed          *float64 `json:"speed,omitempty"`
	Heading        *float64 `json:"heading,omitempty"`
}

// DeviceStatus holds the reporting hardware block.
type DeviceStatus struct {
	BatteryVoltage  *float64 `json:"batteryVoltage,omitempty"`
	ExternalPower   *bool    `json:"externalPower,omitempty"`
	SignalStrength  *int     `json:"signalStrength,omitempty"`
	NetworkType     string   `json:"networkType,omitempty"`
	FirmwareVersion string   `json:"firmwareVersion,omitempty"`
	InputState      *int     `json:"inputState,omitempty"`
}

// ReeferStatus holds the refrigeration unit block. HasReeferData follows
// the presence of the reefer-reported asset id, so a 0.0 degree supply
// temperature is a real reading, not "missing".
type ReeferStatus struct {
	SupplyTemp    *float64 `json:"supplyTemp,omitempty"`
	ReturnTemp    *float64 `json:"returnTemp,omitempty"`
	SetPoint      *float64 `json:"setPoint,omitempty"`
	AmbientTemp   *float64 `json:"ambientTemp,omitempty"`
	AlarmCode     *int     `json:"alarmCode,omitempty"`
	AlarmStatus   string   `json:"alarmStatus,omitempty"`
	OperatingMode string   `json:"operatingMode,omitempty"`
	HasReeferData bool     `json:"hasReeferData"`
}

// GeofenceInfo holds the geofence crossing block.
type GeofenceInfo struct {
	ID              string `json:"id,omitempty"`
	Name            string `json:"name,omitempty"`
	Type            string `json:"type,omitempty"`
	Event           string `json:"event,omitempty"`
	HasGeofenceData bool   `json:"hasGeofenceData"`
}

// TelemetryEvent is the canonical, immutable event produced by
// normalization. AssetID is the primary key; every other field is
// best-effort from the wire envelope.
type TelemetryEvent struct {
	AssetID    string     `json:"assetId"`
	DeviceID   string     `json:"deviceId,omitempty"`
	EventClass EventClass `json:"eventClass"`
	EventTags  []string   `json:"eventTags,omitempty"`

	EventTime    time.Time  `json:"eventTime"`
	DeviceTime   *time.Time `json:"deviceTime,omitempty"`
	ReceivedTime time.Time  `json:"receivedTime"`

	GPS      GPSFix       `json:"gps"`
	Device   DeviceStatus `json:"device"`
	Reefer   ReeferStatus `json:"reefer"`
	Geofence GeofenceInfo `json:"geofence"`
}

// EventStore persists canonical events. Implementations must write the
// event row and its sub-rows in one transaction. The ingestion pipeline
// calls it fire-and-forget and only logs failures.
type EventStore interface {
	Store(ctx context.Context, event *TelemetryEvent) error
}
