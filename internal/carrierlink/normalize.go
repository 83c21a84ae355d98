package carrierlink

import (
	"strings"
	"time"

	telemetry "fleetwatch/internal/telemetry/domain"
)

// Normalizer converts vendor envelopes into canonical telemetry events.
// Every extraction is defensive: a missing input maps to a nil field,
// never an error. The only reason to produce nothing is an envelope with
// no resolvable asset identifier.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer constructs a normalizer. The clock is overridable for
// tests; nil means time.Now in UTC.
func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Normalizer{now: now}
}

// Normalize maps one envelope to at most one canonical event. The second
// return is false when the envelope carries neither a reefer-reported
// asset id nor a device-reported last-asset id; such envelopes are
// silently dropped.
func (n *Normalizer) Normalize(env Envelope) (*telemetry.TelemetryEvent, bool) {
	assetID := resolveAssetID(env)
	if assetID == "" {
		return nil, false
	}

	received := n.now()
	event := &telemetry.TelemetryEvent{
		AssetID:      assetID,
		EventClass:   classify(env.MessageType),
		EventTags:    collectTags(env),
		EventTime:    parseEventTime(env.EventDtm, received),
		DeviceTime:   parseOptionalTime(env.DeviceDtm),
		ReceivedTime: received,
	}

	if env.Device != nil {
		event.DeviceID = env.Device.SerialNumber
		event.Device = telemetry.DeviceStatus{
			BatteryVoltage:  env.Device.BatteryVoltage,
			ExternalPower:   env.Device.ExternalPower,
			SignalStrength:  env.Device.SignalStrength,
			NetworkType:     env.Device.NetworkType,
			FirmwareVersion: env.Device.FirmwareVersion,
			InputState:      env.Device.InputState,
		}
	}

	if env.GPS != nil {
		event.GPS = telemetry.GPSFix{
			Latitude:       env.GPS.Latitude,
			Longitude:      env.GPS.Longitude,
			HasGPS:         env.GPS.Latitude != nil && env.GPS.Longitude != nil,
			LockState:      env.GPS.FixStatus,
			SatelliteCount: env.GPS.SatelliteCount,
			Altitude:       env.GPS.Altitude,
			Speed:          env.GPS.Speed,
			Heading:        env.GPS.Heading,
		}
	}

	if env.Reefer != nil {
		event.Reefer = telemetry.ReeferStatus{
			SupplyTemp:    env.Reefer.SupplyTemp,
			ReturnTemp:    env.Reefer.ReturnTemp,
			SetPoint:      env.Reefer.SetPoint,
			AmbientTemp:   env.Reefer.AmbientTemp,
			AlarmCode:     env.Reefer.AlarmCode,
			AlarmStatus:   env.Reefer.AlarmStatus,
			OperatingMode: env.Reefer.OperatingMode,
			HasReeferData: env.Reefer.AssetID != "",
		}
	}

	if env.Geofence != nil {
		event.Geofence = telemetry.GeofenceInfo{
			ID:              env.Geofence.ID,
			Name:            env.Geofence.Name,
			Type:            env.Geofence.Type,
			Event:           env.Geofence.Event,
			HasGeofenceData: env.Geofence.ID != "",
		}
	}

	return event, true
}

// resolveAssetID prefers the reefer-reported asset id and falls back to
// the device's last known asset association.
func resolveAssetID(env Envelope) string {
	if env.Reefer != nil && env.Reefer.AssetID != "" {
		return env.Reefer.AssetID
	}
	if env.Device != nil && env.Device.LastAssetID != "" {
		return env.Device.LastAssetID
	}
	return ""
}

// collectTags gathers the ordered sub-event type list; when the envelope
// has none it falls back to the coarse message type as a single tag.
func collectTags(env Envelope) []string {
	if len(env.SubEvents) > 0 {
		tags := make([]string, 0, len(env.SubEvents))
		for _, sub := range env.SubEvents {
			if sub.EventType != "" {
				tags = append(tags, sub.EventType)
			}
		}
		if len(tags) > 0 {
			return tags
		}
	}
	if env.MessageType != "" {
		return []string{env.MessageType}
	}
	return nil
}

func classify(messageType string) telemetry.EventClass {
	switch strings.ToLower(messageType) {
	case "asset_status", "status":
		return telemetry.ClassStatus
	case "position", "gps":
		return telemetry.ClassPosition
	case "reefer", "reefer_status":
		return telemetry.ClassReefer
	case "geofence", "geofence_event":
		return telemetry.ClassGeofence
	default:
		if messageType == "" {
			return telemetry.ClassUnknown
		}
		return telemetry.EventClass(strings.ToLower(messageType))
	}
}

// parseEventTime falls back to the normalization wall clock when the
// envelope carries no usable event timestamp.
func parseEventTime(value string, fallback time.Time) time.Time {
	if parsed := parseOptionalTime(value); parsed != nil {
		return *parsed
	}
	return fallback
}

func parseOptionalTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			utc := parsed.UTC()
			return &utc
		}
	}
	return nil
}
