package carrierlink

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Envelope mirrors one upstream wire message with the vendor's field
// names. All nested blocks are optional; decoding never fails on a
// missing block, only on malformed JSON.
type Envelope struct {
	MessageID   string  `json:"MessageId"`
	MessageType string  `json:"MessageType"`
	EventDtm    string  `json:"EventDtm"`
	DeviceDtm   string  `json:"DeviceDtm"`
	Device      *Device `json:"Device"`
	GPS         *GPS    `json:"GPS"`
	Reefer      *Reefer `json:"Reefer"`
	Geofence    *Fence  `json:"Geofence"`
	SubEvents   []Sub   `json:"SubEvents"`
}

// Device is the vendor's reporting-hardware block. LastAssetId is the
// fallback asset identifier when the reefer block carries none.
type Device struct {
	SerialNumber    string   `json:"DeviceSerialNumber"`
	LastAssetID     string   `json:"LastAssetId"`
	BatteryVoltage  *float64 `json:"BatteryVoltage"`
	ExternalPower   *bool    `json:"ExternalPower"`
	SignalStrength  *int     `json:"SignalStrength"`
	NetworkType     string   `json:"NetworkType"`
	FirmwareVersion string   `json:"FirmwareVersion"`
	InputState      *int     `json:"InputState"`
}

// GPS is the vendor's positional block.
type GPS struct {
	Latitude       *float64 `json:"Latitude"`
	Longitude      *float64 `json:"Longitude"`
	FixStatus      string   `json:"FixStatus"`
	SatelliteCount *int     `json:"SatelliteCount"`
	Altitude       *float64 `json:"Altitude"`
	Speed          *float64 `json:"Speed"`
	Heading        *float64 `json:"Heading"`
}

// Reefer is the vendor's refrigeration block. AssetId here is the
// primary asset identifier for the whole envelope.
type Reefer struct {
	AssetID       string   `json:"AssetId"`
	SupplyTemp    *float64 `json:"SupplyTemp"`
	ReturnTemp    *float64 `json:"ReturnTemp"`
	SetPoint      *float64 `json:"SetPoint"`
	AmbientTemp   *float64 `json:"AmbientTemp"`
	AlarmCode     *int     `json:"AlarmCode"`
	AlarmStatus   string   `json:"AlarmStatus"`
	OperatingMode string   `json:"OperatingMode"`
}

// Fence is the vendor's geofence block.
type Fence struct {
	ID    string `json:"GeofenceId"`
	Name  string `json:"GeofenceName"`
	Type  string `json:"GeofenceType"`
	Event string `json:"GeofenceEvent"`
}

// Sub is one entry of the vendor's nested sub-event list.
type Sub struct {
	EventType string `json:"EventType"`
}

type batchFrame struct {
	Events []json.RawMessage `json:"Events"`
}

// ErrEmptyMessage reports a frame with no decodable envelope.
var ErrEmptyMessage = errors.New("carrierlink: empty message")

// DecodeMessage splits one websocket frame into raw envelopes. The
// upstream sends either {"Events":[...]} or a single bare envelope;
// both are accepted uniformly.
func DecodeMessage(data []byte) ([]Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmptyMessage
	}

	var frame batchFrame
	if err := json.Unmarshal(trimmed, &frame); err == nil && frame.Events != nil {
		envelopes := make([]Envelope, 0, len(frame.Events))
		for _, raw := range frame.Events {
			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				// Malformed sibling must not poison the batch.
				continue
			}
			envelopes = append(envelopes, env)
		}
		return envelopes, nil
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	return []Envelope{env}, nil
}
