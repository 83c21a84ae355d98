package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	telemetry "fleetwatch/internal/telemetry/domain"
)

const (
	defaultEventsTable   = "telemetry_events"
	defaultGPSTable      = "telemetry_gps"
	defaultReeferTable   = "telemetry_reefer"
	defaultGeofenceTable = "telemetry_geofence"
)

// EventRepository persists canonical events to Postgres. The event row
// and its present sub-rows are written in one transaction.
type EventRepository struct {
	db *sql.DB

	eventsTable   string
	gpsTable      string
	reeferTable   string
	geofenceTable string
}

// EventOption configures the repository.
type EventOption func(*EventRepository)

// WithEventsTable overrides the default events table name.
func WithEventsTable(table string) EventOption {
	return func(repo *EventRepository) {
		if table != "" {
			repo.eventsTable = table
		}
	}
}

// NewEventRepository constructs a repository.
func NewEventRepository(db *sql.DB, opts ...EventOption) *EventRepository {
	repo := &EventRepository{
		db:            db,
		eventsTable:   defaultEventsTable,
		gpsTable:      defaultGPSTable,
		reeferTable:   defaultReeferTable,
		geofenceTable: defaultGeofenceTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Store inserts one event with its sub-rows transactionally.
func (r *EventRepository) Store(ctx context.Context, event *telemetry.TelemetryEvent) error {
	if r == nil || r.db == nil {
		return errors.New("event repo: nil db")
	}
	if event == nil || event.AssetID == "" {
		return errors.New("event repo: missing asset id")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
INSERT INTO %s (
	asset_id,
	device_id,
	event_class,
	event_tags,
	event_time,
	device_time,
	received_time,
	battery_voltage,
	external_power,
	signal_strength,
	network_type,
	firmware_version,
	input_state
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
)
RETURNING id`, r.eventsTable)

	var eventRowID int64
	if err := tx.QueryRowContext(
		ctx,
		query,
		event.AssetID,
		nullString(event.DeviceID),
		string(event.EventClass),
		joinTags(event.EventTags),
		event.EventTime,
		event.DeviceTime,
		event.ReceivedTime,
		event.Device.BatteryVoltage,
		event.Device.ExternalPower,
		event.Device.SignalStrength,
		nullString(event.Device.NetworkType),
		nullString(event.Device.FirmwareVersion),
		event.Device.InputState,
	).Scan(&eventRowID); err != nil {
		return err
	}

	if event.GPS.HasGPS {
		query := fmt.Sprintf(`
INSERT INTO %s (event_id, latitude, longitude, lock_state, satellite_count, altitude, speed, heading)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, r.gpsTable)
		if _, err := tx.ExecContext(
			ctx,
			query,
			eventRowID,
			event.GPS.Latitude,
			event.GPS.Longitude,
			nullString(event.GPS.LockState),
			event.GPS.SatelliteCount,
			event.GPS.Altitude,
			event.GPS.Speed,
			event.GPS.Heading,
		); err != nil {
			return err
		}
	}

	if event.Reefer.HasReeferData {
		query := fmt.Sprintf(`
INSERT INTO %s (event_id, supply_temp, return_temp, set_point, ambient_temp, alarm_code, alarm_status, operating_mode)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, r.reeferTable)
		if _, err := tx.ExecContext(
			ctx,
			query,
			eventRowID,
			event.Reefer.SupplyTemp,
			event.Reefer.ReturnTemp,
			event.Reefer.SetPoint,
			event.Reefer.AmbientTemp,
			event.Reefer.AlarmCode,
			nullString(event.Reefer.AlarmStatus),
			nullString(event.Reefer.OperatingMode),
		); err != nil {
			return err
		}
	}

	if event.Geofence.HasGeofenceData {
		query := fmt.Sprintf(`
INSERT INTO %s (event_id, geofence_id, geofence_name, geofence_type, geofence_event)
VALUES ($1, $2, $3, $4, $5)`, r.geofenceTable)
		if _, err := tx.ExecContext(
			ctx,
			query,
			eventRowID,
			event.Geofence.ID,
			nullString(event.Geofence.Name),
			nullString(event.Geofence.Type),
			nullString(event.Geofence.Event),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func joinTags(tags []string) any {
	if len(tags) == 0 {
		return nil
	}
	joined := tags[0]
	for _, tag := range tags[1:] {
		joined += "," + tag
	}
	return joined
}
