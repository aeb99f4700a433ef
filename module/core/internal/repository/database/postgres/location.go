package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/internal/repository/database"
)

var _ database.LocationRepository = (*LocationRepo)(nil)

type LocationRepo struct {
	db *sql.DB
}

func NewLocationRepo(db *sql.DB) *LocationRepo {
	return &LocationRepo{db: db}
}

func (r *LocationRepo) Insert(ctx context.Context, loc *domain.DeviceLocation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_locations (device_id, latitude, longitude, accuracy, altitude, timestamp) VALUES ($1, $2, $3, $4, $5, $6)`,
		loc.DeviceID, loc.Fix.Lat, loc.Fix.Lon, loc.Fix.Accuracy, loc.Fix.Altitude, loc.Fix.Time(),
	)
	return err
}

func (r *LocationRepo) GetLatest(ctx context.Context, deviceID string) (*domain.DeviceLocation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT device_id, latitude, longitude, accuracy, altitude, timestamp FROM device_locations WHERE device_id = $1 ORDER BY timestamp DESC LIMIT 1`,
		deviceID,
	)

	dl, err := scanLocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return dl, nil
}

func (r *LocationRepo) GetHistory(ctx context.Context, query *domain.HistoryQuery) ([]domain.DeviceLocation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT device_id, latitude, longitude, accuracy, altitude, timestamp FROM device_locations WHERE device_id = $1 AND timestamp >= $2 AND timestamp <= $3 ORDER BY timestamp ASC`,
		query.DeviceID, query.Start, query.End,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []domain.DeviceLocation
	for rows.Next() {
		dl, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *dl)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLocation(s scanner) (*domain.DeviceLocation, error) {
	var (
		dl domain.DeviceLocation
		ts time.Time
	)
	if err := s.Scan(&dl.DeviceID, &dl.Fix.Lat, &dl.Fix.Lon, &dl.Fix.Accuracy, &dl.Fix.Altitude, &ts); err != nil {
		return nil, err
	}
	dl.Fix.Timestamp = ts.Unix()
	return &dl, nil
}
