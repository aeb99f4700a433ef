package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/internal/repository/database"
)

var _ database.WaypointRepository = (*WaypointRepo)(nil)

const waypointColumns = `id, description, latitude, longitude, radius, last_transition, last_triggered, tst`

type WaypointRepo struct {
	db *sql.DB
}

func NewWaypointRepo(db *sql.DB) *WaypointRepo {
	return &WaypointRepo{db: db}
}

func (r *WaypointRepo) Create(ctx context.Context, w *domain.Region) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().Truncate(time.Second)
	}
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO waypoints (description, latitude, longitude, radius, last_transition, last_triggered, tst) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		w.Description, w.Center.Lat, w.Center.Lon, w.Radius, int(w.LastTransition), w.LastTriggeredAt, w.CreatedAt,
	)
	return row.Scan(&w.ID)
}

func (r *WaypointRepo) Get(ctx context.Context, id int64) (*domain.Region, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+waypointColumns+` FROM waypoints WHERE id = $1`, id)

	w, err := scanWaypoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	return w, err
}

// Update changes the user-editable fields. Transition state is only written
// through UpdateTransition.
func (r *WaypointRepo) Update(ctx context.Context, w *domain.Region) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE waypoints SET description = $1, latitude = $2, longitude = $3, radius = $4 WHERE id = $5`,
		w.Description, w.Center.Lat, w.Center.Lon, w.Radius, w.ID,
	)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *WaypointRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM waypoints WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *WaypointRepo) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM waypoints`)
	return err
}

func (r *WaypointRepo) List(ctx context.Context) ([]domain.Region, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+waypointColumns+` FROM waypoints ORDER BY tst ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []domain.Region
	for rows.Next() {
		w, err := scanWaypoint(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *w)
	}
	return results, rows.Err()
}

func (r *WaypointRepo) UpdateTransition(ctx context.Context, id int64, t domain.Transition, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE waypoints SET last_transition = $1, last_triggered = $2 WHERE id = $3`,
		int(t), at, id,
	)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func scanWaypoint(s scanner) (*domain.Region, error) {
	var (
		w          domain.Region
		transition int
		triggered  sql.NullTime
	)
	if err := s.Scan(&w.ID, &w.Description, &w.Center.Lat, &w.Center.Lon, &w.Radius, &transition, &triggered, &w.CreatedAt); err != nil {
		return nil, err
	}
	w.LastTransition = domain.Transition(transition)
	if triggered.Valid {
		t := triggered.Time
		w.LastTriggeredAt = &t
	}
	return &w, nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}
