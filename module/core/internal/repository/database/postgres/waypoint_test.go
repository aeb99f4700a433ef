package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/internal/repository/database"
)

var waypointRowColumns = []string{"id", "description", "latitude", "longitude", "radius", "last_transition", "last_triggered", "tst"}

func TestWaypointCreate_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	tst := time.Unix(1700000000, 0)
	mock.ExpectQuery(`INSERT INTO waypoints (.+) RETURNING id`).
		WithArgs("home", 48.0, -1.0, 100.0, 0, nil, tst).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	repo := NewWaypointRepo(db)
	w := &domain.Region{Description: "home", Center: domain.GeoPoint{Lat: 48, Lon: -1}, Radius: 100, CreatedAt: tst}
	if err := repo.Create(context.Background(), w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.ID != 9 {
		t.Errorf("expected id 9, got %d", w.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWaypointCreate_DefaultsTimestamp(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`INSERT INTO waypoints`).
		WithArgs("home", 48.0, -1.0, 100.0, 0, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	repo := NewWaypointRepo(db)
	w := &domain.Region{Description: "home", Center: domain.GeoPoint{Lat: 48, Lon: -1}, Radius: 100}
	if err := repo.Create(context.Background(), w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.CreatedAt.IsZero() {
		t.Fatal("expected created at to be set")
	}
}

func TestWaypointList_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	triggered := time.Unix(1715003456, 0)
	rows := sqlmock.NewRows(waypointRowColumns).
		AddRow(int64(1), "home", 48.0, -1.0, 100.0, 1, triggered, time.Unix(1700000000, 0)).
		AddRow(int64(2), "office", 48.1, -1.1, 50.0, 0, nil, time.Unix(1700000100, 0))

	mock.ExpectQuery(`SELECT id, description, latitude, longitude, radius, last_transition, last_triggered, tst FROM waypoints ORDER BY tst ASC`).
		WillReturnRows(rows)

	repo := NewWaypointRepo(db)
	results, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 waypoints, got %d", len(results))
	}
	if results[0].LastTransition != domain.TransitionEnter {
		t.Errorf("expected enter, got %s", results[0].LastTransition)
	}
	if results[0].LastTriggeredAt == nil || !results[0].LastTriggeredAt.Equal(triggered) {
		t.Errorf("unexpected last triggered %v", results[0].LastTriggeredAt)
	}
	if results[1].LastTransition != domain.TransitionUnknown || results[1].LastTriggeredAt != nil {
		t.Errorf("unexpected second waypoint %+v", results[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWaypointGet_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`SELECT (.+) FROM waypoints WHERE id = (.+)`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(waypointRowColumns))

	repo := NewWaypointRepo(db)
	_, err = repo.Get(context.Background(), 5)
	if !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWaypointUpdate_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`UPDATE waypoints SET description`).
		WithArgs("home", 48.0, -1.0, 100.0, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewWaypointRepo(db)
	err = repo.Update(context.Background(), &domain.Region{ID: 3, Description: "home", Center: domain.GeoPoint{Lat: 48, Lon: -1}, Radius: 100})
	if !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWaypointUpdateTransition_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	at := time.Unix(1715003456, 0)
	mock.ExpectExec(`UPDATE waypoints SET last_transition = (.+), last_triggered = (.+) WHERE id = (.+)`).
		WithArgs(2, at, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewWaypointRepo(db)
	if err := repo.UpdateTransition(context.Background(), 7, domain.TransitionExit, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWaypointDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`DELETE FROM waypoints WHERE id = (.+)`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM waypoints`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	repo := NewWaypointRepo(db)
	if err := repo.Delete(context.Background(), 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.DeleteAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
