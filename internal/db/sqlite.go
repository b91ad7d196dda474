package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"train-simulator/internal/schedule"
)

// OpenSQLite opens path with WAL and foreign keys. A single connection keeps
// ":memory:" databases shared across queries.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal=WAL&_fk=1&_busy_timeout=5000"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		log.Printf("warning: failed to enable foreign keys: %v", err)
	}
	return conn, nil
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate schedules: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]schedule.Train, error) {
	return load(ctx, func(ctx context.Context, q string) (rowScanner, func(), error) {
		rows, err := s.db.QueryContext(ctx, q)
		if err != nil {
			return nil, nil, err
		}
		return rows, func() { rows.Close() }, nil
	})
}

// Count returns how many trains are stored.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trains`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count trains: %w", err)
	}
	return n, nil
}

// Replace swaps the stored schedules for trains in one transaction.
func (s *SQLiteStore) Replace(ctx context.Context, trains []schedule.Train) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{`DELETE FROM stations`, `DELETE FROM route_points`, `DELETE FROM trains`} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("clear schedules: %w", err)
		}
	}
	for _, t := range trains {
		rec := schedule.RecordOf(t)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trains (train_id, train_name, origin_station, destination_station, departure_time, speed_kmph) VALUES (?, ?, ?, ?, ?, ?)`,
			rec.TrainID, rec.TrainName, rec.Origin, rec.Destination, rec.DepartureTime, rec.SpeedKmph); err != nil {
			return fmt.Errorf("insert train %s: %w", rec.TrainID, err)
		}
		for i, wp := range rec.RouteGeometry {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO route_points (train_id, seq, lat, lon) VALUES (?, ?, ?, ?)`,
				rec.TrainID, i, wp.Lat, wp.Lon); err != nil {
				return fmt.Errorf("insert route point %s/%d: %w", rec.TrainID, i, err)
			}
		}
		for i, st := range rec.Stations {
			var arrival any
			if st.ArrivalTime != "" {
				arrival = st.ArrivalTime
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO stations (train_id, seq, name, lat, lon, arrival_time) VALUES (?, ?, ?, ?, ?, ?)`,
				rec.TrainID, i, st.Name, st.Lat, st.Lon, arrival); err != nil {
				return fmt.Errorf("insert station %s/%d: %w", rec.TrainID, i, err)
			}
		}
	}
	return tx.Commit()
}
