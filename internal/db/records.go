package db

import (
	"context"
	"fmt"

	"train-simulator/internal/schedule"
)

const (
	selectTrains = `SELECT train_id, COALESCE(train_name, ''), COALESCE(origin_station, ''),
  COALESCE(destination_station, ''), departure_time, COALESCE(speed_kmph, 0)
FROM trains
ORDER BY train_id`

	selectRoutePoints = `SELECT train_id, lat, lon FROM route_points ORDER BY train_id, seq`

	// arrival_offset -1 marks "no offset".
	selectStations = `SELECT train_id, name, lat, lon, COALESCE(arrival_time, ''), COALESCE(arrival_offset, -1)
FROM stations
ORDER BY train_id, seq`
)

// rowScanner is satisfied by both pgx.Rows and *sql.Rows.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

type queryFunc func(ctx context.Context, q string) (rowScanner, func(), error)

// load runs the three schedule queries and assembles validated trains.
// Route points and stations referencing unknown trains are ignored.
func load(ctx context.Context, query queryFunc) ([]schedule.Train, error) {
	var records []schedule.Record
	index := make(map[string]int)

	err := each(ctx, query, selectTrains, func(r rowScanner) error {
		var rec schedule.Record
		if err := r.Scan(&rec.TrainID, &rec.TrainName, &rec.Origin, &rec.Destination, &rec.DepartureTime, &rec.SpeedKmph); err != nil {
			return err
		}
		index[rec.TrainID] = len(records)
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query trains: %w", err)
	}

	err = each(ctx, query, selectRoutePoints, func(r rowScanner) error {
		var id string
		var wp schedule.Waypoint
		if err := r.Scan(&id, &wp.Lat, &wp.Lon); err != nil {
			return err
		}
		if i, ok := index[id]; ok {
			records[i].RouteGeometry = append(records[i].RouteGeometry, wp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query route points: %w", err)
	}

	err = each(ctx, query, selectStations, func(r rowScanner) error {
		var id string
		var st schedule.StationRecord
		var offset int
		if err := r.Scan(&id, &st.Name, &st.Lat, &st.Lon, &st.ArrivalTime, &offset); err != nil {
			return err
		}
		if offset >= 0 {
			st.ArrivalOffset = &offset
		}
		if i, ok := index[id]; ok {
			records[i].Stations = append(records[i].Stations, st)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}

	return schedule.FromRecords(records)
}

func each(ctx context.Context, query queryFunc, q string, fn func(rowScanner) error) error {
	rows, closeRows, err := query(ctx, q)
	if err != nil {
		return err
	}
	defer closeRows()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
