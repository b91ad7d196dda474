// Package gtfsrt renders position samples as a GTFS-Realtime VehiclePositions feed.
package gtfsrt

import (
	"fmt"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"train-simulator/internal/schedule"
)

const ContentType = "application/x-protobuf"

// Build creates a full-dataset feed with one vehicle entity per sample.
// Waiting and completed trains are reported as stopped at their station.
func Build(samples []schedule.Sample, at time.Time) *gtfs.FeedMessage {
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(at.Unix())),
		},
	}
	for _, s := range samples {
		status := gtfs.VehiclePosition_IN_TRANSIT_TO
		if s.Status != schedule.StatusRunning {
			status = gtfs.VehiclePosition_STOPPED_AT
		}
		vp := &gtfs.VehiclePosition{
			Trip: &gtfs.TripDescriptor{
				TripId:               proto.String(s.TrainID),
				ScheduleRelationship: gtfs.TripDescriptor_SCHEDULED.Enum(),
			},
			Vehicle: &gtfs.VehicleDescriptor{
				Id: proto.String(s.TrainID),
			},
			Position: &gtfs.Position{
				Latitude:  proto.Float32(float32(s.Lat)),
				Longitude: proto.Float32(float32(s.Lon)),
				Bearing:   proto.Float32(float32(s.Bearing)),
				Speed:     proto.Float32(float32(s.SpeedKmph / 3.6)),
			},
			CurrentStatus: status.Enum(),
			Timestamp:     proto.Uint64(uint64(at.Unix())),
		}
		if s.TrainName != "" {
			vp.Vehicle.Label = proto.String(s.TrainName)
		}
		if s.NextStation != "" {
			vp.StopId = proto.String(s.NextStation)
		}
		feed.Entity = append(feed.Entity, &gtfs.FeedEntity{
			Id:      proto.String("vehicle-" + s.TrainID),
			Vehicle: vp,
		})
	}
	return feed
}

// Encode builds and serializes the feed.
func Encode(samples []schedule.Sample, at time.Time) ([]byte, error) {
	b, err := proto.Marshal(Build(samples, at))
	if err != nil {
		return nil, fmt.Errorf("marshal feed: %w", err)
	}
	return b, nil
}
