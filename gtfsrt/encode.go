package gtfsrt

import (
	"fmt"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/theoremus-urban-solutions/location-tracking/tracking"
)

const realtimeVersion = "2.0"

// BuildTraceFeed renders a trace as a FULL_DATASET FeedMessage with one
// VehiclePosition entity per record, oldest first.
func BuildTraceFeed(records []tracking.TrackedLocation, vehicleID string, now time.Time) *gtfsrtpb.FeedMessage {
	headerTS := now
	if n := len(records); n > 0 {
		headerTS = records[n-1].Timestamp
	}
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String(realtimeVersion),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(headerTS.Unix())),
		},
	}
	for i, rec := range records {
		fm.Entity = append(fm.Entity, &gtfsrtpb.FeedEntity{
			Id: proto.String(fmt.Sprintf("%s-%d", vehicleID, i)),
			Vehicle: &gtfsrtpb.VehiclePosition{
				Vehicle: &gtfsrtpb.VehicleDescriptor{
					Id:    proto.String(vehicleID),
					Label: proto.String(rec.Source),
				},
				Position: &gtfsrtpb.Position{
					Latitude:  proto.Float32(float32(rec.Latitude)),
					Longitude: proto.Float32(float32(rec.Longitude)),
				},
				Timestamp: proto.Uint64(uint64(rec.Timestamp.Unix())),
			},
		})
	}
	return fm
}

// EncodeTrace marshals BuildTraceFeed's output to protobuf bytes.
func EncodeTrace(records []tracking.TrackedLocation, vehicleID string) ([]byte, error) {
	data, err := proto.Marshal(BuildTraceFeed(records, vehicleID, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("encoding trace feed: %w", err)
	}
	return data, nil
}
