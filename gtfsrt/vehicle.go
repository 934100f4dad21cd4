package gtfsrt

import (
	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"github.com/theoremus-urban-solutions/location-tracking/tracking"
)

// VehicleFix is a vehicle's reported position and the epoch second it
// was measured (0 when the feed omits it).
type VehicleFix struct {
	Fix       tracking.RawFix
	Timestamp uint64
}

// FindVehicle returns the position of vehicleID in fm. The vehicle is
// matched on its descriptor id, then its label, then the entity id.
func FindVehicle(fm *gtfsrtpb.FeedMessage, vehicleID string) (VehicleFix, bool) {
	if fm == nil {
		return VehicleFix{}, false
	}
	for _, e := range fm.GetEntity() {
		vp := e.GetVehicle()
		if vp == nil || vp.GetPosition() == nil {
			continue
		}
		desc := vp.GetVehicle()
		if desc.GetId() != vehicleID && desc.GetLabel() != vehicleID && e.GetId() != vehicleID {
			continue
		}
		pos := vp.GetPosition()
		ts := vp.GetTimestamp()
		if ts == 0 {
			ts = fm.GetHeader().GetTimestamp()
		}
		return VehicleFix{
			Fix: tracking.RawFix{
				Latitude:  float64(pos.GetLatitude()),
				Longitude: float64(pos.GetLongitude()),
			},
			Timestamp: ts,
		}, true
	}
	return VehicleFix{}, false
}
