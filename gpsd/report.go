package gpsd

import (
	"encoding/json"
	"math"

	"github.com/theoremus-urban-solutions/location-tracking/tracking"
)

// gpsd fix modes.
const (
	mode2D = 2
	mode3D = 3
)

// tpv is the subset of a gpsd TPV (time-position-velocity) report we use.
type tpv struct {
	Class  string   `json:"class"`
	Mode   int      `json:"mode"`
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
	Alt    *float64 `json:"alt"`
	AltMSL *float64 `json:"altMSL"`
	Eph    *float64 `json:"eph"`
	Epx    *float64 `json:"epx"`
	Epy    *float64 `json:"epy"`
}

// parseReport converts one line of gpsd JSON into a fix. Lines that are
// not positioned TPV reports return ok=false.
func parseReport(line []byte) (tracking.RawFix, bool) {
	var r tpv
	if err := json.Unmarshal(line, &r); err != nil {
		return tracking.RawFix{}, false
	}
	if r.Class != "TPV" || r.Mode < mode2D || r.Lat == nil || r.Lon == nil {
		return tracking.RawFix{}, false
	}

	fix := tracking.RawFix{Latitude: *r.Lat, Longitude: *r.Lon}
	switch {
	case r.Eph != nil:
		fix.Accuracy = tracking.Float(*r.Eph)
	case r.Epx != nil && r.Epy != nil:
		fix.Accuracy = tracking.Float(math.Max(*r.Epx, *r.Epy))
	}
	// Altitude is only meaningful with a 3D fix.
	if r.Mode >= mode3D {
		switch {
		case r.AltMSL != nil:
			fix.Altitude = tracking.Float(*r.AltMSL)
		case r.Alt != nil:
			fix.Altitude = tracking.Float(*r.Alt)
		}
	}
	return fix, true
}
