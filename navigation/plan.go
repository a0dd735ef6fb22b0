package navigation

import (
	"math"
	"time"

	geo "github.com/kellydunn/golang-geo"

	"github.com/tern-robotics/rover/state"
	"github.com/tern-robotics/rover/utils"
)

// BuildPlan derives the per-leg segments and plan totals from an ordered
// waypoint list. Zero-valued parameters are filled from the defaults first so
// a bare upload still gets a usable pace and timeout.
func BuildPlan(wps []state.Waypoint, params state.MissionParameters) (state.MissionParameters, []state.PathSegment) {
	defaults := state.DefaultMissionParameters()
	if params.SpeedMps <= 0 {
		params.SpeedMps = defaults.SpeedMps
	}
	if params.CteThresholdM <= 0 {
		params.CteThresholdM = defaults.CteThresholdM
	}
	if params.MissionTimeout <= 0 {
		params.MissionTimeout = defaults.MissionTimeout
	}

	var segs []state.PathSegment
	var totalM float64
	for i := 0; i+1 < len(wps); i++ {
		start, end := wps[i].Point(), wps[i+1].Point()
		d := start.GreatCircleDistance(end) * 1000
		segs = append(segs, state.PathSegment{
			StartLat:       wps[i].Lat,
			StartLng:       wps[i].Lng,
			EndLat:         wps[i+1].Lat,
			EndLng:         wps[i+1].Lng,
			DistanceM:      d,
			BearingDeg:     utils.ModAngDeg(start.BearingTo(end)),
			TargetSpeedMps: params.SpeedMps,
		})
		totalM += d
	}
	params.TotalDistanceM = totalM
	params.EstimatedTime = time.Duration(totalM / params.SpeedMps * float64(time.Second))
	return params, segs
}

// CrossTrack returns the signed offset in meters of pos from the track that
// runs origin to target. Positive means the rover sits to the right of the
// track looking along it.
func CrossTrack(origin, pos, target *geo.Point) float64 {
	dM := origin.GreatCircleDistance(pos) * 1000
	if dM == 0 {
		return 0
	}
	bearingAB := origin.BearingTo(target)
	bearingAP := origin.BearingTo(pos)
	return dM * math.Sin(utils.DegToRad(bearingAP-bearingAB))
}
