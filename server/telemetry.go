package server

import (
	"encoding/json"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"

	"github.com/tern-robotics/rover/state"
)

// telemetry is the periodic line every connected console receives. Field
// names are the wire contract; consoles parse these exact keys.
type telemetry struct {
	Lat          float64        `json:"lat"`
	Lon          float64        `json:"lon"`
	Satellites   int            `json:"satellites"`
	HDOP         float64        `json:"hdop"`
	Heading      float64        `json:"heading"`
	Temperature  float64        `json:"temperature"`
	IMUData      imuData        `json:"imu_data"`
	WifiStrength int            `json:"wifi_strength"`
	Sensors      sensorFlags    `json:"sensors"`
	TOFData      tofData        `json:"tof_data"`
	Mission      missionSummary `json:"mission"`
	Rover        roverSummary   `json:"rover"`
	SystemStatus string         `json:"system_status"`
	Timestamp    int64          `json:"timestamp"`
}

type imuData struct {
	Roll        float64           `json:"roll"`
	Pitch       float64           `json:"pitch"`
	Quaternion  [4]float64        `json:"quaternion"`
	Accel       [3]float64        `json:"accel"`
	Gyro        [3]float64        `json:"gyro"`
	Mag         [3]float64        `json:"mag"`
	LinearAccel [3]float64        `json:"linear_accel"`
	Gravity     [3]float64        `json:"gravity"`
	Calibration calibrationScores `json:"calibration"`
	Temperature float64           `json:"temperature"`
}

type calibrationScores struct {
	Sys   int `json:"sys"`
	Gyro  int `json:"gyro"`
	Accel int `json:"accel"`
	Mag   int `json:"mag"`
}

type sensorFlags struct {
	Accel bool `json:"accel"`
	Gyro  bool `json:"gyro"`
	Mag   bool `json:"mag"`
	GPS   bool `json:"gps"`
	TOF   bool `json:"tof"`
}

type tofData struct {
	Distance float64 `json:"distance"`
	Status   int     `json:"status"`
}

type missionSummary struct {
	ID                string  `json:"id"`
	State             string  `json:"state"`
	ProgressPercent   float64 `json:"progress_percent"`
	CurrentSegment    int     `json:"current_segment"`
	DistanceToTargetM float64 `json:"distance_to_target_m"`
	EtaS              int64   `json:"eta_s"`
	CrossTrackErrorM  float64 `json:"cross_track_error_m"`
}

type roverSummary struct {
	Navigating      bool  `json:"navigating"`
	CurrentWaypoint int   `json:"current_waypoint"`
	TotalWaypoints  int   `json:"total_waypoints"`
	Speed           int   `json:"speed"`
	LeftEncoder     int64 `json:"left_encoder"`
	RightEncoder    int64 `json:"right_encoder"`
	UptimeS         int64 `json:"uptime_s"`
}

func vec(v r3.Vector) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// buildTelemetry snapshots the shared records into one frame. A record whose
// lock times out or whose source is absent contributes zero values; the frame
// always goes out.
func (s *Server) buildTelemetry() telemetry {
	var t telemetry
	t.SystemStatus = "operational"
	t.Timestamp = s.clk.Now().UnixMilli()
	// Identity quaternion until a real attitude shows up.
	t.IMUData.Quaternion = [4]float64{1, 0, 0, 0}

	if pos, ok := s.shared.Position(); ok && pos.Valid {
		t.Lat = pos.Lat
		t.Lon = pos.Lng
		t.Satellites = pos.Satellites
		t.HDOP = pos.HDOP
		t.Sensors.GPS = true
	}
	if att, ok := s.shared.Attitude(); ok && att.Valid {
		t.Heading = att.Heading
		t.Temperature = att.Temperature
		t.IMUData = imuData{
			Roll:        att.Roll,
			Pitch:       att.Pitch,
			Quaternion:  att.Quat,
			Accel:       vec(att.Accel),
			Gyro:        vec(att.Gyro),
			Mag:         vec(att.Mag),
			LinearAccel: vec(att.LinearAccel),
			Gravity:     vec(att.Gravity),
			Calibration: calibrationScores{
				Sys:   att.Calibration.Sys,
				Gyro:  att.Calibration.Gyro,
				Accel: att.Calibration.Accel,
				Mag:   att.Calibration.Mag,
			},
			Temperature: att.Temperature,
		}
		t.Sensors.Accel = true
		t.Sensors.Gyro = true
		t.Sensors.Mag = true
	}
	if status, ok := s.shared.RoverStatus(); ok {
		t.TOFData = tofData{Distance: status.FrontObstacleCM, Status: status.FrontObstacleStatus}
		t.Sensors.TOF = status.FrontObstacleCM > 0
		t.Mission.ProgressPercent = status.ProgressPct
		t.Mission.CurrentSegment = status.CurrentSegment
		t.Mission.DistanceToTargetM = status.DistanceToTargetM
		t.Mission.EtaS = int64(status.Remaining.Seconds())
		t.Mission.CrossTrackErrorM = status.CrossTrackErrorM
		t.Rover = roverSummary{
			Navigating:      status.Navigating,
			CurrentWaypoint: status.CurrentWaypoint,
			TotalWaypoints:  status.TotalWaypoints,
			Speed:           status.CurrentSpeedPct,
			LeftEncoder:     status.LeftEncoderCount,
			RightEncoder:    status.RightEncoderCount,
			UptimeS:         int64(status.Uptime.Seconds()),
		}
	}
	if id, st, ok := s.shared.Mission(); ok {
		t.Mission.ID = id
		t.Mission.State = st.String()
	} else {
		t.Mission.State = state.MissionIdle.String()
	}
	return t
}

// telemetryLoop pushes one frame per tick to every connected client.
func (s *Server) telemetryLoop(ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-s.cancelCtx.Done():
			return
		case <-ticker.C:
			s.broadcastTelemetry()
		}
	}
}

func (s *Server) broadcastTelemetry() {
	s.mu.Lock()
	if len(s.clients) == 0 {
		s.mu.Unlock()
		return
	}
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	frame, err := json.Marshal(s.buildTelemetry())
	if err != nil {
		s.logger.Errorw("marshaling telemetry", "error", err)
		return
	}
	for _, c := range targets {
		s.writeLine(c, frame)
	}
}
