package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/tern-robotics/rover/drive"
	"github.com/tern-robotics/rover/navigation"
	"github.com/tern-robotics/rover/state"
	"github.com/tern-robotics/rover/teleop"
	"github.com/tern-robotics/rover/utils"
)

// reply is the one-line answer every inbound command gets.
type reply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) sendSuccess(c *client, message string) {
	s.sendReply(c, reply{Status: "success", Message: message})
}

func (s *Server) sendError(c *client, message string) {
	s.sendReply(c, reply{Status: "error", Message: message})
}

func (s *Server) sendReply(c *client, r interface{}) {
	frame, err := json.Marshal(r)
	if err != nil {
		s.logger.Errorw("marshaling reply", "error", err)
		return
	}
	s.writeLine(c, frame)
}

// handleLine routes one inbound frame. Commands carry a "command" key; a bare
// waypoint list is the wire format old consoles speak.
func (s *Server) handleLine(ctx context.Context, c *client, line string) {
	s.logger.Debugw("received", "line", line)

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		if json.Valid([]byte(line)) {
			s.sendError(c, "No command specified")
		} else {
			s.sendError(c, "Invalid JSON format")
		}
		return
	}

	if raw, ok := payload["command"]; ok {
		var cmd string
		if err := json.Unmarshal(raw, &cmd); err == nil {
			s.dispatch(ctx, c, cmd, payload)
			return
		}
	}
	if raw, ok := payload["waypoints"]; ok {
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err == nil {
			s.handleLegacyWaypoints(c, raw)
			return
		}
	}
	s.sendError(c, "No command specified")
}

func (s *Server) dispatch(ctx context.Context, c *client, cmd string, payload map[string]json.RawMessage) {
	switch cmd {
	case "upload_mission":
		s.handleUploadMission(ctx, c, payload)
	case "resume_mission":
		if err := s.nav.Resume(ctx); err != nil {
			s.sendError(c, err.Error())
			return
		}
		s.sendSuccess(c, "Mission resumed")
	case "pause_mission":
		if err := s.nav.Pause(ctx); err != nil {
			s.sendError(c, err.Error())
			return
		}
		s.sendSuccess(c, "Mission paused")
	case "abort_mission":
		if err := s.nav.Abort(ctx); err != nil {
			s.sendError(c, err.Error())
			return
		}
		s.sendSuccess(c, "Mission aborted")
	case "enable_manual":
		if err := s.tele.Enable(ctx); err != nil {
			s.sendError(c, err.Error())
			return
		}
		s.sendSuccess(c, "Manual control enabled")
	case "disable_manual":
		if err := s.tele.Disable(ctx); err != nil {
			s.sendError(c, err.Error())
			return
		}
		s.sendSuccess(c, "Manual control disabled")
	case "manual_move":
		s.handleManualMove(ctx, c, payload)
	case "start":
		// Old consoles have no mission vocabulary; start means go.
		if err := s.nav.Resume(ctx); err != nil {
			s.sendError(c, err.Error())
			return
		}
		s.sendSuccess(c, "Navigation started")
	case "stop":
		// Stop must be safe to spam, so an already-stopped mission is fine.
		if err := s.nav.Pause(ctx); err != nil && !errors.Is(err, navigation.ErrInvalidTransition) {
			s.sendError(c, err.Error())
			return
		}
		s.sendSuccess(c, "Navigation stopped")
	case "set_speed":
		s.handleSetSpeed(c, payload)
	case "get_status":
		s.handleGetStatus(c)
	default:
		s.sendError(c, "Unknown command: "+cmd)
	}
}

// wirePoint accepts both spellings of longitude that exist in the field.
type wirePoint struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
	Lng *float64 `json:"lng"`
}

func (p wirePoint) waypoint() (state.Waypoint, bool) {
	if p.Lat == nil {
		return state.Waypoint{}, false
	}
	switch {
	case p.Lng != nil:
		return state.Waypoint{Lat: *p.Lat, Lng: *p.Lng, Valid: true}, true
	case p.Lon != nil:
		return state.Waypoint{Lat: *p.Lat, Lng: *p.Lon, Valid: true}, true
	default:
		return state.Waypoint{}, false
	}
}

// wireParams is the mission pacing block as clients send it.
type wireParams struct {
	SpeedMps           float64 `json:"speed_mps"`
	CteThresholdM      float64 `json:"cte_threshold_m"`
	MissionTimeoutS    uint32  `json:"mission_timeout_s"`
	TotalDistanceM     float64 `json:"total_distance_m"`
	EstimatedDurationS uint32  `json:"estimated_duration_s"`
}

func (s *Server) handleUploadMission(ctx context.Context, c *client, payload map[string]json.RawMessage) {
	var missionID string
	idRaw, idOK := payload["mission_id"]
	if idOK {
		idOK = json.Unmarshal(idRaw, &missionID) == nil
	}
	wpsRaw, wpsOK := payload["waypoints"]
	var points []wirePoint
	if wpsOK {
		wpsOK = json.Unmarshal(wpsRaw, &points) == nil
	}
	if !idOK || !wpsOK {
		s.sendError(c, "Missing mission fields (mission_id, waypoints, parameters)")
		return
	}

	waypoints := make([]state.Waypoint, 0, len(points))
	for _, p := range points {
		wp, ok := p.waypoint()
		if !ok {
			s.sendError(c, "Invalid waypoint format (missing lat/lon)")
			return
		}
		waypoints = append(waypoints, wp)
	}

	var params *state.MissionParameters
	if raw, ok := payload["parameters"]; ok {
		var wire wireParams
		if err := json.Unmarshal(raw, &wire); err != nil {
			s.sendError(c, "Missing mission fields (mission_id, waypoints, parameters)")
			return
		}
		params = &state.MissionParameters{
			SpeedMps:       wire.SpeedMps,
			CteThresholdM:  wire.CteThresholdM,
			MissionTimeout: time.Duration(wire.MissionTimeoutS) * time.Second,
			TotalDistanceM: wire.TotalDistanceM,
			EstimatedTime:  time.Duration(wire.EstimatedDurationS) * time.Second,
		}
	}
	if raw, ok := payload["path_segments"]; ok {
		// The plan is recomputed from the waypoints; a client-side copy adds
		// nothing but can disagree, so it is only logged.
		s.logger.Debugw("ignoring client path_segments in favor of computed plan", "bytes", len(raw))
	}

	stored, err := s.nav.UploadMission(ctx, missionID, waypoints, params)
	switch {
	case err == nil:
		s.sendSuccess(c, fmt.Sprintf("Mission loaded with %d waypoints", stored))
	case errors.Is(err, state.ErrWaypointCapacity):
		s.sendError(c, fmt.Sprintf("Too many waypoints (max %d)", state.MaxWaypoints))
	case errors.Is(err, navigation.ErrNoWaypoints):
		s.sendError(c, "No waypoints provided")
	default:
		s.sendError(c, err.Error())
	}
}

// handleLegacyWaypoints serves the bare waypoint-list payload: it replaces the
// stored list and nothing else. No mission state change, no motion.
func (s *Server) handleLegacyWaypoints(c *client, raw json.RawMessage) {
	var points []wirePoint
	if err := json.Unmarshal(raw, &points); err != nil {
		s.sendError(c, "Invalid waypoint format (missing lat/lon)")
		return
	}
	waypoints := make([]state.Waypoint, 0, len(points))
	for _, p := range points {
		wp, ok := p.waypoint()
		if !ok {
			s.sendError(c, "Invalid waypoint format (missing lat/lon)")
			return
		}
		waypoints = append(waypoints, wp)
	}

	stored, err := s.shared.SetWaypoints(waypoints)
	switch {
	case err == nil:
		s.sendSuccess(c, fmt.Sprintf("Added %d waypoints", stored))
	case errors.Is(err, state.ErrWaypointCapacity):
		s.sendError(c, fmt.Sprintf("Too many waypoints (max %d)", state.MaxWaypoints))
	default:
		s.sendError(c, "Failed to store waypoints")
	}
}

func (s *Server) handleManualMove(ctx context.Context, c *client, payload map[string]json.RawMessage) {
	var direction string
	raw, ok := payload["direction"]
	if !ok || json.Unmarshal(raw, &direction) != nil {
		s.sendError(c, "Direction value required")
		return
	}
	var speed int
	raw, ok = payload["speed"]
	if !ok || json.Unmarshal(raw, &speed) != nil {
		s.sendError(c, "Speed value required")
		return
	}

	dir, err := state.ParseDirection(direction)
	if err != nil {
		s.sendError(c, "Invalid direction: "+direction)
		return
	}
	if speed < 0 || speed > 100 {
		s.sendError(c, "Speed must be between 0 and 100")
		return
	}
	if err := s.tele.Command(ctx, dir, speed); err != nil {
		if errors.Is(err, teleop.ErrManualInactive) {
			s.sendError(c, "Manual control not enabled")
			return
		}
		s.sendError(c, err.Error())
		return
	}
	s.sendSuccess(c, fmt.Sprintf("Manual move %s at %d%%", direction, speed))
}

func (s *Server) handleSetSpeed(c *client, payload map[string]json.RawMessage) {
	var speed int
	raw, ok := payload["speed"]
	if !ok || json.Unmarshal(raw, &speed) != nil {
		s.sendError(c, "Speed value required")
		return
	}
	if speed < 0 || speed > 100 {
		s.sendError(c, "Speed must be between 0 and 100")
		return
	}
	if err := s.nav.SetBaseSpeed(utils.ScaleByPct(drive.MaxPWM, float64(speed)/100)); err != nil {
		s.sendError(c, err.Error())
		return
	}
	s.sendSuccess(c, fmt.Sprintf("Speed set to %d%%", speed))
}

// statusReply mirrors the shape the old consoles already parse.
type statusReply struct {
	Status string     `json:"status"`
	Data   statusData `json:"data"`
}

type statusData struct {
	Position struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"position"`
	Heading          float64 `json:"heading"`
	NavigationActive bool    `json:"navigation_active"`
	TargetSpeed      int     `json:"target_speed"`
	WifiConnected    bool    `json:"wifi_connected"`
	WifiSignal       int     `json:"wifi_signal"`
	Uptime           int64   `json:"uptime"`
}

func (s *Server) handleGetStatus(c *client) {
	var out statusReply
	out.Status = "success"

	if pos, ok := s.shared.Position(); ok && pos.Valid {
		out.Data.Position.Lat = pos.Lat
		out.Data.Position.Lng = pos.Lng
	}
	if att, ok := s.shared.Attitude(); ok && att.Valid {
		out.Data.Heading = att.Heading
	}
	if status, ok := s.shared.RoverStatus(); ok {
		out.Data.NavigationActive = status.Navigating
		out.Data.Uptime = int64(status.Uptime.Seconds())
	}
	out.Data.TargetSpeed = int(math.Round(float64(s.nav.BaseSpeed()) / drive.MaxPWM * 100))
	// The asker reached us over the network, so connectivity is self-evident.
	out.Data.WifiConnected = true

	s.sendReply(c, out)
}
