package rover

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tern-robotics/rover/state"
)

func (r *Rover) readEncoders(ctx context.Context) error {
	left, err := r.leftEncoder.Position(ctx)
	if err != nil {
		return err
	}
	right, err := r.rightEncoder.Position(ctx)
	if err != nil {
		return err
	}
	return r.shared.UpdateRoverStatus(func(st *state.RoverStatus) {
		st.LeftEncoderCount = left
		st.RightEncoderCount = right
	})
}

func (r *Rover) ingestFix(ctx context.Context) error {
	pos, err := r.gps.Position(ctx)
	now := r.clk.Now()
	if err == nil && pos.Valid {
		r.lastFix = now
		return r.shared.SetPosition(pos)
	}
	if err != nil {
		r.logger.Debugw("gps read failed", "error", err)
	}
	if now.Sub(r.lastFix) >= gpsFixWarnAfter && now.Sub(r.lastFixWarn) >= gpsFixWarnAfter {
		r.logger.Warnw("no gps fix", "since", now.Sub(r.lastFix).String())
		r.lastFixWarn = now
	}
	return nil
}

func (r *Rover) ingestAttitude(ctx context.Context) error {
	att, err := r.imu.Attitude(ctx)
	if err != nil {
		return err
	}
	if !att.Valid {
		return nil
	}
	return r.shared.SetAttitude(att)
}

func (r *Rover) checkRange(ctx context.Context) error {
	reading, err := r.ranger.Distance(ctx)
	if err != nil {
		return err
	}
	distCM := reading.DistanceCM()
	if err := r.shared.UpdateRoverStatus(func(st *state.RoverStatus) {
		st.FrontObstacleCM = distCM
		st.FrontObstacleStatus = reading.Status
	}); err != nil {
		return err
	}
	return r.tele.CheckObstacle(ctx, distCM)
}

// watchdogTick refreshes the uptime, reports loops that stopped ticking,
// persists the attitude calibration once it reaches full scores, and leaves a
// heartbeat in the debug log.
func (r *Rover) watchdogTick(ctx context.Context) error {
	now := r.clk.Now()
	uptime := now.Sub(r.startedAt)
	if err := r.shared.UpdateRoverStatus(func(st *state.RoverStatus) {
		st.Uptime = uptime
	}); err != nil {
		return err
	}

	for _, pulse := range r.tasks {
		if pulse.name == "watchdog" {
			continue
		}
		silent := now.Sub(time.Unix(0, pulse.lastTick.Load()))
		if silent > pulse.deadline() {
			r.logger.Errorw("task stopped ticking",
				"task", pulse.name, "silent_for", silent.String())
		}
	}

	if r.calib != nil && !r.calibSaved {
		if att, ok := r.shared.Attitude(); ok && att.Valid && att.Calibration.Full() {
			blob, err := json.Marshal(att.Calibration)
			if err == nil {
				err = r.calib.Save(calibrationNamespace, blob)
			}
			if err != nil {
				r.logger.Warnw("cannot save imu calibration", "error", err)
			} else {
				r.logger.Infow("imu calibration saved")
				r.calibSaved = true
			}
		}
	}

	_, missionState, _ := r.shared.Mission()
	r.logger.Debugw("heartbeat",
		"uptime", uptime.String(),
		"mission_state", missionState.String(),
		"drive_owner", string(r.drive.CurrentOwner()),
		"lock_timeouts", r.shared.LockTimeouts(),
	)
	return nil
}
