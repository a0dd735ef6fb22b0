package cli

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/tern-robotics/rover/state"
)

// moveResend is how often a drive command is refreshed. It has to beat the
// rover's dead-man window or motion stutters.
const moveResend = 100 * time.Millisecond

// DriveAction is the corresponding Action for 'drive'. It enables manual
// control, refreshes the move until the hold expires, then stops and hands
// control back.
func DriveAction(c *cli.Context) error {
	direction := c.Args().First()
	if direction == "" {
		return errors.New("direction required, one of forward, backward, left, right, stop or a diagonal like forward_left")
	}
	if _, err := state.ParseDirection(direction); err != nil {
		return err
	}
	speed := c.Int(driveSpeedFlag)
	hold := c.Duration(driveHoldFlag)

	rc, err := newRoverClient(c)
	if err != nil {
		return err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			printf(c.App.ErrWriter, "close: %s", err)
		}
	}()

	if _, err := rc.do(map[string]interface{}{"command": "enable_manual"}); err != nil {
		return err
	}

	move := map[string]interface{}{"command": "manual_move", "direction": direction, "speed": speed}
	deadline := time.Now().Add(hold)
	for {
		if _, err := rc.do(move); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			break
		}
		time.Sleep(moveResend)
	}

	if _, err := rc.do(map[string]interface{}{"command": "manual_move", "direction": "stop", "speed": 0}); err != nil {
		return err
	}
	if _, err := rc.do(map[string]interface{}{"command": "disable_manual"}); err != nil {
		return err
	}
	printf(c.App.Writer, "drove %s at %d%% for %s", direction, speed, hold)
	return nil
}

// SpeedAction is the corresponding Action for 'speed'.
func SpeedAction(c *cli.Context) error {
	arg := c.Args().First()
	if arg == "" {
		return errors.New("speed percentage required")
	}
	percent, err := strconv.Atoi(arg)
	if err != nil {
		return errors.Wrapf(err, "speed must be a whole percentage, got %q", arg)
	}
	return simpleCommand(c, map[string]interface{}{"command": "set_speed", "speed": percent})
}
