package cli

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// missionFile is the on-disk mission plan. Waypoints are passed through
// untouched so both lon and lng spellings survive the trip.
type missionFile struct {
	MissionID  string                   `json:"mission_id"`
	Waypoints  []map[string]interface{} `json:"waypoints"`
	Parameters map[string]interface{}   `json:"parameters,omitempty"`
}

// MissionUploadAction is the corresponding Action for 'mission upload'.
func MissionUploadAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("mission file required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "cannot read mission file")
	}
	var mission missionFile
	if err := json.Unmarshal(raw, &mission); err != nil {
		return errors.Wrap(err, "cannot parse mission file")
	}
	if id := c.String(missionIDFlag); id != "" {
		mission.MissionID = id
	}
	if mission.MissionID == "" {
		mission.MissionID = uuid.NewString()
	}
	if len(mission.Waypoints) == 0 {
		return errors.New("mission file has no waypoints")
	}

	cmd := map[string]interface{}{
		"command":    "upload_mission",
		"mission_id": mission.MissionID,
		"waypoints":  mission.Waypoints,
	}
	if mission.Parameters != nil {
		cmd["parameters"] = mission.Parameters
	}

	rc, err := newRoverClient(c)
	if err != nil {
		return err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			printf(c.App.ErrWriter, "close: %s", err)
		}
	}()

	message, err := rc.do(cmd)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s (id %s)", message, mission.MissionID)
	return nil
}

// MissionResumeAction is the corresponding Action for 'mission resume'.
func MissionResumeAction(c *cli.Context) error {
	return simpleCommand(c, map[string]interface{}{"command": "resume_mission"})
}

// MissionPauseAction is the corresponding Action for 'mission pause'.
func MissionPauseAction(c *cli.Context) error {
	return simpleCommand(c, map[string]interface{}{"command": "pause_mission"})
}

// MissionAbortAction is the corresponding Action for 'mission abort'.
func MissionAbortAction(c *cli.Context) error {
	return simpleCommand(c, map[string]interface{}{"command": "abort_mission"})
}
