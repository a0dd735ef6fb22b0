package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	addressFlag = "address"
	timeoutFlag = "timeout"
	debugFlag   = "debug"

	driveSpeedFlag = "speed"
	driveHoldFlag  = "for"

	watchCountFlag = "count"
	watchJSONFlag  = "json"

	missionIDFlag = "mission-id"
)

var app = &cli.App{
	Name:            "roverctl",
	Usage:           "talk to a rover over its TCP command port",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    addressFlag,
			Aliases: []string{"a"},
			Value:   "127.0.0.1:8023",
			Usage:   "rover command port as host:port",
		},
		&cli.DurationFlag{
			Name:  timeoutFlag,
			Value: 10 * time.Second,
			Usage: "how long to wait for a reply",
		},
		&cli.BoolFlag{
			Name:  debugFlag,
			Usage: "print every wire frame to stderr",
		},
	},
	Commands: []*cli.Command{
		{
			Name:   "status",
			Usage:  "show position, heading and navigation state",
			Action: StatusAction,
		},
		{
			Name:  "watch",
			Usage: "stream telemetry frames as they arrive",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  watchCountFlag,
					Usage: "stop after this many frames (0 streams forever)",
				},
				&cli.BoolFlag{
					Name:  watchJSONFlag,
					Usage: "print raw JSON frames instead of summaries",
				},
			},
			Action: WatchAction,
		},
		{
			Name:            "mission",
			Usage:           "load and control waypoint missions",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:      "upload",
					Usage:     "load a mission plan from a JSON file",
					ArgsUsage: "<file>",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:  missionIDFlag,
							Usage: "mission id to send (default: id from the file, or a fresh one)",
						},
					},
					Action: MissionUploadAction,
				},
				{
					Name:   "resume",
					Usage:  "start or resume the loaded mission",
					Action: MissionResumeAction,
				},
				{
					Name:   "pause",
					Usage:  "pause the active mission and stop the wheels",
					Action: MissionPauseAction,
				},
				{
					Name:   "abort",
					Usage:  "abort the mission for good",
					Action: MissionAbortAction,
				},
			},
		},
		{
			Name:      "drive",
			Usage:     "drive manually for a short stretch",
			ArgsUsage: "<direction>",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  driveSpeedFlag,
					Value: 40,
					Usage: "speed as a percentage, 0-100",
				},
				&cli.DurationFlag{
					Name:  driveHoldFlag,
					Value: time.Second,
					Usage: "how long to keep moving",
				},
			},
			Action: DriveAction,
		},
		{
			Name:      "speed",
			Usage:     "set the cruise speed for navigation",
			ArgsUsage: "<percent>",
			Action:    SpeedAction,
		},
		{
			Name:   "version",
			Usage:  "print version info for this program",
			Action: VersionAction,
		},
	},
}

// NewApp returns the app with Writer set to out and ErrWriter set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

// printf prints a formatted line to the given writer.
func printf(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintf(w, format+"\n", a...)
}
