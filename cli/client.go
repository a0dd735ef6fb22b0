// Package cli contains all business logic needed by the roverctl command.
package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"runtime/debug"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/tern-robotics/rover/config"
)

// roverClient wraps one line-oriented connection to the rover command port.
// The rover interleaves telemetry frames with command replies on the same
// socket; frames never carry a "status" key, replies always do.
type roverClient struct {
	c       *cli.Context
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

func newRoverClient(c *cli.Context) (*roverClient, error) {
	address := c.String(addressFlag)
	timeout := c.Duration(timeoutFlag)

	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot reach rover at %s", address)
	}
	rc := &roverClient{c: c, conn: conn, reader: bufio.NewReader(conn), timeout: timeout}

	greeting, err := rc.readLine()
	if err != nil {
		return nil, errors.Wrap(multiCloseErr(err, conn), "no greeting from rover")
	}
	if getMapString(greeting, "status") != "connected" {
		return nil, multiCloseErr(errors.Errorf("unexpected greeting: %v", greeting), conn)
	}
	return rc, nil
}

func multiCloseErr(err error, conn net.Conn) error {
	if closeErr := conn.Close(); closeErr != nil {
		return errors.Wrapf(err, "also failed to close connection: %s", closeErr)
	}
	return err
}

func (rc *roverClient) Close() error {
	return rc.conn.Close()
}

// readLine reads and decodes the next JSON line within the timeout.
func (rc *roverClient) readLine() (map[string]interface{}, error) {
	if err := rc.conn.SetReadDeadline(time.Now().Add(rc.timeout)); err != nil {
		return nil, err
	}
	line, err := rc.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if rc.c.Bool(debugFlag) {
		fmt.Fprintf(rc.c.App.ErrWriter, "<- %s", line)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(line, &decoded); err != nil {
		return nil, errors.Wrap(err, "undecodable line from rover")
	}
	return decoded, nil
}

// nextFrame returns the next telemetry frame, discarding stray replies.
func (rc *roverClient) nextFrame() (map[string]interface{}, error) {
	for {
		decoded, err := rc.readLine()
		if err != nil {
			return nil, err
		}
		if _, isReply := decoded["status"]; isReply {
			continue
		}
		return decoded, nil
	}
}

// roundTrip sends one command and returns its reply, skipping any telemetry
// frames that arrive in between.
func (rc *roverClient) roundTrip(cmd map[string]interface{}) (map[string]interface{}, error) {
	encoded, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	if rc.c.Bool(debugFlag) {
		fmt.Fprintf(rc.c.App.ErrWriter, "-> %s\n", encoded)
	}
	if err := rc.conn.SetWriteDeadline(time.Now().Add(rc.timeout)); err != nil {
		return nil, err
	}
	if _, err := rc.conn.Write(append(encoded, '\n')); err != nil {
		return nil, errors.Wrap(err, "cannot send command")
	}
	for {
		decoded, err := rc.readLine()
		if err != nil {
			return nil, errors.Wrap(err, "no reply from rover")
		}
		if _, isReply := decoded["status"]; !isReply {
			continue
		}
		return decoded, nil
	}
}

// do runs one command and turns an error-status reply into an error.
func (rc *roverClient) do(cmd map[string]interface{}) (string, error) {
	reply, err := rc.roundTrip(cmd)
	if err != nil {
		return "", err
	}
	message := getMapString(reply, "message")
	if getMapString(reply, "status") != "success" {
		return "", errors.Errorf("rover: %s", message)
	}
	return message, nil
}

// simpleCommand is the shared shape of the one-shot actions: connect, send,
// print the rover's message.
func simpleCommand(c *cli.Context, cmd map[string]interface{}) error {
	rc, err := newRoverClient(c)
	if err != nil {
		return err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "close: %s\n", err)
		}
	}()

	message, err := rc.do(cmd)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", message)
	return nil
}

// StatusAction is the corresponding Action for 'status'.
func StatusAction(c *cli.Context) error {
	rc, err := newRoverClient(c)
	if err != nil {
		return err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "close: %s\n", err)
		}
	}()

	reply, err := rc.roundTrip(map[string]interface{}{"command": "get_status"})
	if err != nil {
		return err
	}
	if getMapString(reply, "status") != "success" {
		return errors.Errorf("rover: %s", getMapString(reply, "message"))
	}
	data := getMap(reply, "data")
	if data == nil {
		return errors.New("status reply carried no data")
	}

	pos := getMap(data, "position")
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow([]interface{}{"position", fmt.Sprintf("%.6f, %.6f", getMapFloat(pos, "lat"), getMapFloat(pos, "lng"))})
	t.AppendRow([]interface{}{"heading", fmt.Sprintf("%.1f°", getMapFloat(data, "heading"))})
	t.AppendRow([]interface{}{"navigating", yesNo(getMapBool(data, "navigation_active"))})
	t.AppendRow([]interface{}{"cruise speed", fmt.Sprintf("%d%%", int(getMapFloat(data, "target_speed")))})
	t.AppendRow([]interface{}{"uptime", (time.Duration(getMapFloat(data, "uptime")) * time.Second).String()})
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

// WatchAction is the corresponding Action for 'watch'.
func WatchAction(c *cli.Context) error {
	rc, err := newRoverClient(c)
	if err != nil {
		return err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "close: %s\n", err)
		}
	}()

	count := c.Int(watchCountFlag)
	seen := 0
	for {
		frame, err := rc.nextFrame()
		if err != nil {
			return errors.Wrap(err, "telemetry stream ended")
		}
		if c.Bool(watchJSONFlag) {
			encoded, err := json.Marshal(frame)
			if err != nil {
				return err
			}
			printf(c.App.Writer, "%s", encoded)
		} else {
			printFrame(c, frame)
		}
		seen++
		if count > 0 && seen >= count {
			return nil
		}
	}
}

func printFrame(c *cli.Context, frame map[string]interface{}) {
	mission := getMap(frame, "mission")
	rover := getMap(frame, "rover")

	line := fmt.Sprintf("lat=%.6f lon=%.6f sats=%d hdg=%.1f",
		getMapFloat(frame, "lat"),
		getMapFloat(frame, "lon"),
		int(getMapFloat(frame, "satellites")),
		getMapFloat(frame, "heading"))
	if id := getMapString(mission, "id"); id != "" {
		line += fmt.Sprintf("  mission=%s %s wp %d/%d %.0f%%",
			id,
			colorMissionState(getMapString(mission, "state")),
			int(getMapFloat(rover, "current_waypoint")),
			int(getMapFloat(rover, "total_waypoints")),
			getMapFloat(mission, "progress_percent"))
	} else {
		line += fmt.Sprintf("  mission=%s", colorMissionState(getMapString(mission, "state")))
	}
	line += fmt.Sprintf("  speed=%d%%", int(getMapFloat(rover, "speed")))
	printf(c.App.Writer, "%s", line)
}

func colorMissionState(state string) string {
	switch state {
	case "active":
		return color.GreenString(state)
	case "paused":
		return color.YellowString(state)
	case "aborted", "failed":
		return color.RedString(state)
	case "completed":
		return color.CyanString(state)
	default:
		return state
	}
}

func yesNo(v bool) string {
	if v {
		return color.GreenString("yes")
	}
	return color.RedString("no")
}

// VersionAction is the corresponding Action for 'version'.
func VersionAction(c *cli.Context) error {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return errors.New("error reading build info")
	}
	if c.Bool(debugFlag) {
		printf(c.App.Writer, "%s", info.String())
	}
	settings := make(map[string]string, len(info.Settings))
	for _, setting := range info.Settings {
		settings[setting.Key] = setting.Value
	}
	version := "?"
	if rev, ok := settings["vcs.revision"]; ok {
		version = rev[:8]
		if settings["vcs.modified"] == "true" {
			version += "+"
		}
	}
	appVersion := config.Version
	if appVersion == "" {
		appVersion = "(dev)"
	}
	printf(c.App.Writer, "Version %s Git=%s", appVersion, version)
	return nil
}
