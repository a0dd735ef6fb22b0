// Package main runs the rover daemon: it assembles the machine from a config
// file and serves commands and telemetry over TCP.
package main

import (
	"github.com/edaniels/golog"
	"go.viam.com/utils"

	"github.com/tern-robotics/rover/rover"
)

var logger = golog.NewDevelopmentLogger("roverd")

func main() {
	utils.ContextualMainQuit(rover.RunServer, logger)
}
