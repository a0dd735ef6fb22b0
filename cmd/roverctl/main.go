// Package main is the roverctl command itself.
package main

import (
	"log"
	"os"

	"github.com/tern-robotics/rover/cli"
)

func main() {
	if err := cli.NewApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
