// Package main runs the rover's control server: the browser UI, the REST endpoints, the video
// feed and the realtime joystick channel.
package main

import (
	"github.com/edaniels/golog"
	"go.viam.com/utils"

	"github.com/picar-labs/rover/web/server"
)

var logger = golog.NewDevelopmentLogger("rover")

func main() {
	utils.ContextualMain(server.RunServer, logger)
}
