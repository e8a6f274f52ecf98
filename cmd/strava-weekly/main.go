package main

import (
	// Bundle the zone database so TZ_NAME resolves on minimal images
	_ "time/tzdata"

	"github.com/joshdurbin/strava-weekly/internal/cmd"
)

func main() {
	cmd.Execute()
}
