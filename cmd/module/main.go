package main

import (
	"blinkbench"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	generic "go.viam.com/rdk/services/generic"
)

func main() {
	module.ModularMain(
		resource.APIModel{API: generic.API, Model: blinkbench.Controller},
		resource.APIModel{API: sensor.API, Model: blinkbench.BlinkSensor},
		resource.APIModel{API: sensor.API, Model: blinkbench.TrialSensor},
		resource.APIModel{API: sensor.API, Model: blinkbench.ResultsSensor},
	)
}
