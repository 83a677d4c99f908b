package blinkbench

import (
	"context"
	"fmt"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	generic "go.viam.com/rdk/services/generic"
)

var TrialSensor = resource.NewModel("rfbench", "blink-test", "trial-sensor")

func init() {
	resource.RegisterComponent(sensor.API, TrialSensor,
		resource.Registration[sensor.Sensor, *TrialSensorConfig]{
			Constructor: newTrialSensor,
		},
	)
}

type TrialSensorConfig struct {
	Controller string `json:"controller"`
}

func (cfg *TrialSensorConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Controller == "" {
		return nil, nil, fmt.Errorf("%s: controller is required", path)
	}
	return []string{generic.Named(cfg.Controller).String()}, nil, nil
}

// runKeys are the controller status fields worth capturing per reading.
var runKeys = []string{
	"state",
	"should_sync",
	"run_id",
	"run_state",
	"step",
	"candidate",
	"trials",
	"passes",
	"fails",
	"resets",
	"last_percentage",
	"last_blinking",
	"last_pattern",
	"last_outcome",
}

type runStatusProvider interface {
	GetState() map[string]interface{}
}

// trialSensor publishes the controller's run progress so data capture can
// record one row per reading and filter on should_sync.
type trialSensor struct {
	resource.AlwaysRebuild

	name       resource.Name
	logger     logging.Logger
	controller runStatusProvider
}

func newTrialSensor(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*TrialSensorConfig](rawConf)
	if err != nil {
		return nil, err
	}

	res, ok := deps[generic.Named(conf.Controller)]
	if !ok {
		return nil, fmt.Errorf("controller %q not found in dependencies", conf.Controller)
	}
	provider, ok := res.(runStatusProvider)
	if !ok {
		return nil, fmt.Errorf("%q is not a blink-test controller", conf.Controller)
	}

	return &trialSensor{
		name:       rawConf.ResourceName(),
		logger:     logger,
		controller: provider,
	}, nil
}

func (s *trialSensor) Name() resource.Name {
	return s.name
}

func (s *trialSensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	status := s.controller.GetState()

	readings := make(map[string]interface{}, len(runKeys)+1)
	for _, k := range runKeys {
		if v, ok := status[k]; ok {
			readings[k] = v
		}
	}
	trials, _ := status["trials"].(int)
	passes, _ := status["passes"].(int)
	if trials > 0 {
		readings["pass_rate"] = float64(passes) / float64(trials)
	}
	return readings, nil
}

func (s *trialSensor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, fmt.Errorf("DoCommand not supported on trial-sensor")
}

func (s *trialSensor) Close(context.Context) error {
	return nil
}
