package blinkbench

import (
	"context"
	"fmt"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var ResultsSensor = resource.NewModel("rfbench", "blink-test", "results-sensor")

func init() {
	resource.RegisterComponent(sensor.API, ResultsSensor,
		resource.Registration[sensor.Sensor, *ResultsSensorConfig]{
			Constructor: newResultsSensor,
		},
	)
}

type ResultsSensorConfig struct {
	ResultsFile string `json:"results_file"`
}

func (cfg *ResultsSensorConfig) Validate(path string) ([]string, []string, error) {
	if cfg.ResultsFile == "" {
		return nil, nil, fmt.Errorf("%s: results_file is required", path)
	}
	return nil, nil, nil
}

type resultsSensor struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	path   string
}

func newResultsSensor(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*ResultsSensorConfig](rawConf)
	if err != nil {
		return nil, err
	}

	return &resultsSensor{
		name:   rawConf.ResourceName(),
		logger: logger,
		path:   conf.ResultsFile,
	}, nil
}

func (s *resultsSensor) Name() resource.Name {
	return s.name
}

// Readings summarises the results log on disk.
func (s *resultsSensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	results, err := ReadResultsFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading results log: %w", err)
	}
	return summarizeResults(results), nil
}

func summarizeResults(results []TrialResult) map[string]interface{} {
	passes := 0
	passing := []interface{}{}
	for _, r := range results {
		if r.Outcome == OutcomePass {
			passes++
			passing = append(passing, r.Pattern)
		}
	}

	summary := map[string]interface{}{
		"total":            len(results),
		"passes":           passes,
		"fails":            len(results) - passes,
		"passing_patterns": passing,
	}
	if n := len(results); n > 0 {
		last := results[n-1]
		summary["last_pattern"] = last.Pattern
		summary["last_outcome"] = string(last.Outcome)
		summary["last_percentage"] = last.Percentage
		summary["last_at"] = last.Timestamp.Format(TimestampLayout)
	}
	return summary
}

func (s *resultsSensor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, fmt.Errorf("DoCommand not supported on results-sensor")
}

func (s *resultsSensor) Close(context.Context) error {
	return nil
}
