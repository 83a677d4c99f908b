package blinkbench

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var BlinkSensor = resource.NewModel("rfbench", "blink-test", "blink-sensor")

func init() {
	resource.RegisterComponent(sensor.API, BlinkSensor,
		resource.Registration[sensor.Sensor, *BlinkSensorConfig]{
			Constructor: newBlinkSensor,
		},
	)
}

const defaultIntensityKey = "intensity"

type BlinkSensorConfig struct {
	SourceSensor  string `json:"source_sensor"`             // REQUIRED: sensor reporting the ROI grayscale mean
	UseMockSignal bool   `json:"use_mock_signal,omitempty"` // optional: synthetic indicator instead of hardware
	IntensityKey  string `json:"intensity_key,omitempty"`
	SampleRateHz  int    `json:"sample_rate_hz,omitempty"` // default: 30 (camera frame rate)
	BufferSize    int    `json:"buffer_size,omitempty"`    // default: 90
	CaptureDir    string `json:"capture_dir,omitempty"`    // where capture snapshots are written
}

func (cfg *BlinkSensorConfig) Validate(path string) ([]string, []string, error) {
	if cfg.SourceSensor == "" {
		return nil, nil, fmt.Errorf("%s: source_sensor is required", path)
	}
	if cfg.SampleRateHz < 0 || cfg.SampleRateHz > maxSampleRateHz {
		return nil, nil, fmt.Errorf("%s: sample_rate_hz must be in [0, %d]", path, maxSampleRateHz)
	}
	return []string{cfg.SourceSensor}, nil, nil
}

// intensityReader abstracts one optical sample for mock vs hardware implementations
type intensityReader interface {
	ReadIntensity(ctx context.Context) (float64, error)
}

// mockIntensityReader simulates the indicator: square wave while blinking, dark otherwise
type mockIntensityReader struct {
	mu       sync.Mutex
	blinking bool
	reads    int
}

func newMockIntensityReader() *mockIntensityReader {
	return &mockIntensityReader{}
}

func (m *mockIntensityReader) ReadIntensity(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.blinking {
		return 0, nil
	}
	m.reads++
	// On for 3 frames, off for 3
	if (m.reads/3)%2 == 0 {
		return 255, nil
	}
	return 0, nil
}

func (m *mockIntensityReader) SetBlinking(blinking bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blinking = blinking
	m.reads = 0
}

// sensorIntensityReader wraps a Viam sensor component to read the optical sample
type sensorIntensityReader struct {
	sensor sensor.Sensor
	key    string
}

func newSensorIntensityReader(s sensor.Sensor, key string) *sensorIntensityReader {
	if key == "" {
		key = defaultIntensityKey
	}
	return &sensorIntensityReader{sensor: s, key: key}
}

func (r *sensorIntensityReader) ReadIntensity(ctx context.Context) (float64, error) {
	readings, err := r.sensor.Readings(ctx, nil)
	if err != nil {
		return 0, err
	}

	val, ok := readings[r.key]
	if !ok {
		return 0, fmt.Errorf("sensor readings missing %q key", r.key)
	}

	var v float64
	switch n := val.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case uint8:
		v = float64(n)
	default:
		return 0, fmt.Errorf("sensor reading %q is not numeric: %T", r.key, val)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("sensor reading %q is not finite: %v", r.key, v)
	}
	return math.Min(math.Max(v, 0), 255), nil
}

type blinkSensor struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	reader intensityReader

	sampleRateHz int
	bufferSize   int
	captureDir   string

	mu       sync.Mutex
	samples  []float64
	captures int

	cancelCtx  context.Context
	cancelFunc func()
}

func newBlinkSensor(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*BlinkSensorConfig](rawConf)
	if err != nil {
		return nil, err
	}

	sampleRate := conf.SampleRateHz
	if sampleRate <= 0 {
		sampleRate = defaultSampleRateHz
	}

	bufferSize := conf.BufferSize
	if bufferSize <= 0 {
		bufferSize = 90
	}

	var reader intensityReader
	if conf.UseMockSignal {
		reader = newMockIntensityReader()
		logger.Infof("blink-sensor using mock signal (use_mock_signal=true)")
	} else {
		source, err := sensor.FromDependencies(deps, conf.SourceSensor)
		if err != nil {
			return nil, fmt.Errorf("getting source_sensor: %w", err)
		}
		reader = newSensorIntensityReader(source, conf.IntensityKey)
		logger.Infof("blink-sensor wrapping %q (key: %q)", conf.SourceSensor, conf.IntensityKey)
	}

	bs := newBlinkSensorWithReader(rawConf.ResourceName(), reader, sampleRate, bufferSize, conf.CaptureDir, logger)
	go bs.samplingLoop()
	return bs, nil
}

func newBlinkSensorWithReader(name resource.Name, reader intensityReader, sampleRateHz, bufferSize int, captureDir string, logger logging.Logger) *blinkSensor {
	if sampleRateHz <= 0 {
		sampleRateHz = defaultSampleRateHz
	}
	if sampleRateHz > maxSampleRateHz {
		sampleRateHz = maxSampleRateHz
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &blinkSensor{
		name:         name,
		logger:       logger,
		reader:       reader,
		sampleRateHz: sampleRateHz,
		bufferSize:   bufferSize,
		captureDir:   captureDir,
		samples:      make([]float64, 0, bufferSize),
		cancelCtx:    cancelCtx,
		cancelFunc:   cancelFunc,
	}
}

func (bs *blinkSensor) Name() resource.Name {
	return bs.name
}

func (bs *blinkSensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	bs.mu.Lock()
	samplesCopy := make([]float64, len(bs.samples))
	copy(samplesCopy, bs.samples)
	captures := bs.captures
	bs.mu.Unlock()

	samplesInterface := make([]interface{}, len(samplesCopy))
	for i, v := range samplesCopy {
		samplesInterface[i] = v
	}

	result := map[string]interface{}{
		"samples":       samplesInterface,
		"sample_count":  len(samplesCopy),
		"capture_count": captures,
	}

	if len(samplesCopy) > 0 {
		var sum float64
		for _, v := range samplesCopy {
			sum += v
		}
		mean := sum / float64(len(samplesCopy))
		result[defaultIntensityKey] = samplesCopy[len(samplesCopy)-1]
		result["mean_intensity"] = mean
		result["blink_percentage"] = mean / GrayscalePerPercent
	}

	return result, nil
}

func (bs *blinkSensor) samplingLoop() {
	ticker := time.NewTicker(time.Second / time.Duration(bs.sampleRateHz))
	defer ticker.Stop()

	for {
		select {
		case <-bs.cancelCtx.Done():
			return
		case <-ticker.C:
			v, err := bs.reader.ReadIntensity(bs.cancelCtx)
			if err != nil {
				bs.logger.Warnf("failed to read intensity: %v", err)
				continue
			}

			bs.mu.Lock()
			if len(bs.samples) >= bs.bufferSize {
				bs.samples = bs.samples[1:]
			}
			bs.samples = append(bs.samples, v)
			bs.mu.Unlock()
		}
	}
}

func (bs *blinkSensor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'command' field")
	}

	switch command {
	case "capture":
		return bs.handleCapture(cmd)
	case "set_mock_blinking":
		return bs.handleSetMockBlinking(cmd)
	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

type captureSnapshot struct {
	Label      string    `json:"label"`
	CapturedAt time.Time `json:"captured_at"`
	Samples    []float64 `json:"samples"`
}

// handleCapture freezes the current buffer as evidence for a trial.
func (bs *blinkSensor) handleCapture(cmd map[string]interface{}) (map[string]interface{}, error) {
	label, _ := cmd["label"].(string)
	if label == "" {
		return nil, fmt.Errorf("capture requires a 'label'")
	}
	// The label names a file inside capture_dir.
	if strings.ContainsAny(label, `/\`) || label == "." || label == ".." {
		return nil, fmt.Errorf("capture label %q must not contain a path", label)
	}

	bs.mu.Lock()
	snap := captureSnapshot{
		Label:      label,
		CapturedAt: time.Now(),
		Samples:    append([]float64(nil), bs.samples...),
	}
	bs.captures++
	bs.mu.Unlock()

	artifact := label
	if bs.captureDir != "" {
		if err := os.MkdirAll(bs.captureDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating capture_dir: %w", err)
		}
		raw, err := json.Marshal(snap)
		if err != nil {
			return nil, err
		}
		artifact = label + "_capture.json"
		if err := os.WriteFile(filepath.Join(bs.captureDir, artifact), raw, 0o644); err != nil {
			return nil, fmt.Errorf("writing capture: %w", err)
		}
	}

	bs.logger.Infof("captured %d samples as %s", len(snap.Samples), artifact)
	return map[string]interface{}{"artifact": artifact, "sample_count": len(snap.Samples)}, nil
}

func (bs *blinkSensor) handleSetMockBlinking(cmd map[string]interface{}) (map[string]interface{}, error) {
	mock, ok := bs.reader.(*mockIntensityReader)
	if !ok {
		return nil, fmt.Errorf("set_mock_blinking requires use_mock_signal")
	}
	blinking, ok := cmd["blinking"].(bool)
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'blinking' field")
	}
	mock.SetBlinking(blinking)
	return map[string]interface{}{"blinking": blinking}, nil
}

func (bs *blinkSensor) Close(context.Context) error {
	bs.cancelFunc()
	return nil
}
