package cli

import (
	"fmt"
	"os"

	"blinkbench"

	"gopkg.in/yaml.v3"
)

// benchConfig mirrors the controller attributes the CLI needs.
type benchConfig struct {
	SerialPort    string `yaml:"serial_port"`
	BaudRate      int    `yaml:"baud_rate"`
	BitstreamFile string `yaml:"bitstream_file"`
	ResultsFile   string `yaml:"results_file"`
	ResultsDB     string `yaml:"results_db"`
}

func loadConfig(path string) (*benchConfig, error) {
	var cfg benchConfig
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *benchConfig) applyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = blinkbench.DefaultBaudRate
	}
	if c.BitstreamFile == "" {
		c.BitstreamFile = "captures/input_bitstreams.txt"
	}
	if c.ResultsFile == "" {
		c.ResultsFile = "captures/working_bitstreams.csv"
	}
}
