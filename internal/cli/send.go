package cli

import (
	"fmt"
	"time"

	"blinkbench"

	"github.com/spf13/cobra"
)

var (
	sendPort     string
	sendBaud     int
	sendInterval time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <pattern>...",
	Short: "Transmit one or more patterns to the TX emulator",
	Long: `Send each pattern as a newline-terminated line over the serial port,
waiting --interval between patterns so the receiver can react.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&sendPort, "port", "p", "", "Serial port (overrides serial_port)")
	sendCmd.Flags().IntVarP(&sendBaud, "baud", "b", 0, "Baud rate (overrides baud_rate)")
	sendCmd.Flags().DurationVar(&sendInterval, "interval", blinkbench.DefaultStepWindow, "Pause between patterns")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if sendPort != "" {
		cfg.SerialPort = sendPort
	}
	if sendBaud > 0 {
		cfg.BaudRate = sendBaud
	}
	if cfg.SerialPort == "" {
		return fmt.Errorf("no serial port: pass --port or set serial_port")
	}

	tx, err := blinkbench.OpenSerialTransmitter(blinkbench.SerialConfig{Port: cfg.SerialPort, BaudRate: cfg.BaudRate})
	if err != nil {
		return err
	}
	defer tx.Close()

	ctx := cmd.Context()
	for i, pattern := range args {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sendInterval):
			}
		}
		if err := tx.Send(ctx, pattern); err != nil {
			return err
		}
		logger.Infof("sent %s on %s", pattern, cfg.SerialPort)
	}
	return nil
}
