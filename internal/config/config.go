package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

const maxTicks = 4095

type Config struct {
	PWM       PWMConfig       `yaml:"pwm"`
	ESC       ActuatorConfig  `yaml:"esc"`
	Servo     ActuatorConfig  `yaml:"servo"`
	Mapper    MapperConfig    `yaml:"mapper"`
	Transport TransportConfig `yaml:"transport"`
	Status    StatusConfig    `yaml:"status"`
	Log       LogConfig       `yaml:"log"`
}

type PWMConfig struct {
	I2CBus      int        `yaml:"i2c_bus" env:"MOTORD_I2C_BUS"`
	Address     I2CAddress `yaml:"address" env:"MOTORD_PWM_ADDRESS"`
	FrequencyHz float64    `yaml:"frequency_hz"`
	// OutputEnableGPIO is the BCM GPIO wired to the controller's OE pin.
	// Zero means OE is tied low on the board.
	OutputEnableGPIO int `yaml:"output_enable_gpio"`
}

// I2CAddress parses decimal or 0x-prefixed hex, so "0x40" works from YAML
// and from MOTORD_PWM_ADDRESS alike.
type I2CAddress uint16

func (a *I2CAddress) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(strings.TrimSpace(string(text)), 0, 16)
	if err != nil {
		return fmt.Errorf("invalid i2c address %q", string(text))
	}
	*a = I2CAddress(v)
	return nil
}

// ActuatorConfig is one output channel and its calibrated pulse range in
// device ticks.
type ActuatorConfig struct {
	Channel  int `yaml:"channel"`
	PulseMin int `yaml:"pulse_min"`
	PulseMax int `yaml:"pulse_max"`
}

type MapperConfig struct {
	ClampInput bool `yaml:"clamp_input"`
}

type TransportConfig struct {
	UDPListen    string `yaml:"udp_listen" env:"MOTORD_UDP_LISTEN"`
	SerialDevice string `yaml:"serial_device" env:"MOTORD_SERIAL_DEVICE"`
	SerialBaud   int    `yaml:"serial_baud"`
}

type StatusConfig struct {
	Listen string `yaml:"listen" env:"MOTORD_STATUS_LISTEN"`
}

type LogConfig struct {
	Verbose    bool   `yaml:"verbose"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the stock calibration: PCA9685 at 0x40 on bus 1, ESC on
// channel 15 (300..520), steering servo on channel 0 (300..460), 60 Hz.
func Default() Config {
	return Config{
		PWM: PWMConfig{
			I2CBus:      1,
			Address:     0x40,
			FrequencyHz: 60,
		},
		ESC:    ActuatorConfig{Channel: 15, PulseMin: 300, PulseMax: 520},
		Servo:  ActuatorConfig{Channel: 0, PulseMin: 300, PulseMax: 460},
		Mapper: MapperConfig{ClampInput: true},
		Transport: TransportConfig{
			UDPListen:  ":7400",
			SerialBaud: 115200,
		},
		Log: LogConfig{
			Verbose:    true,
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("env: %w", err)
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills zero values that have no meaningful zero and
// rejects inconsistent settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.PWM.I2CBus < 0 {
		return fmt.Errorf("pwm.i2c_bus must be >= 0")
	}
	if cfg.PWM.Address == 0 {
		cfg.PWM.Address = 0x40
	}
	if cfg.PWM.Address > 0x7F {
		return fmt.Errorf("pwm.address 0x%X is not a 7-bit i2c address", cfg.PWM.Address)
	}
	if cfg.PWM.FrequencyHz == 0 {
		cfg.PWM.FrequencyHz = 60
	}
	if cfg.PWM.FrequencyHz < 40 || cfg.PWM.FrequencyHz > 1000 {
		return fmt.Errorf("pwm.frequency_hz must be within 40..1000")
	}
	if cfg.PWM.OutputEnableGPIO < 0 {
		return fmt.Errorf("pwm.output_enable_gpio must be >= 0")
	}

	if err := validateActuator("esc", cfg.ESC); err != nil {
		return err
	}
	if err := validateActuator("servo", cfg.Servo); err != nil {
		return err
	}
	if cfg.ESC.Channel == cfg.Servo.Channel {
		return fmt.Errorf("esc.channel and servo.channel must differ")
	}

	cfg.Transport.UDPListen = strings.TrimSpace(cfg.Transport.UDPListen)
	cfg.Transport.SerialDevice = strings.TrimSpace(cfg.Transport.SerialDevice)
	if cfg.Transport.UDPListen == "" && cfg.Transport.SerialDevice == "" {
		return fmt.Errorf("transport: udp_listen or serial_device is required")
	}
	if cfg.Transport.SerialBaud <= 0 {
		cfg.Transport.SerialBaud = 115200
	}

	cfg.Status.Listen = strings.TrimSpace(cfg.Status.Listen)
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups < 0 {
		cfg.Log.MaxBackups = 0
	}
	return nil
}

func validateActuator(name string, a ActuatorConfig) error {
	if a.Channel < 0 || a.Channel > 15 {
		return fmt.Errorf("%s.channel must be within 0..15", name)
	}
	if a.PulseMin < 0 || a.PulseMax > maxTicks {
		return fmt.Errorf("%s pulse range must be within 0..%d", name, maxTicks)
	}
	if a.PulseMin >= a.PulseMax {
		return fmt.Errorf("%s.pulse_min must be below %s.pulse_max", name, name)
	}
	return nil
}
