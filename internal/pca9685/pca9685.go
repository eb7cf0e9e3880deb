package pca9685

import (
	"fmt"
	"math"
	"time"

	"motord/internal/i2c"
)

var sleep = time.Sleep

// Minimal PCA9685 16-channel, 12-bit PWM controller driver.
//
// Each channel has a 12-bit turn-on and turn-off tick within one PWM period
// of 4096 ticks. A servo/ESC pulse is on=0, off=<width>.

const (
	addrDefault = 0x40

	regMode1     = 0x00
	regMode2     = 0x01
	regLED0OnL   = 0x06
	regAllLEDOnL = 0xFA
	regPreScale  = 0xFE

	mode1Restart = 0x80
	mode1Sleep   = 0x10
	mode1AllCall = 0x01
	mode2OutDrv  = 0x04

	oscillatorHz = 25_000_000

	// Channels is the number of PWM outputs on the chip.
	Channels = 16
	// MaxTicks is the largest on/off tick value within a period.
	MaxTicks = 4095

	MinFrequencyHz = 40
	MaxFrequencyHz = 1000
)

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	WriteReg(reg, value byte) error
}

type Device struct {
	dev regIO
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Device) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("pca9685: dev is nil")
	}
	return newWithIO(dev)
}

func newWithIO(dev regIO) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("pca9685: dev is nil")
	}
	d := &Device{dev: dev}

	// The chip has no ID register; a MODE1 read proves something answers.
	if _, err := d.dev.ReadRegU8(regMode1); err != nil {
		return nil, fmt.Errorf("pca9685: mode1 read failed: %w", err)
	}
	return d, nil
}

// Reset restores MODE1/MODE2 to all-call, totem-pole outputs.
// The oscillator needs up to 500us to settle after wake.
func (d *Device) Reset() error {
	if err := d.dev.WriteReg(regMode1, mode1AllCall); err != nil {
		return fmt.Errorf("pca9685: mode1 write failed: %w", err)
	}
	if err := d.dev.WriteReg(regMode2, mode2OutDrv); err != nil {
		return fmt.Errorf("pca9685: mode2 write failed: %w", err)
	}
	sleep(5 * time.Millisecond)
	return nil
}

// Prescale returns the PRE_SCALE register value for hz after clamping hz to
// the supported range.
func Prescale(hz float64) byte {
	hz = math.Min(math.Max(hz, MinFrequencyHz), MaxFrequencyHz)
	return byte(int(oscillatorHz/(4096*hz) - 0.5))
}

// SetPWMFrequency programs the prescaler. PRE_SCALE is only writable while
// the oscillator sleeps, so the chip is put to sleep and restarted.
func (d *Device) SetPWMFrequency(hz float64) error {
	prescale := Prescale(hz)

	old, err := d.dev.ReadRegU8(regMode1)
	if err != nil {
		return fmt.Errorf("pca9685: mode1 read failed: %w", err)
	}
	if err := d.dev.WriteReg(regMode1, (old&0x7F)|mode1Sleep); err != nil {
		return fmt.Errorf("pca9685: sleep failed: %w", err)
	}
	if err := d.dev.WriteReg(regPreScale, prescale); err != nil {
		return fmt.Errorf("pca9685: prescale write failed: %w", err)
	}
	if err := d.dev.WriteReg(regMode1, old); err != nil {
		return fmt.Errorf("pca9685: wake failed: %w", err)
	}
	sleep(5 * time.Millisecond)
	if err := d.dev.WriteReg(regMode1, old|mode1Restart); err != nil {
		return fmt.Errorf("pca9685: restart failed: %w", err)
	}
	return nil
}

// SetPWM sets the turn-on and turn-off ticks of one channel.
func (d *Device) SetPWM(channel int, on, off uint16) error {
	if channel < 0 || channel >= Channels {
		return fmt.Errorf("pca9685: invalid channel %d", channel)
	}
	if on > MaxTicks || off > MaxTicks {
		return fmt.Errorf("pca9685: ticks out of range on=%d off=%d", on, off)
	}
	if err := d.writeTicks(byte(regLED0OnL+4*channel), on, off); err != nil {
		return fmt.Errorf("pca9685: channel %d write failed: %w", channel, err)
	}
	return nil
}

// SetAllPWM sets every channel at once through the ALL_LED registers.
func (d *Device) SetAllPWM(on, off uint16) error {
	if on > MaxTicks || off > MaxTicks {
		return fmt.Errorf("pca9685: ticks out of range on=%d off=%d", on, off)
	}
	if err := d.writeTicks(regAllLEDOnL, on, off); err != nil {
		return fmt.Errorf("pca9685: all-channel write failed: %w", err)
	}
	return nil
}

// writeTicks writes ON_L, ON_H, OFF_L, OFF_H one register at a time.
// Auto-increment is off after power-up and after Reset.
func (d *Device) writeTicks(reg byte, on, off uint16) error {
	vals := [4]byte{byte(on), byte(on >> 8), byte(off), byte(off >> 8)}
	for i, v := range vals {
		if err := d.dev.WriteReg(reg+byte(i), v); err != nil {
			return err
		}
	}
	return nil
}
