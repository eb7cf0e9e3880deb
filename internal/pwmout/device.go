package pwmout

import (
	"fmt"
	"io"

	"motord/internal/i2c"
	"motord/internal/pca9685"
)

// driver is the opaque controller capability the port sequences.
type driver interface {
	Reset() error
	SetAllPWM(on, off uint16) error
	SetPWMFrequency(hz float64) error
	SetPWM(channel int, on, off uint16) error
}

// enableLine drives the controller's active-low output-enable pin.
type enableLine interface {
	SetOutputsEnabled(on bool) error
	Close() error
}

var openDeviceFn = openDevice
var openEnableFn = openEnableLine

func openDevice(bus int, addr uint16) (driver, io.Closer, error) {
	b, err := i2c.OpenNumber(bus)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", i2c.BusPath(bus), err)
	}
	dev, err := pca9685.New(b.Device(addr))
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	return dev, b, nil
}
