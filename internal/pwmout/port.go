package pwmout

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"motord/internal/pca9685"
)

type Config struct {
	I2CBus  int
	Address uint16
	// OutputEnableGPIO is the BCM GPIO driving the active-low OE pin.
	// Zero means OE is hard-wired low (outputs always enabled).
	OutputEnableGPIO int
}

type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
	StateReset  State = "reset"
	StateReady  State = "ready"
)

type Snapshot struct {
	State        State       `json:"state"`
	I2CBus       int         `json:"i2c_bus"`
	Address      uint16      `json:"address"`
	FrequencyHz  float64     `json:"frequency_hz,omitempty"`
	OutputEnable bool        `json:"output_enable_gpio"`
	Channels     map[int]int `json:"channels,omitempty"`

	Writes       uint64     `json:"writes"`
	WriteFailed  uint64     `json:"write_failures"`
	LastError    string     `json:"last_error,omitempty"`
	LastUpdateAt *time.Time `json:"last_update_utc,omitempty"`
}

// Port owns the PWM controller handle for the life of the process.
//
// Operations must follow open -> ResetAll -> SetFrequency -> SetChannel*.
// Port does not serialize device access itself; only one goroutine may
// drive it. The mutex guards the snapshot, which is read from elsewhere.
type Port struct {
	cfg Config

	drv    driver
	closer io.Closer
	oe     enableLine

	mu   sync.RWMutex
	snap Snapshot
}

func New(cfg Config) *Port {
	if cfg.Address == 0 {
		cfg.Address = pca9685.DefaultAddress()
	}
	return &Port{cfg: cfg, snap: Snapshot{
		State:        StateClosed,
		I2CBus:       cfg.I2CBus,
		Address:      cfg.Address,
		OutputEnable: cfg.OutputEnableGPIO > 0,
	}}
}

func (p *Port) Snapshot() Snapshot {
	if p == nil {
		return Snapshot{}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := p.snap
	if len(p.snap.Channels) > 0 {
		out.Channels = make(map[int]int, len(p.snap.Channels))
		for ch, v := range p.snap.Channels {
			out.Channels[ch] = v
		}
	}
	return out
}

func (p *Port) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap.State
}

func (p *Port) update(fn func(*Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.snap)
	now := time.Now().UTC()
	p.snap.LastUpdateAt = &now
}

// Open connects to the controller. It must be called exactly once.
func (p *Port) Open() error {
	if p == nil {
		return fmt.Errorf("pwmout: port is nil")
	}
	if st := p.State(); st != StateClosed {
		return fmt.Errorf("%w: open called in state %s", ErrNotReady, st)
	}

	drv, closer, err := openDeviceFn(p.cfg.I2CBus, p.cfg.Address)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		p.update(func(s *Snapshot) { s.LastError = err.Error() })
		return err
	}

	var oe enableLine
	if p.cfg.OutputEnableGPIO > 0 {
		oe, err = openEnableFn(p.cfg.OutputEnableGPIO)
		if err != nil {
			if closer != nil {
				_ = closer.Close()
			}
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
			p.update(func(s *Snapshot) { s.LastError = err.Error() })
			return err
		}
	}

	p.drv = drv
	p.closer = closer
	p.oe = oe
	p.update(func(s *Snapshot) {
		s.State = StateOpen
		s.LastError = ""
	})
	log.Printf("pwmout opened bus=%d addr=0x%02X oe_gpio=%d", p.cfg.I2CBus, p.cfg.Address, p.cfg.OutputEnableGPIO)
	return nil
}

// ResetAll turns every channel off and restores the controller mode
// registers, leaving propulsion and steering at a known state.
func (p *Port) ResetAll() error {
	if st := p.State(); st != StateOpen && st != StateReset {
		return fmt.Errorf("%w: resetAll called in state %s", ErrNotReady, st)
	}
	if err := p.drv.SetAllPWM(0, 0); err != nil {
		return p.writeFailed(err)
	}
	if err := p.drv.Reset(); err != nil {
		return p.writeFailed(err)
	}
	p.update(func(s *Snapshot) {
		s.State = StateReset
		s.Channels = nil
	})
	return nil
}

// SetFrequency sets the carrier frequency for all channels. It is only
// valid once, directly after ResetAll.
func (p *Port) SetFrequency(hz float64) error {
	if st := p.State(); st != StateReset {
		return fmt.Errorf("%w: setFrequency called in state %s", ErrNotReady, st)
	}
	if hz < pca9685.MinFrequencyHz || hz > pca9685.MaxFrequencyHz {
		return fmt.Errorf("pwmout: frequency %v Hz outside %d..%d", hz, pca9685.MinFrequencyHz, pca9685.MaxFrequencyHz)
	}
	if err := p.drv.SetPWMFrequency(hz); err != nil {
		return p.writeFailed(err)
	}
	if p.oe != nil {
		if err := p.oe.SetOutputsEnabled(true); err != nil {
			return p.writeFailed(err)
		}
	}
	p.update(func(s *Snapshot) {
		s.State = StateReady
		s.FrequencyHz = hz
	})
	log.Printf("pwmout ready frequency_hz=%v prescale=%d", hz, pca9685.Prescale(hz))
	return nil
}

// Startup runs the post-open sequence: ResetAll then SetFrequency.
func (p *Port) Startup(hz float64) error {
	if err := p.ResetAll(); err != nil {
		return fmt.Errorf("pwmout: reset: %w", err)
	}
	if err := p.SetFrequency(hz); err != nil {
		return fmt.Errorf("pwmout: set frequency: %w", err)
	}
	return nil
}

// SetChannel writes one pulse: the channel goes high at tick on and low at
// tick off within each period. The actuator moves immediately.
func (p *Port) SetChannel(channel, on, off int) error {
	if st := p.State(); st != StateReady {
		return fmt.Errorf("%w: setChannel called in state %s", ErrNotReady, st)
	}
	if channel < 0 || channel >= pca9685.Channels || !validTicks(on) || !validTicks(off) {
		err := fmt.Errorf("%w: %w: channel=%d on=%d off=%d", ErrDeviceWriteFailed, ErrPulseOutOfRange, channel, on, off)
		p.update(func(s *Snapshot) {
			s.WriteFailed++
			s.LastError = err.Error()
		})
		return err
	}
	if err := p.drv.SetPWM(channel, uint16(on), uint16(off)); err != nil {
		return p.writeFailed(err)
	}
	p.update(func(s *Snapshot) {
		if s.Channels == nil {
			s.Channels = make(map[int]int)
		}
		s.Channels[channel] = off
		s.Writes++
	})
	return nil
}

func validTicks(v int) bool {
	return v >= 0 && v <= pca9685.MaxTicks
}

func (p *Port) writeFailed(err error) error {
	err = fmt.Errorf("%w: %w", ErrDeviceWriteFailed, err)
	p.update(func(s *Snapshot) {
		s.WriteFailed++
		s.LastError = err.Error()
	})
	return err
}

// Close zeroes all channels, disables the outputs and releases the bus.
// It is best-effort and safe to call more than once.
func (p *Port) Close() error {
	if p == nil {
		return nil
	}
	if p.State() == StateClosed {
		return nil
	}
	var errs []error
	if p.drv != nil {
		if err := p.drv.SetAllPWM(0, 0); err != nil {
			errs = append(errs, fmt.Errorf("pwmout: zero outputs: %w", err))
		}
	}
	if p.oe != nil {
		if err := p.oe.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pwmout: release oe: %w", err))
		}
		p.oe = nil
	}
	if p.closer != nil {
		if err := p.closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pwmout: close bus: %w", err))
		}
		p.closer = nil
	}
	p.drv = nil
	p.update(func(s *Snapshot) {
		s.State = StateClosed
		s.Channels = nil
	})
	return errors.Join(errs...)
}
