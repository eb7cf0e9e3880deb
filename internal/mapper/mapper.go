package mapper

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// VelocityCommand is one velocity request. Both fields are normalized to
// a nominal [-1, 1].
type VelocityCommand struct {
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

// Range is an actuator's calibrated pulse width in device ticks.
type Range struct {
	Min int `json:"pulse_min"`
	Max int `json:"pulse_max"`
}

func (r Range) Validate() error {
	if r.Min >= r.Max {
		return fmt.Errorf("pulse_min %d must be below pulse_max %d", r.Min, r.Max)
	}
	return nil
}

func (r Range) Contains(ticks int) bool {
	return ticks >= r.Min && ticks <= r.Max
}

// PulseCommand is one channel write.
type PulseCommand struct {
	Channel int `json:"channel"`
	On      int `json:"on"`
	Off     int `json:"off"`
}

// PulseWriter is the output port the mapper dispatches through.
type PulseWriter interface {
	SetChannel(channel, on, off int) error
}

type Config struct {
	ESCChannel   int
	ESCRange     Range
	ServoChannel int
	ServoRange   Range

	// ClampInput limits command fields to [-1, 1] before mapping so that
	// out-of-domain commands cannot push pulses past the calibrated range.
	ClampInput bool
	// Verbose logs every command and its mapped pulses.
	Verbose bool
}

type Snapshot struct {
	LastCommand   *VelocityCommand `json:"last_command,omitempty"`
	ThrottleTicks int              `json:"throttle_ticks"`
	SteeringTicks int              `json:"steering_ticks"`

	Handled       uint64 `json:"handled"`
	Rejected      uint64 `json:"rejected"`
	ClampedInputs uint64 `json:"clamped_inputs"`
	WriteFailures uint64 `json:"write_failures"`

	LastError    string     `json:"last_error,omitempty"`
	LastUpdateAt *time.Time `json:"last_update_utc,omitempty"`
}

// Mapper translates velocity commands into ESC and steering servo pulses.
//
// Mapping is stateless; the snapshot only records what happened. Handle
// must not be called concurrently.
type Mapper struct {
	cfg Config
	out PulseWriter

	mu   sync.RWMutex
	snap Snapshot
}

func New(cfg Config, out PulseWriter) (*Mapper, error) {
	if out == nil {
		return nil, fmt.Errorf("mapper: output is nil")
	}
	if err := cfg.ESCRange.Validate(); err != nil {
		return nil, fmt.Errorf("mapper: esc: %w", err)
	}
	if err := cfg.ServoRange.Validate(); err != nil {
		return nil, fmt.Errorf("mapper: servo: %w", err)
	}
	if cfg.ESCChannel == cfg.ServoChannel {
		return nil, fmt.Errorf("mapper: esc and servo share channel %d", cfg.ESCChannel)
	}
	return &Mapper{cfg: cfg, out: out}, nil
}

// Throttle maps a linear command onto the ESC range.
func (m *Mapper) Throttle(linear float64) int {
	return LinearMap(linear, -1, 1, m.cfg.ESCRange.Min, m.cfg.ESCRange.Max)
}

// Steering maps a turn rate onto the servo range. The domain is reversed:
// a positive turn rate gives the low end of the range, matching the
// steering linkage.
func (m *Mapper) Steering(angular float64) int {
	return LinearMap(angular, 1, -1, m.cfg.ServoRange.Min, m.cfg.ServoRange.Max)
}

// Pulses returns the ESC then servo pulse for cmd.
func (m *Mapper) Pulses(cmd VelocityCommand) [2]PulseCommand {
	return [2]PulseCommand{
		{Channel: m.cfg.ESCChannel, Off: m.Throttle(cmd.Linear)},
		{Channel: m.cfg.ServoChannel, Off: m.Steering(cmd.Angular)},
	}
}

// Handle maps cmd and writes throttle then steering. A failed throttle
// write does not stop the steering write; the returned error joins every
// failure.
func (m *Mapper) Handle(cmd VelocityCommand) error {
	if m.cfg.Verbose {
		log.Printf("mapper received linear=%f angular=%f", cmd.Linear, cmd.Angular)
	}
	if !finite(cmd.Linear) || !finite(cmd.Angular) {
		err := fmt.Errorf("mapper: non-finite command linear=%v angular=%v", cmd.Linear, cmd.Angular)
		log.Printf("%v", err)
		m.setState(func(s *Snapshot) {
			s.Rejected++
			s.LastError = err.Error()
		})
		return err
	}

	var clamped bool
	if m.cfg.ClampInput {
		in := cmd
		cmd.Linear = Clamp(cmd.Linear, -1, 1)
		cmd.Angular = Clamp(cmd.Angular, -1, 1)
		if cmd != in {
			clamped = true
			log.Printf("mapper clamped out-of-range command linear=%f angular=%f", in.Linear, in.Angular)
		}
	}

	pulses := m.Pulses(cmd)
	if m.cfg.Verbose {
		log.Printf("mapper mapped throttle=%d steering=%d", pulses[0].Off, pulses[1].Off)
	}

	var errs []error
	for _, pc := range pulses {
		if err := m.out.SetChannel(pc.Channel, pc.On, pc.Off); err != nil {
			log.Printf("mapper write dropped channel=%d ticks=%d err=%v", pc.Channel, pc.Off, err)
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)

	m.setState(func(s *Snapshot) {
		c := cmd
		s.LastCommand = &c
		s.ThrottleTicks = pulses[0].Off
		s.SteeringTicks = pulses[1].Off
		s.Handled++
		if clamped {
			s.ClampedInputs++
		}
		s.WriteFailures += uint64(len(errs))
		if err != nil {
			s.LastError = err.Error()
		} else {
			s.LastError = ""
		}
	})
	return err
}

func (m *Mapper) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.snap
	if m.snap.LastCommand != nil {
		c := *m.snap.LastCommand
		out.LastCommand = &c
	}
	return out
}

func (m *Mapper) setState(update func(*Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	update(&m.snap)
	now := time.Now().UTC()
	m.snap.LastUpdateAt = &now
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
