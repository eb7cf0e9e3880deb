package main

import (
	"context"
	"fmt"
	"log"
	"sync"

	"motord/internal/cmdvel"
	"motord/internal/config"
	"motord/internal/mapper"
	"motord/internal/pwmout"
)

// outputPort is the slice of *pwmout.Port the runtime drives.
type outputPort interface {
	Open() error
	Startup(hz float64) error
	SetChannel(channel, on, off int) error
	Snapshot() pwmout.Snapshot
	Close() error
}

var newPortFn = func(cfg pwmout.Config) outputPort { return pwmout.New(cfg) }

type liveRuntime struct {
	cfg config.Config

	port       outputPort
	mapper     *mapper.Mapper
	dispatcher *cmdvel.Dispatcher

	// mu guards the source handles and lifecycle fields; the status server
	// reads them concurrently with Start and Close.
	mu     sync.Mutex
	udp    *cmdvel.UDPListener
	serial *cmdvel.SerialReader
	cancel context.CancelFunc
	closed bool
}

// newRuntime brings the PWM output up (open, reset, frequency) and builds
// the mapper on top of it. Any failure here is fatal for the process.
func newRuntime(cfg config.Config) (*liveRuntime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}

	port := newPortFn(pwmout.Config{
		I2CBus:           c.PWM.I2CBus,
		Address:          uint16(c.PWM.Address),
		OutputEnableGPIO: c.PWM.OutputEnableGPIO,
	})
	if err := port.Open(); err != nil {
		return nil, err
	}
	if err := port.Startup(c.PWM.FrequencyHz); err != nil {
		_ = port.Close()
		return nil, err
	}

	m, err := mapper.New(mapper.Config{
		ESCChannel:   c.ESC.Channel,
		ESCRange:     mapper.Range{Min: c.ESC.PulseMin, Max: c.ESC.PulseMax},
		ServoChannel: c.Servo.Channel,
		ServoRange:   mapper.Range{Min: c.Servo.PulseMin, Max: c.Servo.PulseMax},
		ClampInput:   c.Mapper.ClampInput,
		Verbose:      c.Log.Verbose,
	}, port)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	log.Printf("mapper esc channel=%d range=%d..%d servo channel=%d range=%d..%d clamp_input=%t",
		c.ESC.Channel, c.ESC.PulseMin, c.ESC.PulseMax,
		c.Servo.Channel, c.Servo.PulseMin, c.Servo.PulseMax, c.Mapper.ClampInput)

	return &liveRuntime{
		cfg:        c,
		port:       port,
		mapper:     m,
		dispatcher: cmdvel.NewDispatcher(m),
	}, nil
}

// Start launches the dispatcher and every configured command source.
func (r *liveRuntime) Start(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("runtime is closed")
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.dispatcher.Run(ctx)

	if addr := r.cfg.Transport.UDPListen; addr != "" {
		l, err := cmdvel.NewUDPListener(cmdvel.UDPListenerConfig{Name: "udp", Listen: addr})
		if err != nil {
			return fmt.Errorf("udp source: %w", err)
		}
		if err := l.Start(ctx, r.dispatcher.Submit); err != nil {
			return fmt.Errorf("udp source: %w", err)
		}
		r.udp = l
	}
	if dev := r.cfg.Transport.SerialDevice; dev != "" {
		sr, err := cmdvel.NewSerialReader(cmdvel.SerialReaderConfig{
			Name:     "serial",
			Device:   dev,
			BaudRate: r.cfg.Transport.SerialBaud,
		})
		if err != nil {
			return fmt.Errorf("serial source: %w", err)
		}
		if err := sr.Start(ctx, r.dispatcher.Submit); err != nil {
			return fmt.Errorf("serial source: %w", err)
		}
		r.serial = sr
	}
	return nil
}

// Close stops the sources and waits for the dispatcher so nothing writes
// after the outputs are zeroed, then releases the controller. Handles stay
// in place so snapshots keep reporting their final state.
func (r *liveRuntime) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cancel, udp, serial := r.cancel, r.udp, r.serial
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-r.dispatcher.Done()
	}
	if udp != nil {
		udp.Close()
	}
	if serial != nil {
		serial.Close()
	}
	if err := r.port.Close(); err != nil {
		log.Printf("pwm output close: %v", err)
	}
}

func (r *liveRuntime) PortSnapshot() pwmout.Snapshot {
	if r == nil {
		return pwmout.Snapshot{State: pwmout.StateClosed}
	}
	return r.port.Snapshot()
}

func (r *liveRuntime) MapperSnapshot() mapper.Snapshot {
	if r == nil {
		return mapper.Snapshot{}
	}
	return r.mapper.Snapshot()
}

func (r *liveRuntime) SourceSnapshots() []cmdvel.SourceSnapshot {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	udp, serial := r.udp, r.serial
	r.mu.Unlock()

	var out []cmdvel.SourceSnapshot
	if udp != nil {
		out = append(out, udp.Snapshot())
	}
	if serial != nil {
		out = append(out, serial.Snapshot())
	}
	return out
}

func (r *liveRuntime) DispatchStats() cmdvel.DispatchStats {
	if r == nil || r.dispatcher == nil {
		return cmdvel.DispatchStats{}
	}
	return r.dispatcher.Stats()
}
