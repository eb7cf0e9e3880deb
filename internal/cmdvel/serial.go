package cmdvel

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"go.bug.st/serial"

	"motord/internal/mapper"
)

var openSerialFn = func(path string, mode *serial.Mode) (io.ReadCloser, error) {
	return serial.Open(path, mode)
}

type SerialReaderConfig struct {
	Name     string
	Device   string
	BaudRate int

	ReopenDelay  time.Duration
	MaxLineBytes int
}

// SerialReader reads newline-delimited JSON velocity commands from a serial
// port, e.g. a radio receiver bridge. The port is reopened after errors.
type SerialReader struct {
	cfg   SerialReaderConfig
	stats *sourceStats

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSerialReader(cfg SerialReaderConfig) (*SerialReader, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial device is required")
	}
	if cfg.Name == "" {
		cfg.Name = "serial"
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	if cfg.ReopenDelay <= 0 {
		cfg.ReopenDelay = 1 * time.Second
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 4096
	}
	return &SerialReader{
		cfg:   cfg,
		stats: &sourceStats{name: cfg.Name, addr: cfg.Device, state: "stopped"},
		done:  make(chan struct{}),
	}, nil
}

func (r *SerialReader) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: r.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Start opens the port in the background; open failures are retried rather
// than returned so a late-plugged adapter is picked up.
func (r *SerialReader) Start(ctx context.Context, onCommand func(mapper.VelocityCommand)) error {
	if r == nil {
		return fmt.Errorf("serial reader is nil")
	}
	if onCommand == nil {
		return fmt.Errorf("serial onCommand is nil")
	}
	if r.cancel != nil {
		return fmt.Errorf("serial reader already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.stats.setState("connecting", "")
	go func() {
		defer close(r.done)
		r.runLoop(runCtx, onCommand)
	}()
	return nil
}

func (r *SerialReader) runLoop(ctx context.Context, onCommand func(mapper.VelocityCommand)) {
	for {
		if ctx.Err() != nil {
			r.stats.setState("stopped", "")
			return
		}
		port, err := openSerialFn(r.cfg.Device, r.mode())
		if err != nil {
			r.stats.setState("error", err.Error())
			if !sleepCtx(ctx, r.cfg.ReopenDelay) {
				r.stats.setState("stopped", "")
				return
			}
			continue
		}
		r.stats.setState("connected", "")
		log.Printf("cmdvel %s opened device=%s baud=%d", r.cfg.Name, r.cfg.Device, r.cfg.BaudRate)

		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = port.Close()
			case <-stop:
			}
		}()
		err = r.readLines(port, onCommand)
		close(stop)
		_ = port.Close()

		if ctx.Err() != nil {
			r.stats.setState("stopped", "")
			return
		}
		if err != nil {
			r.stats.setState("disconnected", err.Error())
			log.Printf("cmdvel %s read failed device=%s err=%v", r.cfg.Name, r.cfg.Device, err)
		} else {
			r.stats.setState("disconnected", "")
		}
		if !sleepCtx(ctx, r.cfg.ReopenDelay) {
			r.stats.setState("stopped", "")
			return
		}
	}
}

func (r *SerialReader) readLines(port io.Reader, onCommand func(mapper.VelocityCommand)) error {
	sc := bufio.NewScanner(port)
	sc.Buffer(make([]byte, 0, 512), r.cfg.MaxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		cmd, err := Decode(line)
		if err != nil {
			r.stats.bad(err)
			continue
		}
		r.stats.seen(time.Now().UTC())
		onCommand(cmd)
	}
	return sc.Err()
}

func (r *SerialReader) Snapshot() SourceSnapshot {
	if r == nil {
		return SourceSnapshot{}
	}
	return r.stats.snapshot()
}

func (r *SerialReader) Close() {
	if r == nil || r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}
