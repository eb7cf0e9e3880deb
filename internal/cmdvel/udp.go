package cmdvel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"motord/internal/mapper"
)

type UDPListenerConfig struct {
	Name   string
	Listen string

	MaxDatagramBytes int
}

// UDPListener receives one JSON velocity command per datagram.
type UDPListener struct {
	cfg   UDPListenerConfig
	stats *sourceStats

	conn net.PacketConn

	started atomic.Bool
	closed  atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewUDPListener(cfg UDPListenerConfig) (*UDPListener, error) {
	if cfg.Listen == "" {
		return nil, fmt.Errorf("udp listener address is required")
	}
	if cfg.Name == "" {
		cfg.Name = "udp"
	}
	if cfg.MaxDatagramBytes <= 0 {
		cfg.MaxDatagramBytes = 2048
	}
	return &UDPListener{
		cfg:   cfg,
		stats: &sourceStats{name: cfg.Name, addr: cfg.Listen, state: "stopped"},
		done:  make(chan struct{}),
	}, nil
}

// Start binds the socket and delivers decoded commands to onCommand from a
// single goroutine. Malformed datagrams are counted and skipped.
func (l *UDPListener) Start(ctx context.Context, onCommand func(mapper.VelocityCommand)) error {
	if l == nil {
		return fmt.Errorf("udp listener is nil")
	}
	if l.closed.Load() {
		return fmt.Errorf("udp listener is closed")
	}
	if onCommand == nil {
		return fmt.Errorf("udp onCommand is nil")
	}
	if l.started.Swap(true) {
		return fmt.Errorf("udp listener already started")
	}

	conn, err := net.ListenPacket("udp", l.cfg.Listen)
	if err != nil {
		l.stats.setState("error", err.Error())
		return fmt.Errorf("udp listen %s: %w", l.cfg.Listen, err)
	}
	l.conn = conn
	l.stats.setState("listening", "")
	log.Printf("cmdvel %s listening addr=%s", l.cfg.Name, conn.LocalAddr())

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go func() {
		<-runCtx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(l.done)
		l.readLoop(onCommand)
	}()
	return nil
}

// Addr returns the bound local address, or nil before Start.
func (l *UDPListener) Addr() net.Addr {
	if l == nil || l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

func (l *UDPListener) readLoop(onCommand func(mapper.VelocityCommand)) {
	buf := make([]byte, l.cfg.MaxDatagramBytes)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				l.stats.setState("stopped", "")
			} else {
				l.stats.setState("error", err.Error())
			}
			return
		}
		if n == 0 {
			continue
		}
		cmd, err := Decode(buf[:n])
		if err != nil {
			l.stats.bad(err)
			log.Printf("cmdvel %s malformed datagram from=%s err=%v", l.cfg.Name, from, err)
			continue
		}
		l.stats.seen(time.Now().UTC())
		onCommand(cmd)
	}
}

func (l *UDPListener) Snapshot() SourceSnapshot {
	if l == nil {
		return SourceSnapshot{}
	}
	return l.stats.snapshot()
}

func (l *UDPListener) Close() {
	if l == nil {
		return
	}
	if l.closed.Swap(true) {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	if l.started.Load() && l.conn != nil {
		<-l.done
	}
}
