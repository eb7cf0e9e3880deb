package cmdvel

import (
	"context"
	"sync/atomic"

	"motord/internal/mapper"
)

// Handler consumes velocity commands. Handle is never called concurrently
// by a Dispatcher.
type Handler interface {
	Handle(cmd mapper.VelocityCommand) error
}

// Dispatcher funnels commands from any number of sources into a single
// goroutine. It holds at most one pending command: a newer command replaces
// one that has not been handled yet.
type Dispatcher struct {
	h       Handler
	pending chan mapper.VelocityCommand
	done    chan struct{}

	submitted  atomic.Uint64
	superseded atomic.Uint64
	failed     atomic.Uint64
}

func NewDispatcher(h Handler) *Dispatcher {
	return &Dispatcher{h: h, pending: make(chan mapper.VelocityCommand, 1), done: make(chan struct{})}
}

// Submit queues cmd without blocking.
func (d *Dispatcher) Submit(cmd mapper.VelocityCommand) {
	d.submitted.Add(1)
	for {
		select {
		case d.pending <- cmd:
			return
		default:
		}
		select {
		case <-d.pending:
			d.superseded.Add(1)
		default:
		}
	}
}

// Run handles commands until ctx is done. Handler errors are counted; the
// handler is expected to log them. Run must be called at most once.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-d.pending:
			if err := d.h.Handle(cmd); err != nil {
				d.failed.Add(1)
			}
		}
	}
}

// Done is closed once Run has returned, after any in-flight Handle.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

type DispatchStats struct {
	Submitted  uint64 `json:"submitted"`
	Superseded uint64 `json:"superseded"`
	Failed     uint64 `json:"failed"`
}

func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Submitted:  d.submitted.Load(),
		Superseded: d.superseded.Load(),
		Failed:     d.failed.Load(),
	}
}
