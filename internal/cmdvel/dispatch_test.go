package cmdvel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"motord/internal/mapper"
)

type recordingHandler struct {
	mu       sync.Mutex
	got      []mapper.VelocityCommand
	inFlight atomic.Int32
	overlap  atomic.Bool
	block    chan struct{}
	err      error
	handled  chan struct{}
}

func (h *recordingHandler) Handle(cmd mapper.VelocityCommand) error {
	if h.inFlight.Add(1) > 1 {
		h.overlap.Store(true)
	}
	defer h.inFlight.Add(-1)
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	h.got = append(h.got, cmd)
	h.mu.Unlock()
	if h.handled != nil {
		h.handled <- struct{}{}
	}
	return h.err
}

func TestDispatcher_NewestPendingWins(t *testing.T) {
	h := &recordingHandler{block: make(chan struct{}), handled: make(chan struct{}, 8)}
	d := NewDispatcher(h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Submit(mapper.VelocityCommand{Linear: 0.1})
	// Wait until the first command is being handled.
	deadline := time.Now().Add(2 * time.Second)
	for h.inFlight.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("handler never started")
		}
		time.Sleep(time.Millisecond)
	}
	d.Submit(mapper.VelocityCommand{Linear: 0.2})
	d.Submit(mapper.VelocityCommand{Linear: 0.3})
	close(h.block)

	for i := 0; i < 2; i++ {
		select {
		case <-h.handled:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for handle %d", i)
		}
	}

	h.mu.Lock()
	got := append([]mapper.VelocityCommand(nil), h.got...)
	h.mu.Unlock()
	if len(got) != 2 || got[0].Linear != 0.1 || got[1].Linear != 0.3 {
		t.Fatalf("handled=%+v want 0.1 then 0.3", got)
	}
	st := d.Stats()
	if st.Submitted != 3 || st.Superseded != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestDispatcher_NeverOverlapsAndCountsFailures(t *testing.T) {
	h := &recordingHandler{err: errors.New("dropped"), handled: make(chan struct{}, 1024)}
	d := NewDispatcher(h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.Submit(mapper.VelocityCommand{Linear: float64(j) / 50})
			}
		}()
	}
	wg.Wait()

	// The last submitted command is always eventually handled.
	select {
	case <-h.handled:
	case <-time.After(2 * time.Second):
		t.Fatalf("no command handled")
	}
	deadline := time.Now().Add(2 * time.Second)
	for d.Stats().Failed == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected failures to be counted")
		}
		time.Sleep(time.Millisecond)
	}
	if h.overlap.Load() {
		t.Fatalf("Handle entered concurrently")
	}
	cancel()
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
