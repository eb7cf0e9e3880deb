package cmdvel

import (
	"context"
	"sync"
	"time"
)

// SourceSnapshot reports the health of one command source.
type SourceSnapshot struct {
	Name        string `json:"name"`
	Addr        string `json:"addr"`
	State       string `json:"state"`
	LastError   string `json:"last_error,omitempty"`
	LastSeenUTC string `json:"last_seen_utc,omitempty"`
	Commands    uint64 `json:"commands"`
	Malformed   uint64 `json:"malformed"`
}

type sourceStats struct {
	name string
	addr string

	mu        sync.RWMutex
	state     string
	lastErr   string
	lastSeen  time.Time
	commands  uint64
	malformed uint64
}

func (s *sourceStats) setState(state, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	if lastErr != "" {
		s.lastErr = lastErr
	} else if state == "listening" || state == "connected" || state == "stopped" {
		s.lastErr = ""
	}
}

func (s *sourceStats) seen(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.commands++
	s.mu.Unlock()
}

func (s *sourceStats) bad(err error) {
	s.mu.Lock()
	s.malformed++
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func (s *sourceStats) snapshot() SourceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := SourceSnapshot{
		Name:      s.name,
		Addr:      s.addr,
		State:     s.state,
		LastError: s.lastErr,
		Commands:  s.commands,
		Malformed: s.malformed,
	}
	if !s.lastSeen.IsZero() {
		out.LastSeenUTC = s.lastSeen.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
