package mapper

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeWriter struct {
	writes []PulseCommand
	fail   map[int]error
}

func (w *fakeWriter) SetChannel(channel, on, off int) error {
	w.writes = append(w.writes, PulseCommand{Channel: channel, On: on, Off: off})
	return w.fail[channel]
}

func testConfig() Config {
	return Config{
		ESCChannel:   15,
		ESCRange:     Range{Min: 300, Max: 520},
		ServoChannel: 0,
		ServoRange:   Range{Min: 300, Max: 460},
	}
}

func newTestMapper(t *testing.T, cfg Config, w PulseWriter) *Mapper {
	t.Helper()
	m, err := New(cfg, w)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNew_RejectsBadConfig(t *testing.T) {
	w := &fakeWriter{}
	cases := []struct {
		name string
		edit func(*Config)
	}{
		{"EscInverted", func(c *Config) { c.ESCRange = Range{Min: 520, Max: 300} }},
		{"ServoEmpty", func(c *Config) { c.ServoRange = Range{Min: 400, Max: 400} }},
		{"SharedChannel", func(c *Config) { c.ServoChannel = c.ESCChannel }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.edit(&cfg)
			if _, err := New(cfg, w); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := New(testConfig(), nil); err == nil {
		t.Fatalf("expected error for nil writer")
	}
}

func TestHandle_FullForwardFullRight(t *testing.T) {
	w := &fakeWriter{}
	m := newTestMapper(t, testConfig(), w)

	if err := m.Handle(VelocityCommand{Linear: 1.0, Angular: -1.0}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	want := []PulseCommand{
		{Channel: 15, On: 0, Off: 520},
		{Channel: 0, On: 0, Off: 460},
	}
	if diff := cmp.Diff(want, w.writes); diff != "" {
		t.Fatalf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestHandle_Neutral(t *testing.T) {
	w := &fakeWriter{}
	m := newTestMapper(t, testConfig(), w)

	if err := m.Handle(VelocityCommand{}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	want := []PulseCommand{{Channel: 15, Off: 410}, {Channel: 0, Off: 380}}
	if diff := cmp.Diff(want, w.writes); diff != "" {
		t.Fatalf("writes mismatch (-want +got):\n%s", diff)
	}
	snap := m.Snapshot()
	if snap.Handled != 1 || snap.ThrottleTicks != 410 || snap.SteeringTicks != 380 || snap.LastCommand == nil {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestHandle_ThrottleFailureStillSteers(t *testing.T) {
	busErr := errors.New("remote I/O error")
	w := &fakeWriter{fail: map[int]error{15: busErr}}
	m := newTestMapper(t, testConfig(), w)

	err := m.Handle(VelocityCommand{Linear: 0.5, Angular: 0.5})
	if !errors.Is(err, busErr) {
		t.Fatalf("err=%v want %v", err, busErr)
	}
	if len(w.writes) != 2 || w.writes[1].Channel != 0 {
		t.Fatalf("writes=%v want throttle then steering", w.writes)
	}
	if got := m.Snapshot().WriteFailures; got != 1 {
		t.Fatalf("write failures=%d want 1", got)
	}
}

func TestHandle_BothWritesFail(t *testing.T) {
	w := &fakeWriter{fail: map[int]error{15: errors.New("a"), 0: errors.New("b")}}
	m := newTestMapper(t, testConfig(), w)

	if err := m.Handle(VelocityCommand{}); err == nil {
		t.Fatalf("expected error")
	}
	if got := m.Snapshot().WriteFailures; got != 2 {
		t.Fatalf("write failures=%d want 2", got)
	}
}

func TestHandle_OutOfDomain(t *testing.T) {
	t.Run("Clamped", func(t *testing.T) {
		cfg := testConfig()
		cfg.ClampInput = true
		w := &fakeWriter{}
		m := newTestMapper(t, cfg, w)

		if err := m.Handle(VelocityCommand{Linear: 3, Angular: -7}); err != nil {
			t.Fatalf("Handle: %v", err)
		}
		want := []PulseCommand{{Channel: 15, Off: 520}, {Channel: 0, Off: 460}}
		if diff := cmp.Diff(want, w.writes); diff != "" {
			t.Fatalf("writes mismatch (-want +got):\n%s", diff)
		}
		if got := m.Snapshot().ClampedInputs; got != 1 {
			t.Fatalf("clamped=%d want 1", got)
		}
	})

	t.Run("Permissive", func(t *testing.T) {
		w := &fakeWriter{}
		m := newTestMapper(t, testConfig(), w)

		if err := m.Handle(VelocityCommand{Linear: 2, Angular: 0}); err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if w.writes[0].Off != 630 {
			t.Fatalf("throttle=%d want 630 (extrapolated)", w.writes[0].Off)
		}
	})
}

func TestHandle_RejectsNonFinite(t *testing.T) {
	w := &fakeWriter{}
	m := newTestMapper(t, testConfig(), w)

	for _, cmd := range []VelocityCommand{
		{Linear: math.NaN()},
		{Angular: math.Inf(1)},
	} {
		if err := m.Handle(cmd); err == nil {
			t.Fatalf("cmd=%+v expected error", cmd)
		}
	}
	if len(w.writes) != 0 {
		t.Fatalf("writes=%v want none", w.writes)
	}
	if got := m.Snapshot().Rejected; got != 2 {
		t.Fatalf("rejected=%d want 2", got)
	}
}

func TestPulses_StayInRangeForNominalInput(t *testing.T) {
	cfg := testConfig()
	m := newTestMapper(t, cfg, &fakeWriter{})
	for i := -10; i <= 10; i++ {
		x := float64(i) / 10
		p := m.Pulses(VelocityCommand{Linear: x, Angular: x})
		if !cfg.ESCRange.Contains(p[0].Off) {
			t.Fatalf("x=%v throttle=%d outside %+v", x, p[0].Off, cfg.ESCRange)
		}
		if !cfg.ServoRange.Contains(p[1].Off) {
			t.Fatalf("x=%v steering=%d outside %+v", x, p[1].Off, cfg.ServoRange)
		}
	}
}

func TestSnapshot_LastUpdateOmittedBeforeFirstCommand(t *testing.T) {
	m := newTestMapper(t, testConfig(), &fakeWriter{})
	raw, err := json.Marshal(m.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "last_update_utc") {
		t.Fatalf("snapshot=%s should omit last_update_utc", raw)
	}
	if err := m.Handle(VelocityCommand{}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if m.Snapshot().LastUpdateAt == nil {
		t.Fatalf("last_update unset after Handle")
	}
}
