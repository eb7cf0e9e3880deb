//go:build linux && (arm || arm64)

package pwmout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// openEnableLine requests the BCM GPIO wired to the PCA9685 OE pin as an
// output, initially high so the outputs stay off until startup completes.
func openEnableLine(pin int) (enableLine, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("pwmout: invalid output-enable gpio %d", pin)
	}

	lineName := fmt.Sprintf("GPIO%d", pin)

	// Pi 5 kernels may expose the header on gpiochip4.
	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", name))
		}
	}

	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(1), gpiocdev.WithConsumer("motord-pwm-oe"))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &gpiodEnable{chip: chip, line: line}, nil
	}

	return nil, fmt.Errorf("pwmout: gpio line %q not found (or busy)", lineName)
}

type gpiodEnable struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *gpiodEnable) SetOutputsEnabled(on bool) error {
	if g == nil || g.line == nil {
		return fmt.Errorf("pwmout: output-enable line not open")
	}
	// OE is active low.
	v := 1
	if on {
		v = 0
	}
	return g.line.SetValue(v)
}

func (g *gpiodEnable) Close() error {
	if g == nil || g.line == nil {
		return nil
	}
	_ = g.line.SetValue(1)
	err := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err
}
