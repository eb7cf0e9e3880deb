//go:build !linux || (!arm && !arm64)

package pwmout

import "fmt"

func openEnableLine(pin int) (enableLine, error) {
	return nil, fmt.Errorf("pwmout: output-enable gpio unsupported on this platform")
}
