package i2c

import "fmt"

// BusPath returns the character device path for adapter n.
func BusPath(n int) string {
	return fmt.Sprintf("/dev/i2c-%d", n)
}
