//go:build linux

package i2c

import (
	"os"
	"strings"
	"testing"
)

func openNullBus(t *testing.T) *Bus {
	t.Helper()
	f, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile /dev/null: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return &Bus{f: f, path: "/dev/null"}
}

func TestDeviceTransfer_RejectsInvalidAddr(t *testing.T) {
	b := openNullBus(t)

	for _, addr := range []uint16{0, 0x80, 0x3FF} {
		err := b.Device(addr).WriteReg(0x00, 0x01)
		if err == nil || !strings.Contains(err.Error(), "invalid addr") {
			t.Fatalf("addr=0x%X err=%v want invalid addr", addr, err)
		}
	}
}

func TestDeviceTransfer_EmptyIsNoop(t *testing.T) {
	b := openNullBus(t)
	d := b.Device(0x40)

	if err := d.transfer(nil, nil); err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestDeviceTransfer_ClosedBus(t *testing.T) {
	b := openNullBus(t)
	d := b.Device(0x40)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.WriteReg(0x00, 0x00); err == nil || !strings.Contains(err.Error(), "not open") {
		t.Fatalf("err=%v want not open", err)
	}
	// Second close is a no-op.
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestNilHandles(t *testing.T) {
	var b *Bus
	if b.Device(0x40) != nil {
		t.Fatalf("nil bus returned a device")
	}
	var d *Device
	if err := d.WriteReg(0x00, 0x01); err == nil {
		t.Fatalf("expected error from nil device")
	}
}

func TestBusPath(t *testing.T) {
	if got := BusPath(1); got != "/dev/i2c-1" {
		t.Fatalf("BusPath(1)=%q want /dev/i2c-1", got)
	}
}
