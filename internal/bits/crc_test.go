package bits

import "testing"

func TestCRC8(t *testing.T) {
	t.Parallel()
	// Standard check value for poly 0x07, init 0.
	if got := CRC8([]byte("123456789")); got != 0xF4 {
		t.Errorf("CRC8 check: got 0x%02X, want 0xF4", got)
	}
	if got := CRC8(nil); got != 0 {
		t.Errorf("CRC8 empty: got 0x%02X, want 0", got)
	}
	if got := CRC8([]byte{0x00, 0x00}); got != 0 {
		t.Errorf("CRC8 zeros: got 0x%02X, want 0", got)
	}
}

func TestCRC16(t *testing.T) {
	t.Parallel()
	// Standard check value for poly 0x8005, init 0, no reflection.
	if got := CRC16([]byte("123456789")); got != 0xFEE8 {
		t.Errorf("CRC16 check: got 0x%04X, want 0xFEE8", got)
	}
	if got := CRC16(nil); got != 0 {
		t.Errorf("CRC16 empty: got 0x%04X, want 0", got)
	}
}
