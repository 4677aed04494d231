package bitfield

import "testing"

func TestNewFromBytesClearsTrailingBits(t *testing.T) {
	buf := []byte{0x0f}

	v := NewFromBytes(buf, 8)
	if v.Hex() != "0f" {
		t.Errorf("invalid value: %s", v.Hex())
	}

	buf = []byte{0x0f}
	v = NewFromBytes(buf, 7)
	if v.Hex() != "0e" {
		t.Errorf("invalid value: %s", v.Hex())
	}
}

func TestNewFromBytesPanicsOnShortSlice(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic but got none")
		}
	}()
	NewFromBytes([]byte{0x0f}, 9)
}

func TestSetClearTest(t *testing.T) {
	v := New(10)
	if v.Hex() != "0000" {
		t.Errorf("invalid value: %s", v.Hex())
	}

	v.Set(0)
	if v.Hex() != "8000" {
		t.Errorf("invalid value: %s", v.Hex())
	}

	v.Set(9)
	if v.Hex() != "8040" {
		t.Errorf("invalid value: %s", v.Hex())
	}

	v.Clear(0)
	if v.Hex() != "0040" {
		t.Errorf("invalid value: %s", v.Hex())
	}

	if v.Test(2) {
		t.Errorf("bit 2 should be clear: %s", v.Hex())
	}
	if !v.Test(9) {
		t.Errorf("bit 9 should be set: %s", v.Hex())
	}
}

func TestSetPanicsOutOfBounds(t *testing.T) {
	v := New(10)
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic but got none")
		}
	}()
	v.Set(10)
}

func TestCountAndAll(t *testing.T) {
	v := New(10)
	if v.Count() != 0 || v.All() {
		t.Fatal("fresh bitfield should be empty")
	}
	for i := uint32(0); i < 10; i++ {
		v.Set(i)
	}
	if v.Count() != 10 || !v.All() {
		t.Fatal("fully set bitfield should report All")
	}
}
