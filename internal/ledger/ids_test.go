package ledger

import (
	"testing"

	"github.com/google/uuid"
)

func TestBytes32RoundTrip(t *testing.T) {
	for i := 0; i < 20; i++ {
		id := uuid.New()
		back, err := FromBytes32(ToBytes32(id))
		if err != nil {
			t.Fatalf("round trip error: %v", err)
		}
		if back != id {
			t.Fatalf("round trip mismatch: %s != %s", back, id)
		}
	}
}

func TestBytes32PaddingIsZero(t *testing.T) {
	b := ToBytes32(uuid.New())
	for i := 16; i < 32; i++ {
		if b[i] != 0 {
			t.Fatalf("byte %d not zero-padded", i)
		}
	}
}

func TestFromBytes32RejectsDirtyPadding(t *testing.T) {
	b := ToBytes32(uuid.New())
	b[31] = 0x01
	if _, err := FromBytes32(b); err == nil {
		t.Fatal("expected error for non-zero padding")
	}
}

func TestWinnerCodes(t *testing.T) {
	if c, err := WinnerCode("A"); err != nil || c != 0 {
		t.Errorf("A: got %d, %v", c, err)
	}
	if c, err := WinnerCode("B"); err != nil || c != 1 {
		t.Errorf("B: got %d, %v", c, err)
	}
	if _, err := WinnerCode("DRAW"); err == nil {
		t.Error("DRAW must not encode to a winner")
	}
	for _, code := range []uint8{0, 1} {
		label, err := SideLabel(code)
		if err != nil {
			t.Fatalf("SideLabel(%d): %v", code, err)
		}
		back, err := WinnerCode(label)
		if err != nil || back != code {
			t.Errorf("label round trip: %d -> %s -> %d", code, label, back)
		}
	}
}
