package encoding

import (
	"errors"
	"testing"

	"voxelsim.ai/internal/sim/cell"
)

func TestRLE_RoundTrip(t *testing.T) {
	in := make([]cell.Cell, 0, 200)
	in = append(in, 1, 1, 1, 2, 2, cell.New(3, cell.FlagAutomata))
	for i := 0; i < 50; i++ {
		in = append(in, 7)
	}
	in = append(in, 9, 0xFFFF, 0xFFFF, 0xFFFF)

	enc := EncodeRLEString(in)
	out, err := DecodeRLEString(enc, len(in))
	if err != nil {
		t.Fatalf("DecodeRLEString: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestRLE_LengthChecked(t *testing.T) {
	raw := AppendRLE(nil, []cell.Cell{1, 1, 1, 1})
	if _, err := DecodeRLE(nil, raw, 3); !errors.Is(err, ErrLength) {
		t.Fatalf("expected ErrLength for overlong runs, got %v", err)
	}
	if _, err := DecodeRLE(nil, raw, 5); !errors.Is(err, ErrLength) {
		t.Fatalf("expected ErrLength for short runs, got %v", err)
	}
	if _, err := DecodeRLE(nil, raw[:len(raw)-1], 0); err == nil {
		t.Fatalf("expected error for truncated input")
	}
}
