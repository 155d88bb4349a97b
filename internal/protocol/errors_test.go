package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrProtoVersion,
		ErrBadRequest,
		ErrInvalidQuery,
		ErrOutOfRange,
		ErrNotResident,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestNewErrorNormalizesCode(t *testing.T) {
	if m := NewError("E_BOGUS", "x"); m.Code != ErrInternal || m.Type != TypeError {
		t.Fatalf("got %+v", m)
	}
	if m := NewError(ErrNotResident, "x"); m.Code != ErrNotResident {
		t.Fatalf("got %+v", m)
	}
}

func TestRegionContains(t *testing.T) {
	var nilRegion *Region
	if !nilRegion.Contains([3]int32{9, 9, 9}) {
		t.Fatalf("nil region should contain everything")
	}
	r := &Region{Min: [3]int32{-1, -1, -1}, Max: [3]int32{1, 1, 1}}
	if !r.Contains([3]int32{1, 0, -1}) || r.Contains([3]int32{2, 0, 0}) {
		t.Fatalf("region bounds wrong")
	}
}
