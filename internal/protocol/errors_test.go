package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []int{
		ErrNone,
		ErrConnectFailed,
		ErrUnknown,
		ErrIncompatibleVersion,
		ErrServerFull,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %d", c)
		}
	}
	if IsKnownCode(99) {
		t.Fatalf("expected unknown code rejected")
	}
	if ErrIncompatibleVersion != 3 {
		t.Fatalf("incompatible version code must stay 3")
	}
	if CodeText(99) != "unknown error" {
		t.Fatalf("text=%q", CodeText(99))
	}
}
