package ids

import (
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	base := time.Now()
	a := At(base)
	b := At(base)
	c := At(base.Add(time.Second))
	if !(a < b && b < c) {
		t.Fatalf("ids not monotonic: %s %s %s", a, b, c)
	}
}

func TestValid(t *testing.T) {
	if !Valid(New()) {
		t.Fatal("expected freshly minted id to be valid")
	}
	if Valid("not-an-id") {
		t.Fatal("expected garbage to be rejected")
	}
}
