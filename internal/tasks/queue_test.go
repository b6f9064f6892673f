package tasks

import "testing"

func TestDispatchedSetClaimIsExclusive(t *testing.T) {
	var d dispatchedSet

	if !d.tryClaim(1) {
		t.Fatal("first claim of an unclaimed id should succeed")
	}
	if d.tryClaim(1) {
		t.Fatal("second claim of an already-claimed id should fail")
	}

	d.release(1)
	if !d.tryClaim(1) {
		t.Fatal("claim should succeed again after release")
	}
}
