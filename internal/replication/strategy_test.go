package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldRangeDeterministic(t *testing.T) {
	hashes := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, foldRange(hashes), foldRange(hashes))
}

func TestFoldRangeSensitiveToContent(t *testing.T) {
	a := foldRange([]string{"a", "b", "c"})
	b := foldRange([]string{"a", "b", "z"})
	assert.NotEqual(t, a, b)
}

func TestFoldRangeSingleElement(t *testing.T) {
	assert.NotPanics(t, func() {
		foldRange([]string{"solo"})
	})
}

func TestDivergedDetectsHashMismatch(t *testing.T) {
	a := Fingerprint{Hash: 1, Count: 3}
	b := Fingerprint{Hash: 2, Count: 3}
	assert.True(t, Diverged(a, b))
}

func TestDivergedDetectsCountMismatch(t *testing.T) {
	a := Fingerprint{Hash: 1, Count: 3}
	b := Fingerprint{Hash: 1, Count: 4}
	assert.True(t, Diverged(a, b))
}

func TestDivergedFalseWhenEqual(t *testing.T) {
	a := Fingerprint{Hash: 1, Count: 3}
	b := Fingerprint{Hash: 1, Count: 3}
	assert.False(t, Diverged(a, b))
}
