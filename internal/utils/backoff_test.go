package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := Backoff{Start: time.Second, Max: 10 * time.Second}
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 8*time.Second, b.Next())
	assert.Equal(t, 10*time.Second, b.Next()) // clamped
	assert.Equal(t, 10*time.Second, b.Next()) // stays clamped
}

func TestBackoffReset(t *testing.T) {
	b := Backoff{Start: time.Second, Max: 10 * time.Second}
	b.Next()
	b.Next()
	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}
