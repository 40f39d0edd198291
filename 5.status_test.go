package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusCandidates(t *testing.T) {
	got := statusCandidates(0, 2*time.Hour, 0)
	assert.Equal(t, []string{"Uptime: 2h 0m"}, got)

	got = statusCandidates(3, 90*time.Second, 42*time.Millisecond)
	assert.Equal(t, []string{"Open polls: 3", "Uptime: 1m 30s", "Ping: 42ms"}, got)
}

func TestPickStatus(t *testing.T) {
	first := func(int) int { return 0 }

	assert.Empty(t, pickStatus(nil, "", first))
	assert.Equal(t, "b", pickStatus([]string{"a", "b"}, "a", first))
	assert.Equal(t, "a", pickStatus([]string{"a"}, "a", first), "a lone line may repeat")
}

func TestGetRotationInterval(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := GetRotationInterval()
		assert.GreaterOrEqual(t, d, 15*time.Second)
		assert.LessOrEqual(t, d, 60*time.Second)
	}
}
