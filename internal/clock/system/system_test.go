package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after))
}

func TestClockToday(t *testing.T) {
	t.Parallel()

	today := New().Today()
	assert.Zero(t, today.Hour())
	assert.Zero(t, today.Minute())
	assert.WithinDuration(t, time.Now().UTC(), today, 24*time.Hour)
}
