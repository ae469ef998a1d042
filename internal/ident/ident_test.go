package ident_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/ident"
)

func TestNewRunID_Format(t *testing.T) {
	seen := make(map[string]bool)
	hex32 := regexp.MustCompile(`^[0-9a-f]{32}$`)
	for range 100 {
		id := ident.NewRunID()
		require.Regexp(t, hex32, id)
		require.False(t, seen[id], "run IDs must not repeat")
		seen[id] = true
	}
}

func TestNewExperimentID_FixedWidth(t *testing.T) {
	for range 100 {
		id := ident.NewExperimentID()
		require.Len(t, id, 18)
		assert.NotEqual(t, byte('0'), id[0], "leading digit must be non-zero")
		for i := 0; i < len(id); i++ {
			require.True(t, id[i] >= '0' && id[i] <= '9', "non-digit in %q", id)
		}
	}
}

func TestClock_Monotonic(t *testing.T) {
	var c ident.Clock
	prev := c.NowMillis()
	for range 1000 {
		now := c.NowMillis()
		require.GreaterOrEqual(t, now, prev)
		prev = now
	}
}

func TestRandomRunName_Shape(t *testing.T) {
	shape := regexp.MustCompile(`^[a-z]+-[a-z]+-\d{1,4}$|^.{20}$`)
	for range 200 {
		name := ident.RandomRunName()
		assert.LessOrEqual(t, len(name), 20)
		assert.Regexp(t, shape, name)
	}
}

func TestDatasetName_Deterministic(t *testing.T) {
	a := ident.DatasetName("9ff17540")
	b := ident.DatasetName("9ff17540")
	assert.Equal(t, a, b, "same digest must map to the same name")

	c := ident.DatasetName("deadbeef")
	assert.Regexp(t, `^[a-z]+-data-\d+$`, a)
	assert.Regexp(t, `^[a-z]+-data-\d+$`, c)
}
