package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPageCount(t *testing.T) {
	assert.Equal(t, 0, PageCount(0, 10))
	assert.Equal(t, 1, PageCount(1, 10))
	assert.Equal(t, 1, PageCount(10, 10))
	assert.Equal(t, 3, PageCount(25, 10))
	assert.Equal(t, 25, PageCount(25, 1))
}

func TestValidPage(t *testing.T) {
	assert.True(t, ValidPage(1, 1))
	assert.True(t, ValidPage(7, 100))
	assert.False(t, ValidPage(0, 10))
	assert.False(t, ValidPage(1, 0))
	assert.False(t, ValidPage(1, 101))
}

func TestPredictionValid(t *testing.T) {
	assert.True(t, PredictionReal.Valid())
	assert.True(t, PredictionDeepfake.Valid())
	assert.False(t, PredictionError.Valid())
	assert.False(t, Prediction("real").Valid())
}

func TestTimestampTruncatesToMillisecondsUTC(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	in := time.Date(2024, 5, 1, 12, 0, 0, 123456789, loc)

	got := Timestamp(in)

	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 123000000, got.Nanosecond())
	assert.True(t, got.Equal(in.Truncate(time.Millisecond)))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.9731, Round(0.97306, 4))
	assert.Equal(t, 0.97, Round(0.97306, 2))
	assert.Equal(t, 1.0, Round(0.999999, 2))
}
