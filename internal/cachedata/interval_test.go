package cachedata_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/63klabs/cache-data-proxy/internal/cachedata"
)

func TestNextIntervalIsMultipleOfIntervalInUTC(t *testing.T) {
	now := time.Date(2026, 7, 30, 13, 47, 0, 0, time.UTC)
	next := cachedata.NextInterval(now, 3600, time.UTC)

	assert.True(t, next.After(now))
	assert.LessOrEqual(t, next.Sub(now), time.Hour)
	assert.Equal(t, int64(0), next.Unix()%3600)
}

func TestNextIntervalAlignsToLocalBoundaryInChicago(t *testing.T) {
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	now := time.Date(2026, 7, 30, 10, 0, 0, 0, loc)
	next := cachedata.NextInterval(now, 8*3600, loc)

	localHour := next.In(loc).Hour()
	assert.Contains(t, []int{0, 8, 16}, localHour)
}

func TestNextIntervalAlwaysStrictlyAfterNow(t *testing.T) {
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	for _, hour := range []int{0, 8, 16, 23} {
		now := time.Date(2026, 1, 15, hour, 0, 0, 0, loc)
		next := cachedata.NextInterval(now, 8*3600, loc)
		assert.True(t, next.After(now), "hour=%d", hour)
		assert.LessOrEqual(t, next.Sub(now), 8*time.Hour, "hour=%d", hour)
	}
}

func TestNextIntervalZeroOrNegativeIsNoop(t *testing.T) {
	now := time.Date(2026, 7, 30, 13, 47, 0, 0, time.UTC)
	assert.Equal(t, now, cachedata.NextInterval(now, 0, time.UTC))
	assert.Equal(t, now, cachedata.NextInterval(now, -3600, time.UTC))
}
