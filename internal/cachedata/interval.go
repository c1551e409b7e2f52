package cachedata

import "time"

// NextInterval implements the interval-aligned expiry algorithm: given an
// interval length of intervalSeconds and the current time t, returns the
// next boundary in loc's local time, expressed as an absolute instant.
//
// 1. offsetMin is loc's UTC offset in minutes at t (east-of-UTC positive,
//    matching time.Zone's convention).
// 2. t' = t + offsetMin*60.
// 3. next' = ceil(t'/L) * L; when t' already lies on a boundary, next'
//    is the following boundary, t' + L, so the result is always after t.
// 4. return next' - offsetMin*60.
//
// An 8-hour interval in America/Chicago aligns to 00:00/08:00/16:00
// local time, not UTC; intervals of 48h or more anchor at the Unix
// epoch boundary of the local date.
func NextInterval(t time.Time, intervalSeconds int64, loc *time.Location) time.Time {
	if intervalSeconds <= 0 {
		return t
	}
	_, offsetSec := t.In(loc).Zone()
	offsetMin := int64(offsetSec / 60)

	tPrime := t.Unix() + offsetMin*60
	nextPrime := ceilDiv(tPrime, intervalSeconds) * intervalSeconds
	if nextPrime == tPrime {
		nextPrime += intervalSeconds
	}
	next := nextPrime - offsetMin*60

	return time.Unix(next, 0).UTC()
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a > 0 == (b > 0) {
		q++
	}
	return q
}
