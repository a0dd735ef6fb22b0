package utils

import "github.com/benbjohnson/clock"

// Millis is a finite-width millisecond timestamp. Arithmetic on it must go
// through ElapsedMillis so that counter wraparound cannot produce a negative
// or absurdly large interval.
type Millis uint32

// NowMillis truncates the clock's current time to a wrapping millisecond counter.
func NowMillis(clk clock.Clock) Millis {
	return Millis(clk.Now().UnixMilli())
}

// ElapsedMillis returns the milliseconds elapsed from one timestamp to a later
// one. Unsigned subtraction keeps the result correct across wraparound.
func ElapsedMillis(from, to Millis) uint32 {
	return uint32(to - from)
}
