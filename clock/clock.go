// Package clock provides the single monotonic, un-slewed time source used
// for every core event timestamp.
package clock

import (
	"golang.org/x/sys/unix"
)

// MonoTime is nanoseconds read from CLOCK_MONOTONIC_RAW. Only differences
// between two MonoTime values are meaningful; the absolute value carries no
// wall-clock semantics.
type MonoTime uint64

// Sub returns m-other as a signed nanosecond delta.
func (m MonoTime) Sub(other MonoTime) int64 {
	return int64(m) - int64(other)
}

// Now reads the current CLOCK_MONOTONIC_RAW value. It never fails on Linux;
// a failure here indicates a broken host and is fatal to the caller.
func Now() MonoTime {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		panic("clock: CLOCK_MONOTONIC_RAW unavailable: " + err.Error())
	}
	return MonoTime(ts.Sec)*1e9 + MonoTime(ts.Nsec)
}

// FromTimespec converts a raw unix.Timespec (e.g. from a kernel SCM_TIMESTAMPNS
// control message) into a MonoTime. The caller is responsible for ensuring the
// timespec was sampled against CLOCK_MONOTONIC_RAW (or for applying the
// offset computed by the receiver package when the kernel only hands back
// CLOCK_REALTIME).
func FromTimespec(ts unix.Timespec) MonoTime {
	return MonoTime(ts.Sec)*1e9 + MonoTime(ts.Nsec)
}
