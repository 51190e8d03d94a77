package control

import "time"

// Clock is the time source for command staleness and rate limiting.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
