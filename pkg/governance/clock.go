package governance

import "time"

// Clock abstracts time for deterministic testing.
type Clock interface {
	Now() time.Time
}

// wallClock is the default production clock.
type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now()
}

// WallClock returns the production clock. Constructors that accept a
// Clock default to it when none is injected.
func WallClock() Clock {
	return wallClock{}
}
