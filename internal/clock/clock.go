package clock

import "time"

// Clock abstracts time so billing periods can be exercised in tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
