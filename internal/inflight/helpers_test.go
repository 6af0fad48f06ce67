package inflight

import "time"

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)
