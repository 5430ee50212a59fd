package helpers

import "time"

// IntSecondDefault converts config integer seconds, zero means default.
func IntSecondDefault(x int, def time.Duration) time.Duration {
	if x == 0 {
		return def
	}
	return time.Duration(x) * time.Second
}

// IntMillisecondDefault is like IntSecondDefault, also treats negative as default.
func IntMillisecondDefault(x int, def time.Duration) time.Duration {
	if x <= 0 {
		return def
	}
	return time.Duration(x) * time.Millisecond
}
