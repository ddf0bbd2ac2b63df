package incubator

import "time"

// SetClock is a test helper that replaces the engine's time source so
// tests can advance the clock without sleeping.
func SetClock(s *Service, now func() time.Time) {
	s.now = now
}
