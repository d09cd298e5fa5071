package storage

import "time"

// SetClock replaces the clock used for status timestamps.
func (s *TaskStore) SetClock(now func() time.Time) { s.now = now }
