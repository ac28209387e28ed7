package model

import "time"

// Session is one recorded scheduler run. Its action records share its ID.
type Session struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	Host      string     `json:"host"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Actions   int        `json:"actions"`
}

// IsOpen reports whether the run is still recording.
func (s *Session) IsOpen() bool {
	return s.EndedAt == nil
}

// Duration returns how long the run recorded, up to now if still open.
func (s *Session) Duration() time.Duration {
	if s.EndedAt == nil {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}
