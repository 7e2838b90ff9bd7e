// Package model defines the shared telemetry data types: Session, Vehicle,
// Lap, PhysicsSample, ScoringSnapshot and UploadBatch, and the invariants
// that bind them together.
package model

import "time"

// SessionType mirrors the simulator's session classification.
type SessionType int

const (
	SessionPractice SessionType = iota
	SessionQualifying
	SessionRace
	SessionTimeTrial
)

// Session identifies one continuous recording. Exactly one Session exists
// per agent run; its remote ID is immutable once assigned.
type Session struct {
	RemoteID  int64 // zero until ensure_session succeeds
	UserID    string
	Track     string
	Vehicle   string
	Type      SessionType
	StartedAt time.Time
}

// Sealed reports whether the remote session id has been assigned.
func (s *Session) Sealed() bool {
	return s.RemoteID != 0
}

// Vehicle is one per Session and shares its lifecycle.
type Vehicle struct {
	RemoteID   int64
	SlotID     int
	DriverName string
	Name       string
	Class      string
}
