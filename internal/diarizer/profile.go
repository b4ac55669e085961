package diarizer

import (
	"context"
	"fmt"
)

// ProfileSetVersion is the current layout of persisted profile sets.
const ProfileSetVersion = 1

type Profile struct {
	Label     string    `json:"label"`
	Embedding []float64 `json:"embedding"`
}

// ProfileSet is everything the diarizer knows about one session's voices.
// NextIndex is the number given to the next new speaker label.
type ProfileSet struct {
	Version   int       `json:"version"`
	NextIndex int       `json:"next_index"`
	Profiles  []Profile `json:"profiles"`
}

func NewProfileSet() *ProfileSet {
	return &ProfileSet{Version: ProfileSetVersion, NextIndex: 1}
}

// Validate rejects sets written by a newer layout and repairs a NextIndex
// that would reuse an existing label number.
func (s *ProfileSet) Validate() error {
	if s.Version > ProfileSetVersion {
		return fmt.Errorf("unsupported profile set version %d", s.Version)
	}
	if s.Version == 0 {
		s.Version = ProfileSetVersion
	}
	if s.NextIndex <= len(s.Profiles) {
		s.NextIndex = len(s.Profiles) + 1
	}
	return nil
}

// ProfileStore persists one ProfileSet per session.
type ProfileStore interface {
	// Load returns nil, nil when nothing has been stored for the session.
	Load(ctx context.Context, sessionID string) (*ProfileSet, error)
	Save(ctx context.Context, sessionID string, set *ProfileSet) error
}
