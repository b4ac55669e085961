package repository

import "time"

// SourceUnknown marks chunks migrated from a schema that did not record the
// capture channel.
const SourceUnknown = "unknown"

type Session struct {
	ID        string
	StartedAt time.Time
	EndedAt   *time.Time
	Active    bool
}

type Chunk struct {
	ID        string
	SessionID string
	Timestamp time.Time
	Text      string
	AudioPath string
	Source    string
	SpeakerID *string
}
