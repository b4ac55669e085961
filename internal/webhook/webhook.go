package webhook

import "context"

const TranscriptWebhookSchemaVersion = "2026-10-17"

type TranscriptWebhookPayload struct {
	SchemaVersion   string                   `json:"schema_version"`
	SessionID       string                   `json:"session_id"`
	StartAt         string                   `json:"start_at"`
	EndAt           string                   `json:"end_at"`
	Timezone        string                   `json:"timezone"`
	DurationSeconds int64                    `json:"duration_seconds"`
	ChunkCount      int                      `json:"chunk_count"`
	TranscriptPath  string                   `json:"transcript_path"`
	Entries         []TranscriptWebhookEntry `json:"entries"`
	Transcript      string                   `json:"transcript"`
}

type TranscriptWebhookEntry struct {
	ChunkID    string `json:"chunk_id"`
	Source     string `json:"source"`
	Speaker    string `json:"speaker"`
	CapturedAt string `json:"captured_at"`
	Text       string `json:"text"`
}

type Sender interface {
	SendTranscript(ctx context.Context, payload TranscriptWebhookPayload) error
}
