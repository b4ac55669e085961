package session

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/webhook"
)

// Deliberately not time.DateTime so the layout stays easy to change.
const (
	transcriptTimeLayout = "2006-01-02 15:04:05"
	lineClockLayout      = "15:04:05"
	transcriptRule       = "--------------------------------------------------"

	displayNameMic     = "You"
	displayNameSpeaker = "Speaker"
)

// Entry is one transcribed, non-silent chunk of the running session.
type Entry struct {
	ChunkID    string
	Seq        uint64
	CapturedAt time.Time
	Source     audio.Source
	Speaker    string
	Text       string
	AudioPath  string
}

// ChunkView is the read-side shape of a chunk.
type ChunkView struct {
	ChunkID    string    `json:"chunk_id"`
	Timestamp  string    `json:"timestamp"`
	CapturedAt time.Time `json:"captured_at"`
	Text       string    `json:"text"`
	Source     string    `json:"source"`
	Speaker    string    `json:"speaker"`
	AudioPath  string    `json:"audio_path"`
}

func displayName(source audio.Source, label string) string {
	if source == audio.SourceMic {
		return displayNameMic
	}
	if label == "" {
		return displayNameSpeaker
	}
	return label
}

// sortEntries returns a copy ordered by capture time, ties broken by
// enqueue order.
func sortEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].CapturedAt.Before(out[j].CapturedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func formatLine(e Entry, loc *time.Location) string {
	return fmt.Sprintf("[%s] %s: %s", e.CapturedAt.In(safeLocation(loc)).Format(lineClockLayout), e.Speaker, e.Text)
}

func renderLines(entries []Entry, loc *time.Location) []string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, formatLine(e, loc))
	}
	return lines
}

func renderHeader(sessionID string, startedAt time.Time, loc *time.Location) string {
	return fmt.Sprintf("Transcription Session: %s\nStarted: %s\n%s\n\n",
		sessionID, startedAt.In(safeLocation(loc)).Format(transcriptTimeLayout), transcriptRule)
}

func renderFooter(endedAt time.Time, sorted []Entry, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\nSession ended: %s\n\n=== COMPLETE TRANSCRIPT (CHRONOLOGICAL) ===\n\n",
		transcriptRule, endedAt.In(safeLocation(loc)).Format(transcriptTimeLayout))
	for _, line := range renderLines(sorted, loc) {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func toChunkView(e Entry, loc *time.Location) ChunkView {
	return ChunkView{
		ChunkID:    e.ChunkID,
		Timestamp:  e.CapturedAt.In(safeLocation(loc)).Format(lineClockLayout),
		CapturedAt: e.CapturedAt,
		Text:       e.Text,
		Source:     string(e.Source),
		Speaker:    e.Speaker,
		AudioPath:  e.AudioPath,
	}
}

func appendToFile(path, text string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func buildTranscriptWebhookPayload(sessionID, transcriptPath string, startedAt, endedAt time.Time, timezone string, loc *time.Location, sorted []Entry) webhook.TranscriptWebhookPayload {
	loc = safeLocation(loc)
	entries := make([]webhook.TranscriptWebhookEntry, 0, len(sorted))
	for _, e := range sorted {
		entries = append(entries, webhook.TranscriptWebhookEntry{
			ChunkID:    e.ChunkID,
			Source:     string(e.Source),
			Speaker:    e.Speaker,
			CapturedAt: e.CapturedAt.In(loc).Format(time.RFC3339),
			Text:       e.Text,
		})
	}

	durationSeconds := int64(endedAt.Sub(startedAt).Seconds())
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	return webhook.TranscriptWebhookPayload{
		SchemaVersion:   webhook.TranscriptWebhookSchemaVersion,
		SessionID:       sessionID,
		StartAt:         startedAt.In(loc).Format(time.RFC3339),
		EndAt:           endedAt.In(loc).Format(time.RFC3339),
		Timezone:        timezone,
		DurationSeconds: durationSeconds,
		ChunkCount:      len(sorted),
		TranscriptPath:  transcriptPath,
		Entries:         entries,
		Transcript:      strings.Join(renderLines(sorted, loc), "\n"),
	}
}

func safeLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
