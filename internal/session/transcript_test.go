package session

import (
	"strings"
	"testing"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/webhook"
)

func sampleEntries(base time.Time) []Entry {
	return []Entry{
		{ChunkID: "s_mic_1", Seq: 1, CapturedAt: base, Source: audio.SourceMic, Speaker: "You", Text: "hello"},
		{ChunkID: "s_speaker_1", Seq: 2, CapturedAt: base, Source: audio.SourceSpeaker, Speaker: "Speaker 1", Text: "hi"},
		{ChunkID: "s_mic_2", Seq: 3, CapturedAt: base.Add(5 * time.Second), Source: audio.SourceMic, Speaker: "You", Text: "how are you"},
		{ChunkID: "s_speaker_2", Seq: 4, CapturedAt: base.Add(10 * time.Second), Source: audio.SourceSpeaker, Speaker: "Speaker 2", Text: "fine"},
	}
}

func TestSortEntries_StableUnderPermutation(t *testing.T) {
	base := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	entries := sampleEntries(base)
	want := []string{"s_mic_1", "s_speaker_1", "s_mic_2", "s_speaker_2"}

	perms := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {1, 0, 3, 2}, {2, 3, 0, 1}, {1, 3, 0, 2}}
	for _, perm := range perms {
		shuffled := make([]Entry, 0, len(entries))
		for _, i := range perm {
			shuffled = append(shuffled, entries[i])
		}
		sorted := sortEntries(shuffled)
		for i, e := range sorted {
			if e.ChunkID != want[i] {
				t.Fatalf("perm %v: position %d = %s, want %s", perm, i, e.ChunkID, want[i])
			}
		}
		if shuffled[0].ChunkID != entries[perm[0]].ChunkID {
			t.Fatal("sortEntries must not reorder its input")
		}
	}
}

func TestFormatLine(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	e := Entry{CapturedAt: time.Date(2026, 10, 17, 0, 1, 2, 0, time.UTC), Speaker: "You", Text: "hello world"}
	if got := formatLine(e, loc); got != "[09:01:02] You: hello world" {
		t.Fatalf("unexpected line: %q", got)
	}
	if got := formatLine(e, nil); got != "[00:01:02] You: hello world" {
		t.Fatalf("unexpected line with nil location: %q", got)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		source audio.Source
		label  string
		want   string
	}{
		{source: audio.SourceMic, label: "", want: "You"},
		{source: audio.SourceMic, label: "Speaker 3", want: "You"},
		{source: audio.SourceSpeaker, label: "Speaker 2", want: "Speaker 2"},
		{source: audio.SourceSpeaker, label: "", want: "Speaker"},
	}
	for _, tt := range tests {
		if got := displayName(tt.source, tt.label); got != tt.want {
			t.Errorf("displayName(%s, %q) = %q, want %q", tt.source, tt.label, got, tt.want)
		}
	}
}

func TestRenderHeaderAndFooter(t *testing.T) {
	base := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	header := renderHeader("abc123", base, time.UTC)
	wantHeader := "Transcription Session: abc123\nStarted: 2026-10-17 09:00:00\n" + transcriptRule + "\n\n"
	if header != wantHeader {
		t.Fatalf("unexpected header:\n%s", header)
	}

	footer := renderFooter(base.Add(time.Hour), sortEntries(sampleEntries(base)), time.UTC)
	wantFooter := "\n" + transcriptRule + "\nSession ended: 2026-10-17 10:00:00\n\n" +
		"=== COMPLETE TRANSCRIPT (CHRONOLOGICAL) ===\n\n" +
		"[09:00:00] You: hello\n" +
		"[09:00:00] Speaker 1: hi\n" +
		"[09:00:05] You: how are you\n" +
		"[09:00:10] Speaker 2: fine\n"
	if footer != wantFooter {
		t.Fatalf("unexpected footer:\n%s", footer)
	}
}

func TestBuildTranscriptWebhookPayload(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	startedAt := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	endedAt := startedAt.Add(45 * time.Second)
	sorted := sortEntries(sampleEntries(startedAt))

	payload := buildTranscriptWebhookPayload("abc123", "transcripts/transcript_abc123.txt", startedAt, endedAt, "Asia/Tokyo", loc, sorted)
	if payload.SchemaVersion != webhook.TranscriptWebhookSchemaVersion || payload.SessionID != "abc123" {
		t.Fatalf("unexpected payload identity: %+v", payload)
	}
	if payload.StartAt != "2026-10-17T09:00:00+09:00" || payload.EndAt != "2026-10-17T09:00:45+09:00" {
		t.Fatalf("unexpected payload times: %s - %s", payload.StartAt, payload.EndAt)
	}
	if payload.DurationSeconds != 45 || payload.ChunkCount != 4 || len(payload.Entries) != 4 {
		t.Fatalf("unexpected payload counts: %+v", payload)
	}
	if payload.Entries[1].Speaker != "Speaker 1" || payload.Entries[1].Source != "speaker" {
		t.Fatalf("unexpected entry: %+v", payload.Entries[1])
	}
	if !strings.HasPrefix(payload.Transcript, "[09:00:00] You: hello\n[09:00:00] Speaker 1: hi") {
		t.Fatalf("unexpected transcript: %q", payload.Transcript)
	}

	reversed := buildTranscriptWebhookPayload("abc123", "", endedAt, startedAt, "UTC", nil, nil)
	if reversed.DurationSeconds != 0 {
		t.Fatalf("negative duration not clamped: %d", reversed.DurationSeconds)
	}
}
