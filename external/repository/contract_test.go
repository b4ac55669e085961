package repository

import (
	"context"
	"testing"
	"time"

	"github.com/foxseedlab/kikitori/internal/repository"
)

// runRepositoryContract exercises behaviour every backend must share. The
// repository must be initialized and empty.
func runRepositoryContract(t *testing.T, repo repository.Repository) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	if id, err := repo.GetLatestSessionID(ctx); err != nil || id != "" {
		t.Fatalf("expected no latest session, got %q (err=%v)", id, err)
	}

	first, err := repo.CreateSession(ctx, repository.CreateSessionInput{ID: "aaaa", StartedAt: base})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !first.Active || first.ID != "aaaa" {
		t.Fatalf("unexpected session: %+v", first)
	}
	if _, err := repo.CreateSession(ctx, repository.CreateSessionInput{ID: "bbbb", StartedAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id, err := repo.GetLatestSessionID(ctx); err != nil || id != "bbbb" {
		t.Fatalf("expected latest session bbbb, got %q (err=%v)", id, err)
	}

	speaker := "Speaker 1"
	inputs := []repository.InsertChunkInput{
		{ID: "aaaa_speaker_1", SessionID: "aaaa", Timestamp: base.Add(5 * time.Second), Text: "hi there", AudioPath: "a/speaker_1.wav", Source: "speaker", SpeakerID: &speaker},
		{ID: "aaaa_mic_1", SessionID: "aaaa", Timestamp: base, Text: "hello", AudioPath: "a/mic_1.wav", Source: "mic"},
		{ID: "bbbb_mic_1", SessionID: "bbbb", Timestamp: base.Add(time.Hour), Text: "other", AudioPath: "b/mic_1.wav", Source: "mic"},
		{ID: "aaaa_mic_2", SessionID: "aaaa", Timestamp: base.Add(10 * time.Second), Text: "[silence]", AudioPath: "a/mic_2.wav", Source: "mic"},
	}
	for _, in := range inputs {
		inserted, err := repo.InsertChunk(ctx, in)
		if err != nil || !inserted {
			t.Fatalf("InsertChunk(%s) = %v, %v", in.ID, inserted, err)
		}
	}

	dup := inputs[1]
	dup.Text = "changed"
	inserted, err := repo.InsertChunk(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate InsertChunk: %v", err)
	}
	if inserted {
		t.Fatal("duplicate chunk must not be inserted")
	}

	chunks, err := repo.ListChunks(ctx, "aaaa", "")
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	wantOrder := []string{"aaaa_speaker_1", "aaaa_mic_1", "aaaa_mic_2"}
	if len(chunks) != len(wantOrder) {
		t.Fatalf("unexpected chunk count: %d", len(chunks))
	}
	for i, id := range wantOrder {
		if chunks[i].ID != id {
			t.Fatalf("chunk %d = %s, want %s (insertion order)", i, chunks[i].ID, id)
		}
	}
	if chunks[1].Text != "hello" {
		t.Fatalf("duplicate insert overwrote text: %q", chunks[1].Text)
	}
	if chunks[0].SpeakerID == nil || *chunks[0].SpeakerID != "Speaker 1" || chunks[1].SpeakerID != nil {
		t.Fatalf("unexpected speaker ids: %v / %v", chunks[0].SpeakerID, chunks[1].SpeakerID)
	}
	if !chunks[1].Timestamp.Equal(base) || chunks[0].Source != "speaker" {
		t.Fatalf("unexpected chunk fields: %+v", chunks[1])
	}

	after, err := repo.ListChunks(ctx, "aaaa", "aaaa_speaker_1")
	if err != nil {
		t.Fatalf("ListChunks after: %v", err)
	}
	if len(after) != 2 || after[0].ID != "aaaa_mic_1" || after[1].ID != "aaaa_mic_2" {
		t.Fatalf("unexpected chunks after id: %+v", after)
	}

	if ok, err := repo.ChunkExists(ctx, "aaaa_mic_1"); err != nil || !ok {
		t.Fatalf("ChunkExists = %v, %v", ok, err)
	}
	if ok, err := repo.ChunkExists(ctx, "zzzz_mic_1"); err != nil || ok {
		t.Fatalf("ChunkExists(unknown) = %v, %v", ok, err)
	}
	if p, err := repo.GetAudioPath(ctx, "bbbb_mic_1"); err != nil || p != "b/mic_1.wav" {
		t.Fatalf("GetAudioPath = %q, %v", p, err)
	}
	if p, err := repo.GetAudioPath(ctx, "missing"); err != nil || p != "" {
		t.Fatalf("GetAudioPath(missing) = %q, %v", p, err)
	}

	ended := base.Add(30 * time.Minute)
	if err := repo.CompleteSession(ctx, repository.CompleteSessionInput{SessionID: "aaaa", EndedAt: ended}); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	s, err := repo.GetSession(ctx, "aaaa")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.Active || s.EndedAt == nil || !s.EndedAt.Equal(ended) || !s.StartedAt.Equal(base) {
		t.Fatalf("unexpected completed session: %+v", s)
	}
	if s, err := repo.GetSession(ctx, "missing"); err != nil || s != nil {
		t.Fatalf("GetSession(missing) = %+v, %v", s, err)
	}
}
