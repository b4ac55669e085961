package profilestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/foxseedlab/kikitori/internal/diarizer"
	"github.com/redis/go-redis/v9"
)

func sampleSet() *diarizer.ProfileSet {
	return &diarizer.ProfileSet{
		Version:   diarizer.ProfileSetVersion,
		NextIndex: 3,
		Profiles: []diarizer.Profile{
			{Label: "Speaker 1", Embedding: []float64{0.6, 0.8}},
			{Label: "Speaker 2", Embedding: []float64{-1, 0}},
		},
	}
}

func assertRoundTrip(t *testing.T, store diarizer.ProfileStore) {
	t.Helper()
	ctx := context.Background()

	got, err := store.Load(ctx, "abc")
	if err != nil || got != nil {
		t.Fatalf("Load(missing) = %+v, %v", got, err)
	}
	if err := store.Save(ctx, "abc", sampleSet()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err = store.Load(ctx, "abc")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Version != diarizer.ProfileSetVersion || got.NextIndex != 3 || len(got.Profiles) != 2 {
		t.Fatalf("unexpected set: %+v", got)
	}
	if got.Profiles[1].Label != "Speaker 2" || got.Profiles[0].Embedding[1] != 0.8 {
		t.Fatalf("unexpected profiles: %+v", got.Profiles)
	}

	updated := sampleSet()
	updated.Profiles = append(updated.Profiles, diarizer.Profile{Label: "Speaker 3", Embedding: []float64{0, 1}})
	updated.NextIndex = 4
	if err := store.Save(ctx, "abc", updated); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err = store.Load(ctx, "abc")
	if err != nil || len(got.Profiles) != 3 {
		t.Fatalf("overwrite not visible: %+v, %v", got, err)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "speaker_embeddings")
	store := NewFileStore(dir)
	assertRoundTrip(t, store)

	if _, err := os.Stat(filepath.Join(dir, "session_abc.json")); err != nil {
		t.Fatalf("expected session file: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "session_bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(dir).Load(context.Background(), "bad"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRedisStore_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client)
	defer store.Close()

	assertRoundTrip(t, store)
	if !mr.Exists("kikitori:speaker_profiles:abc") {
		t.Fatal("expected profiles under the session key")
	}
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := ConnectRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("ConnectRedis: %v", err)
	}
	defer store.Close()
	assertRoundTrip(t, store)

	if _, err := ConnectRedis(context.Background(), "not a url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}
