package diarizer

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/foxseedlab/kikitori/internal/audio"
)

type mapEmbedder map[string][]float64

func (m mapEmbedder) Embed(path string) ([]float64, error) {
	e, ok := m[path]
	if !ok {
		return nil, errors.New("no embedding")
	}
	return e, nil
}

type memoryStore struct {
	sets    map[string]*ProfileSet
	saves   int
	loadErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sets: map[string]*ProfileSet{}}
}

func (s *memoryStore) Load(_ context.Context, sessionID string) (*ProfileSet, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	set, ok := s.sets[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *set
	cp.Profiles = append([]Profile(nil), set.Profiles...)
	return &cp, nil
}

func (s *memoryStore) Save(_ context.Context, sessionID string, set *ProfileSet) error {
	cp := *set
	cp.Profiles = append([]Profile(nil), set.Profiles...)
	s.sets[sessionID] = &cp
	s.saves++
	return nil
}

func TestMatch_FirstEmbeddingIsSpeakerOne(t *testing.T) {
	d := New(context.Background(), "s1", 0.7, mapEmbedder{}, newMemoryStore())
	if got := d.Match(context.Background(), []float64{1, 0, 0}); got != "Speaker 1" {
		t.Fatalf("first label = %q", got)
	}
}

func TestMatch_SameEmbeddingMatchesAgain(t *testing.T) {
	ctx := context.Background()
	d := New(ctx, "s1", 0.7, mapEmbedder{}, newMemoryStore())
	e := []float64{0.6, 0.8, 0}
	first := d.Match(ctx, e)
	second := d.Match(ctx, e)
	if first != second {
		t.Fatalf("same embedding got %q then %q", first, second)
	}
	if len(d.Profiles()) != 1 {
		t.Fatalf("expected one profile, got %d", len(d.Profiles()))
	}
}

func TestMatch_NewProfileOnlyBelowThreshold(t *testing.T) {
	ctx := context.Background()
	d := New(ctx, "s1", 0.7, mapEmbedder{}, newMemoryStore())
	d.Match(ctx, []float64{1, 0})

	// cos = 0.8 clears the threshold.
	if got := d.Match(ctx, []float64{0.8, 0.6}); got != "Speaker 1" {
		t.Fatalf("similar embedding labeled %q", got)
	}
	// Orthogonal voice.
	if got := d.Match(ctx, []float64{0, 1}); got != "Speaker 2" {
		t.Fatalf("dissimilar embedding labeled %q", got)
	}
	if got := d.Match(ctx, []float64{-1, 0}); got != "Speaker 3" {
		t.Fatalf("opposite embedding labeled %q", got)
	}

	prev := 0
	for _, e := range [][]float64{{1, 0}, {0, 1}, {0.7, 0.7}, {-1, 0}, {0.1, -1}} {
		d.Match(ctx, e)
		if n := len(d.Profiles()); n < prev {
			t.Fatalf("profile count decreased from %d to %d", prev, n)
		} else {
			prev = n
		}
	}
}

func TestMatch_EMAUpdate(t *testing.T) {
	ctx := context.Background()
	d := New(ctx, "s1", 0.5, mapEmbedder{}, newMemoryStore())
	d.Match(ctx, []float64{1, 0})
	d.Match(ctx, []float64{0.8, 0.6})

	got := d.Profiles()[0].Embedding
	want := []float64{0.7*1 + 0.3*0.8, 0.3 * 0.6}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("embedding = %v, want %v", got, want)
		}
	}
}

func TestMatch_TiesGoToFirstCreated(t *testing.T) {
	ctx := context.Background()
	d := New(ctx, "s1", 0.5, mapEmbedder{}, newMemoryStore())
	d.Match(ctx, []float64{1, 0})
	d.Match(ctx, []float64{0, 1})
	if len(d.Profiles()) != 2 {
		t.Fatalf("expected two profiles, got %d", len(d.Profiles()))
	}
	// Equidistant from both profiles.
	if got := d.Match(ctx, []float64{1, 1}); got != "Speaker 1" {
		t.Fatalf("tie resolved to %q", got)
	}
}

func TestIdentify(t *testing.T) {
	ctx := context.Background()
	emb := mapEmbedder{"a.wav": {1, 0}, "b.wav": {1, 0.01}}
	d := New(ctx, "s1", 0.7, emb, newMemoryStore())

	if label, ok := d.Identify(ctx, "a.wav", audio.SourceMic); ok || label != "" {
		t.Fatalf("mic chunk labeled %q", label)
	}
	if label, ok := d.Identify(ctx, "a.wav", audio.SourceSpeaker); !ok || label != "Speaker 1" {
		t.Fatalf("first speaker chunk labeled %q (ok=%v)", label, ok)
	}
	if label, ok := d.Identify(ctx, "b.wav", audio.SourceSpeaker); !ok || label != "Speaker 1" {
		t.Fatalf("second speaker chunk labeled %q (ok=%v)", label, ok)
	}
	if _, ok := d.Identify(ctx, "missing.wav", audio.SourceSpeaker); ok {
		t.Fatal("expected no label when embedding fails")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	d := New(ctx, "s1", 0.7, mapEmbedder{}, store)
	d.Match(ctx, []float64{1, 0})
	d.Match(ctx, []float64{0, 1})
	d.Match(ctx, []float64{1, 0.1})
	if store.saves != 3 {
		t.Fatalf("expected a save per mutation, got %d", store.saves)
	}

	resumed := New(ctx, "s1", 0.7, mapEmbedder{}, store)
	if len(resumed.Profiles()) != 2 {
		t.Fatalf("resumed with %d profiles", len(resumed.Profiles()))
	}
	if got := resumed.Match(ctx, []float64{0, 1}); got != "Speaker 2" {
		t.Fatalf("resumed diarizer labeled %q", got)
	}
	if got := resumed.Match(ctx, []float64{-1, 0}); got != "Speaker 3" {
		t.Fatalf("resumed diarizer reused a label: %q", got)
	}

	other := New(ctx, "s2", 0.7, mapEmbedder{}, store)
	if len(other.Profiles()) != 0 {
		t.Fatal("profiles leaked across sessions")
	}
}

func TestNew_LoadErrorStartsEmpty(t *testing.T) {
	store := newMemoryStore()
	store.loadErr = errors.New("disk on fire")
	d := New(context.Background(), "s1", 0.7, mapEmbedder{}, store)
	if len(d.Profiles()) != 0 {
		t.Fatal("expected empty profile set")
	}
}

func TestProfileSetValidate(t *testing.T) {
	set := &ProfileSet{Version: ProfileSetVersion + 1}
	if err := set.Validate(); err == nil {
		t.Fatal("expected error for newer version")
	}
	set = &ProfileSet{Profiles: []Profile{{Label: "Speaker 1"}, {Label: "Speaker 2"}}}
	if err := set.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if set.Version != ProfileSetVersion || set.NextIndex != 3 {
		t.Fatalf("unexpected repaired set: %+v", set)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float64{1, 0}, []float64{2, 0}); math.Abs(got-1) > 1e-12 {
		t.Fatalf("parallel vectors: %v", got)
	}
	if got := CosineSimilarity([]float64{1, 0}, []float64{0, 3}); math.Abs(got) > 1e-12 {
		t.Fatalf("orthogonal vectors: %v", got)
	}
	if got := CosineSimilarity([]float64{0, 0}, []float64{1, 0}); got != 0 {
		t.Fatalf("zero vector: %v", got)
	}
	if got := CosineSimilarity([]float64{1}, []float64{1, 0}); got != 0 {
		t.Fatalf("length mismatch: %v", got)
	}
}

func sine(freq float64, sampleRate, n int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestMFCCEmbedder(t *testing.T) {
	dir := t.TempDir()
	const rate = 16000
	low := filepath.Join(dir, "low.wav")
	lowQuiet := filepath.Join(dir, "low_quiet.wav")
	high := filepath.Join(dir, "high.wav")
	if err := audio.WriteWAV(low, sine(220, rate, rate, 0.8), rate); err != nil {
		t.Fatal(err)
	}
	if err := audio.WriteWAV(lowQuiet, sine(220, rate, rate, 0.2), rate); err != nil {
		t.Fatal(err)
	}
	if err := audio.WriteWAV(high, sine(3500, rate, rate, 0.8), rate); err != nil {
		t.Fatal(err)
	}

	var e MFCCEmbedder
	a, err := e.Embed(low)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(a) != mfccCoeffs {
		t.Fatalf("embedding length = %d", len(a))
	}
	b, err := e.Embed(lowQuiet)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	c, err := e.Embed(high)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	same := CosineSimilarity(a, b)
	diff := CosineSimilarity(a, c)
	if same < 0.99 {
		t.Fatalf("peak normalization should make loudness irrelevant, similarity %v", same)
	}
	if diff >= same {
		t.Fatalf("different tones should be less similar: same=%v diff=%v", same, diff)
	}
}

func TestEmbedSamples_Silence(t *testing.T) {
	if _, err := EmbedSamples(make([]float64, 4000), 16000); err != nil {
		// All-silent input still yields a vector of the dB floor; only a
		// zero-length input is rejected.
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := EmbedSamples(nil, 16000); !errors.Is(err, ErrEmptyEmbedding) {
		t.Fatalf("expected ErrEmptyEmbedding, got %v", err)
	}
}
