package diarizer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/foxseedlab/kikitori/internal/audio"
	"gonum.org/v1/gonum/floats"
)

const (
	DefaultSimilarityThreshold = 0.7
	// emaKeep is the weight of the stored embedding when a profile is
	// re-matched. The blended vector is stored as is, without re-normalizing.
	emaKeep = 0.7
)

// Diarizer assigns session-scoped "Speaker N" labels to speaker-channel
// chunks by comparing voice embeddings. It is not safe for concurrent use.
type Diarizer struct {
	sessionID string
	threshold float64
	embedder  Embedder
	store     ProfileStore
	set       *ProfileSet
}

// New resumes from a stored profile set when one exists. A load failure is
// logged and the diarizer starts empty.
func New(ctx context.Context, sessionID string, threshold float64, embedder Embedder, store ProfileStore) *Diarizer {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	d := &Diarizer{
		sessionID: sessionID,
		threshold: threshold,
		embedder:  embedder,
		store:     store,
		set:       NewProfileSet(),
	}
	if store == nil {
		return d
	}
	set, err := store.Load(ctx, sessionID)
	switch {
	case err != nil:
		slog.Error("failed to load speaker profiles", "error", err, "session_id", sessionID)
	case set == nil:
	default:
		if err := set.Validate(); err != nil {
			slog.Error("ignoring stored speaker profiles", "error", err, "session_id", sessionID)
			break
		}
		d.set = set
		slog.Info("loaded speaker profiles", "session_id", sessionID, "profiles", len(set.Profiles))
	}
	return d
}

// Identify labels a chunk. Only speaker-channel chunks are labeled.
func (d *Diarizer) Identify(ctx context.Context, path string, source audio.Source) (string, bool) {
	if source != audio.SourceSpeaker {
		return "", false
	}
	embedding, err := d.embedder.Embed(path)
	if err != nil {
		slog.Warn("failed to extract speaker embedding", "error", err, "session_id", d.sessionID, "path", path)
		return "", false
	}
	return d.Match(ctx, embedding), true
}

// Match returns the label of the most similar known profile when it clears
// the threshold, blending the new embedding into it. Otherwise a new profile
// is created. Ties go to the earliest profile.
func (d *Diarizer) Match(ctx context.Context, embedding []float64) string {
	if len(d.set.Profiles) == 0 {
		return d.addProfile(ctx, embedding)
	}

	best := -1
	bestSim := -2.0
	for i, p := range d.set.Profiles {
		sim := CosineSimilarity(embedding, p.Embedding)
		if sim > bestSim {
			best, bestSim = i, sim
		}
	}
	if bestSim >= d.threshold {
		p := &d.set.Profiles[best]
		blended := make([]float64, len(p.Embedding))
		floats.AddScaledTo(blended, scaled(p.Embedding, emaKeep), 1-emaKeep, embedding)
		p.Embedding = blended
		d.save(ctx)
		slog.Debug("speaker matched", "session_id", d.sessionID, "label", p.Label, "similarity", bestSim)
		return p.Label
	}
	return d.addProfile(ctx, embedding)
}

func (d *Diarizer) addProfile(ctx context.Context, embedding []float64) string {
	if len(d.set.Profiles) == 0 {
		d.set.NextIndex = 1
	}
	label := fmt.Sprintf("Speaker %d", d.set.NextIndex)
	d.set.NextIndex++
	e := make([]float64, len(embedding))
	copy(e, embedding)
	d.set.Profiles = append(d.set.Profiles, Profile{Label: label, Embedding: e})
	d.save(ctx)
	slog.Info("new speaker detected", "session_id", d.sessionID, "label", label)
	return label
}

func (d *Diarizer) save(ctx context.Context) {
	if d.store == nil {
		return
	}
	if err := d.store.Save(ctx, d.sessionID, d.set); err != nil {
		slog.Error("failed to save speaker profiles", "error", err, "session_id", d.sessionID)
	}
}

// Profiles returns a copy of the known profiles in creation order.
func (d *Diarizer) Profiles() []Profile {
	out := make([]Profile, len(d.set.Profiles))
	copy(out, d.set.Profiles)
	return out
}

// CosineSimilarity is 0 when either vector has no magnitude or the lengths
// differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

func scaled(v []float64, c float64) []float64 {
	out := make([]float64, len(v))
	floats.ScaleTo(out, c, v)
	return out
}
