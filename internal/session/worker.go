package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/capture"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/transcriber"
)

// runWorker consumes the work queue until capture has stopped and nothing
// is left, or until the worker context is cancelled.
func (s *Session) runWorker() {
	defer close(s.workerDone)
	ctx := s.workerCtx
	slog.Info("transcription worker started", "session_id", s.id)
	for {
		if ctx.Err() != nil {
			slog.Warn("transcription worker cancelled", "session_id", s.id, "pending", s.queue.Pending())
			s.discardPending()
			return
		}
		item, ok := s.queue.Get(s.settings.workerPoll)
		if !ok {
			if !s.producing.Load() && s.queue.Len() == 0 {
				slog.Info("transcription worker finished", "session_id", s.id)
				return
			}
			continue
		}
		s.processItem(ctx, item)
		s.queue.Done()
	}
}

// discardPending acknowledges every item still queued without transcribing
// it, so Cleanup never waits on a worker that has gone.
func (s *Session) discardPending() {
	for {
		item, ok := s.queue.Get(0)
		if !ok {
			return
		}
		if err := os.Remove(item.Path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove temp chunk audio", "error", err, "session_id", s.id, "path", item.Path)
		}
		slog.Warn("chunk discarded without transcription", "session_id", s.id, "chunk_id", item.ChunkID)
		s.queue.Done()
	}
}

func (s *Session) processItem(ctx context.Context, item capture.WorkItem) {
	defer func() {
		if err := os.Remove(item.Path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove temp chunk audio", "error", err, "session_id", s.id, "path", item.Path)
		}
	}()

	chunkID := fmt.Sprintf("%s_%s", s.id, item.ChunkID)
	slog.Info("transcribing chunk", "session_id", s.id, "chunk_id", chunkID, "source", item.Source, "level", item.Energy)

	text := transcriber.SilenceText
	segments, err := s.deps.stt.Transcribe(ctx, item.Path, transcriber.DefaultOptions(s.settings.language))
	if err != nil {
		slog.Error("failed to transcribe chunk", "error", err, "session_id", s.id, "chunk_id", chunkID)
	} else {
		text = transcriber.JoinSegments(segments)
	}

	audioPath := filepath.Join(s.audioDir, chunkID+".wav")
	if err := copyFile(item.Path, audioPath); err != nil {
		slog.Error("failed to save chunk audio; dropping chunk", "error", err, "session_id", s.id, "chunk_id", chunkID)
		return
	}

	var label string
	var speakerID *string
	if item.Source == audio.SourceSpeaker && text != transcriber.SilenceText {
		if l, ok := s.diarizer.Identify(ctx, item.Path, item.Source); ok {
			label = l
			speakerID = &l
		}
	}

	inserted, err := s.deps.repo.InsertChunk(ctx, repository.InsertChunkInput{
		ID:        chunkID,
		SessionID: s.id,
		Timestamp: item.CapturedAt,
		Text:      text,
		AudioPath: audioPath,
		Source:    string(item.Source),
		SpeakerID: speakerID,
	})
	switch {
	case err != nil:
		slog.Error("failed to save chunk", "error", err, "session_id", s.id, "chunk_id", chunkID)
	case !inserted:
		slog.Warn("chunk already stored; skipping", "session_id", s.id, "chunk_id", chunkID)
		return
	}

	if text == transcriber.SilenceText {
		return
	}
	entry := Entry{
		ChunkID:    chunkID,
		Seq:        item.Seq,
		CapturedAt: item.CapturedAt,
		Source:     item.Source,
		Speaker:    displayName(item.Source, label),
		Text:       text,
		AudioPath:  audioPath,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		slog.Warn("chunk finished after transcript footer; not appended", "session_id", s.id, "chunk_id", chunkID)
		return
	}
	s.entries = append(s.entries, entry)
	if err := appendToFile(s.transcriptPath, formatLine(entry, s.settings.loc)+"\n"); err != nil {
		slog.Error("failed to append transcript line", "error", err, "session_id", s.id, "chunk_id", chunkID)
	}
	slog.Info("chunk transcribed", "session_id", s.id, "chunk_id", chunkID, "speaker", entry.Speaker)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
