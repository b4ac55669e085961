package config

import (
	"math"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Env:                   "development",
		DataDir:               "data",
		DatabaseURL:           "kikitori.sqlite",
		TranscriptTimezone:    "Asia/Tokyo",
		TranscriberBackend:    TranscriberBackendFasterWhisper,
		AudioBackend:          AudioBackendMiniaudio,
		SampleRate:            48000,
		ChunkDuration:         5 * time.Second,
		FrameDuration:         100 * time.Millisecond,
		MicNoiseThreshold:     0.005,
		SpeakerNoiseThreshold: 0.01,
		SpeakerSimilarity:     0.7,
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when required fields are missing")
	}
}

func TestValidate_InvalidThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.MicNoiseThreshold = -0.1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative mic threshold")
	}
	cfg = validConfig()
	cfg.SpeakerNoiseThreshold = math.NaN()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for NaN speaker threshold")
	}
}

func TestValidate_SimilarityRange(t *testing.T) {
	cfg := validConfig()
	cfg.SpeakerSimilarity = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for similarity above 1")
	}
}

func TestValidate_CloudSpeechRequiresCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.TranscriberBackend = TranscriberBackendCloudSpeech
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when cloud speech credentials are missing")
	}
	cfg.GoogleCloudProjectID = "project-id"
	cfg.GoogleCloudCredentials = `{"type":"service_account"}`
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_ReplayRequiresPaths(t *testing.T) {
	cfg := validConfig()
	cfg.AudioBackend = AudioBackendReplay
	cfg.ReplayChannels = 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when replay paths are missing")
	}
	cfg.ReplayMicPath = "mic.opus"
	cfg.ReplaySpeakerPath = "speaker.opus"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_FrameLongerThanChunk(t *testing.T) {
	cfg := validConfig()
	cfg.FrameDuration = 10 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when frame is longer than chunk")
	}
}

func TestValidate_InvalidTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.TranscriptTimezone = "Mars/Olympus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestChunkSamples(t *testing.T) {
	cfg := validConfig()
	if got := cfg.ChunkSamples(); got != 240000 {
		t.Fatalf("unexpected chunk samples: %d", got)
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	if !cfg.IsDevelopment() {
		t.Fatal("expected development mode")
	}
	cfg.Env = "production"
	if cfg.IsDevelopment() {
		t.Fatal("expected non-development mode")
	}
}
