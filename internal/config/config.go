package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	TranscriberBackendFasterWhisper = "faster_whisper"
	TranscriberBackendCloudSpeech   = "cloud_speech"

	AudioBackendMiniaudio = "miniaudio"
	AudioBackendReplay    = "replay"
)

type Config struct {
	Env      string
	DataDir  string
	HTTPAddr string

	DatabaseURL             string
	SpeakerProfileStoreURL  string
	TranscriptTimezone      string
	TranscriptWebhookURL    string
	TranscribeLanguage      string
	TranscriberBackend      string
	WhisperModel            string
	WhisperDevice           string
	WhisperComputeType      string
	WhisperPython           string
	GoogleCloudProjectID    string
	GoogleCloudCredentials  string
	GoogleCloudSpeechRegion string
	GoogleCloudSpeechModel  string

	AudioBackend          string
	ReplayMicPath         string
	ReplaySpeakerPath     string
	ReplayChannels        int
	SampleRate            int
	ChunkDuration         time.Duration
	FrameDuration         time.Duration
	ChunkerWarmup         time.Duration
	MicNoiseThreshold     float64
	SpeakerNoiseThreshold float64
	SpeakerSimilarity     float64
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if strings.TrimSpace(req.value) == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("CHUNK_DURATION must be positive, got %s", c.ChunkDuration)
	}
	if c.FrameDuration <= 0 || c.FrameDuration > c.ChunkDuration {
		return fmt.Errorf("FRAME_DURATION must be positive and not longer than CHUNK_DURATION, got %s", c.FrameDuration)
	}
	if err := validateThreshold("MIC_NOISE_THRESHOLD", c.MicNoiseThreshold); err != nil {
		return err
	}
	if err := validateThreshold("SPEAKER_NOISE_THRESHOLD", c.SpeakerNoiseThreshold); err != nil {
		return err
	}
	if c.SpeakerSimilarity <= 0 || c.SpeakerSimilarity > 1 {
		return fmt.Errorf("SPEAKER_SIMILARITY_THRESHOLD must be in (0, 1], got %v", c.SpeakerSimilarity)
	}
	switch c.TranscriberBackend {
	case TranscriberBackendFasterWhisper:
	case TranscriberBackendCloudSpeech:
		if c.GoogleCloudProjectID == "" || c.GoogleCloudCredentials == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID and GOOGLE_CLOUD_CREDENTIALS_JSON are required when TRANSCRIBER_BACKEND=%s", TranscriberBackendCloudSpeech)
		}
	default:
		return fmt.Errorf("TRANSCRIBER_BACKEND must be %q or %q, got %q", TranscriberBackendFasterWhisper, TranscriberBackendCloudSpeech, c.TranscriberBackend)
	}
	switch c.AudioBackend {
	case AudioBackendMiniaudio:
	case AudioBackendReplay:
		if c.ReplayMicPath == "" || c.ReplaySpeakerPath == "" {
			return fmt.Errorf("REPLAY_MIC_PATH and REPLAY_SPEAKER_PATH are required when AUDIO_BACKEND=%s", AudioBackendReplay)
		}
		if c.ReplayChannels <= 0 {
			return fmt.Errorf("REPLAY_CHANNELS must be positive, got %d", c.ReplayChannels)
		}
	default:
		return fmt.Errorf("AUDIO_BACKEND must be %q or %q, got %q", AudioBackendMiniaudio, AudioBackendReplay, c.AudioBackend)
	}
	if _, err := time.LoadLocation(c.TranscriptTimezone); err != nil {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is invalid: %w", err)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DATA_DIR", value: c.DataDir},
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "TRANSCRIPT_TIMEZONE", value: c.TranscriptTimezone},
		{name: "TRANSCRIBER_BACKEND", value: c.TranscriberBackend},
		{name: "AUDIO_BACKEND", value: c.AudioBackend},
	}
}

func validateThreshold(name string, v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s must be a non-negative number, got %v", name, v)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Location falls back to UTC so callers never have to handle a nil location.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TranscriptTimezone)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

// ChunkSamples is the number of mono samples in one chunk window.
func (c *Config) ChunkSamples() int {
	return int(c.ChunkDuration.Seconds() * float64(c.SampleRate))
}
