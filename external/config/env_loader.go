package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/kikitori/internal/config"
	"github.com/joho/godotenv"
)

type envConfig struct {
	Env      string `env:"ENV" envDefault:"production"`
	DataDir  string `env:"DATA_DIR" envDefault:"."`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:"127.0.0.1:8765"`

	DatabaseURL            string `env:"DATABASE_URL" envDefault:"transcriptions.db"`
	SpeakerProfileStoreURL string `env:"SPEAKER_PROFILE_STORE_URL"`
	TranscriptTimezone     string `env:"TRANSCRIPT_TIMEZONE" envDefault:"Local"`
	TranscriptWebhookURL   string `env:"TRANSCRIPT_WEBHOOK_URL"`

	TranscribeLanguage      string `env:"TRANSCRIBE_LANGUAGE"`
	TranscriberBackend      string `env:"TRANSCRIBER_BACKEND" envDefault:"faster_whisper"`
	WhisperModel            string `env:"WHISPER_MODEL" envDefault:"large-v3"`
	WhisperDevice           string `env:"WHISPER_DEVICE" envDefault:"cuda"`
	WhisperComputeType      string `env:"WHISPER_COMPUTE_TYPE" envDefault:"float16"`
	WhisperPython           string `env:"WHISPER_PYTHON" envDefault:"python3"`
	GoogleCloudProjectID    string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentials  string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechRegion string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel  string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"chirp_3"`

	AudioBackend          string        `env:"AUDIO_BACKEND" envDefault:"miniaudio"`
	ReplayMicPath         string        `env:"REPLAY_MIC_PATH"`
	ReplaySpeakerPath     string        `env:"REPLAY_SPEAKER_PATH"`
	ReplayChannels        int           `env:"REPLAY_CHANNELS" envDefault:"1"`
	SampleRate            int           `env:"SAMPLE_RATE" envDefault:"48000"`
	ChunkDuration         time.Duration `env:"CHUNK_DURATION" envDefault:"5s"`
	FrameDuration         time.Duration `env:"FRAME_DURATION" envDefault:"100ms"`
	ChunkerWarmup         time.Duration `env:"CHUNKER_WARMUP" envDefault:"2s"`
	MicNoiseThreshold     float64       `env:"MIC_NOISE_THRESHOLD" envDefault:"0.005"`
	SpeakerNoiseThreshold float64       `env:"SPEAKER_NOISE_THRESHOLD" envDefault:"0.01"`
	SpeakerSimilarity     float64       `env:"SPEAKER_SIMILARITY_THRESHOLD" envDefault:"0.7"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*internalconfig.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                     raw.Env,
		DataDir:                 raw.DataDir,
		HTTPAddr:                raw.HTTPAddr,
		DatabaseURL:             raw.DatabaseURL,
		SpeakerProfileStoreURL:  raw.SpeakerProfileStoreURL,
		TranscriptTimezone:      raw.TranscriptTimezone,
		TranscriptWebhookURL:    raw.TranscriptWebhookURL,
		TranscribeLanguage:      raw.TranscribeLanguage,
		TranscriberBackend:      raw.TranscriberBackend,
		WhisperModel:            raw.WhisperModel,
		WhisperDevice:           raw.WhisperDevice,
		WhisperComputeType:      raw.WhisperComputeType,
		WhisperPython:           raw.WhisperPython,
		GoogleCloudProjectID:    raw.GoogleCloudProjectID,
		GoogleCloudCredentials:  raw.GoogleCloudCredentials,
		GoogleCloudSpeechRegion: raw.GoogleCloudSpeechRegion,
		GoogleCloudSpeechModel:  raw.GoogleCloudSpeechModel,
		AudioBackend:            raw.AudioBackend,
		ReplayMicPath:           raw.ReplayMicPath,
		ReplaySpeakerPath:       raw.ReplaySpeakerPath,
		ReplayChannels:          raw.ReplayChannels,
		SampleRate:              raw.SampleRate,
		ChunkDuration:           raw.ChunkDuration,
		FrameDuration:           raw.FrameDuration,
		ChunkerWarmup:           raw.ChunkerWarmup,
		MicNoiseThreshold:       raw.MicNoiseThreshold,
		SpeakerNoiseThreshold:   raw.SpeakerNoiseThreshold,
		SpeakerSimilarity:       raw.SpeakerSimilarity,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
