package transcriber

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"google.golang.org/api/option"
)

const speechAPIEndpointPort = 443

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Location        string
	Model           string
}

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// CloudSpeechTranscriber sends each chunk file to the Speech-to-Text v2
// batch Recognize API. The client is created on first use.
type CloudSpeechTranscriber struct {
	projectID       string
	credentialsJSON string
	location        string
	model           string

	mu        sync.Mutex
	client    *speech.Client
	recognize recognizeFunc
}

func NewCloudSpeechTranscriber(cfg CloudSpeechConfig) *CloudSpeechTranscriber {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	return &CloudSpeechTranscriber{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		location:        location,
		model:           strings.TrimSpace(cfg.Model),
	}
}

func (t *CloudSpeechTranscriber) recognizer() string {
	return fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.projectID, t.location)
}

func (t *CloudSpeechTranscriber) ensureClient(ctx context.Context) (recognizeFunc, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recognize != nil {
		return t.recognize, nil
	}

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(t.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}
	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if t.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", t.location, speechAPIEndpointPort)))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	slog.Info("cloud speech client created", "location", t.location, "model", t.model)
	t.client = client
	t.recognize = func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return client.Recognize(ctx, req)
	}
	return t.recognize, nil
}

func (t *CloudSpeechTranscriber) Transcribe(ctx context.Context, audioPath string, opts transcriber.Options) ([]transcriber.Segment, error) {
	content, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("read chunk audio: %w", err)
	}
	recognize, err := t.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	language := opts.Language
	if language == "" {
		language = "auto"
	}
	resp, err := recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer: t.recognizer(),
		Config: &speechpb.RecognitionConfig{
			Model:         t.model,
			LanguageCodes: []string{language},
			DecodingConfig: &speechpb.RecognitionConfig_AutoDecodingConfig{
				AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{},
			},
			Features: &speechpb.RecognitionFeatures{
				EnableWordTimeOffsets:      opts.WordTimestamps,
				EnableAutomaticPunctuation: true,
			},
		},
		AudioSource: &speechpb.RecognizeRequest_Content{Content: content},
	})
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	return segmentsFromResponse(resp), nil
}

func segmentsFromResponse(resp *speechpb.RecognizeResponse) []transcriber.Segment {
	var segments []transcriber.Segment
	var prevEnd float64
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		best := alts[0]
		seg := transcriber.Segment{
			Text:  best.GetTranscript(),
			Start: prevEnd,
			End:   prevEnd,
		}
		if result.GetResultEndOffset() != nil {
			seg.End = result.GetResultEndOffset().AsDuration().Seconds()
		}
		for _, w := range best.GetWords() {
			seg.Words = append(seg.Words, transcriber.Word{
				Text:  w.GetWord(),
				Start: w.GetStartOffset().AsDuration().Seconds(),
				End:   w.GetEndOffset().AsDuration().Seconds(),
			})
		}
		if len(seg.Words) > 0 {
			seg.Start = seg.Words[0].Start
		}
		prevEnd = seg.End
		segments = append(segments, seg)
	}
	return segments
}

func (t *CloudSpeechTranscriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	t.recognize = nil
	return err
}
