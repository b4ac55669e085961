package transcriber

import (
	"fmt"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcriber.Transcriber, error) {
		c := do.MustInvoke[*config.Config](i)
		switch c.TranscriberBackend {
		case config.TranscriberBackendFasterWhisper:
			return NewFasterWhisperTranscriber(FasterWhisperConfig{
				Python:      c.WhisperPython,
				Model:       c.WhisperModel,
				Device:      c.WhisperDevice,
				ComputeType: c.WhisperComputeType,
			}), nil
		case config.TranscriberBackendCloudSpeech:
			return NewCloudSpeechTranscriber(CloudSpeechConfig{
				ProjectID:       c.GoogleCloudProjectID,
				CredentialsJSON: c.GoogleCloudCredentials,
				Location:        c.GoogleCloudSpeechRegion,
				Model:           c.GoogleCloudSpeechModel,
			}), nil
		default:
			return nil, fmt.Errorf("unsupported transcriber backend %q", c.TranscriberBackend)
		}
	})
}
