package transcriber

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/foxseedlab/kikitori/internal/transcriber"
)

//go:embed assets/faster_whisper.py
var fasterWhisperScript []byte

type FasterWhisperConfig struct {
	Python      string
	Model       string
	Device      string
	ComputeType string
}

// FasterWhisperTranscriber drives a long-lived python helper so the model is
// loaded once per process. Requests are serialized.
type FasterWhisperTranscriber struct {
	cfg  FasterWhisperConfig
	mu   sync.Mutex
	proc *helperProcess
}

type helperProcess struct {
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	stdin      io.WriteCloser
	stdout     *bufio.Reader
	scriptPath string
}

type helperRequest struct {
	Audio             string  `json:"audio"`
	Language          string  `json:"language,omitempty"`
	BeamSize          int     `json:"beam_size"`
	Temperature       float64 `json:"temperature"`
	NoSpeechThreshold float64 `json:"no_speech_threshold"`
	WordTimestamps    bool    `json:"word_timestamps"`
}

type helperResponse struct {
	Ready    bool   `json:"ready"`
	Error    string `json:"error"`
	Language string `json:"language"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Words []struct {
			Text  string  `json:"text"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"words"`
	} `json:"segments"`
}

func NewFasterWhisperTranscriber(cfg FasterWhisperConfig) *FasterWhisperTranscriber {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	return &FasterWhisperTranscriber{cfg: cfg}
}

func (t *FasterWhisperTranscriber) Transcribe(ctx context.Context, audioPath string, opts transcriber.Options) ([]transcriber.Segment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.proc == nil {
		proc, err := t.startHelper(ctx)
		if err != nil {
			return nil, err
		}
		t.proc = proc
	}

	line, err := json.Marshal(helperRequest{
		Audio:             audioPath,
		Language:          opts.Language,
		BeamSize:          opts.BeamSize,
		Temperature:       opts.Temperature,
		NoSpeechThreshold: opts.NoSpeechThreshold,
		WordTimestamps:    opts.WordTimestamps,
	})
	if err != nil {
		return nil, fmt.Errorf("encode helper request: %w", err)
	}
	if _, err := t.proc.stdin.Write(append(line, '\n')); err != nil {
		t.killLocked()
		return nil, fmt.Errorf("write helper request: %w", err)
	}

	resp, err := t.proc.await(ctx)
	if err != nil && errors.Is(err, ctx.Err()) {
		// await already stopped the helper mid-request.
		t.proc = nil
		return nil, err
	}
	if err != nil {
		t.killLocked()
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("faster-whisper failed: %s", resp.Error)
	}
	return toSegments(resp), nil
}

func (t *FasterWhisperTranscriber) startHelper(ctx context.Context) (*helperProcess, error) {
	f, err := os.CreateTemp("", "kikitori_faster_whisper_*.py")
	if err != nil {
		return nil, fmt.Errorf("create helper script: %w", err)
	}
	if _, err := f.Write(fasterWhisperScript); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("write helper script: %w", err)
	}
	_ = f.Close()

	procCtx, cancel := context.WithCancel(context.Background())
	args := []string{f.Name(), "--model", t.cfg.Model, "--device", t.cfg.Device, "--compute-type", t.cfg.ComputeType}
	cmd := exec.CommandContext(procCtx, t.cfg.Python, args...)
	cmd.Env = os.Environ()
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("helper stdin: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("helper stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("run helper: %w", err)
	}
	proc := &helperProcess{
		cmd:        cmd,
		cancel:     cancel,
		stdin:      stdin,
		stdout:     bufio.NewReader(stdoutPipe),
		scriptPath: f.Name(),
	}

	slog.Info("loading faster-whisper model", "model", t.cfg.Model, "device", t.cfg.Device, "compute_type", t.cfg.ComputeType)
	ready, err := proc.await(ctx)
	if err != nil && errors.Is(err, ctx.Err()) {
		return nil, fmt.Errorf("faster-whisper helper did not start: %w", err)
	}
	if err != nil {
		proc.stop()
		return nil, fmt.Errorf("faster-whisper helper did not start: %w", err)
	}
	if ready.Error != "" || !ready.Ready {
		proc.stop()
		return nil, fmt.Errorf("faster-whisper helper did not start: %s", ready.Error)
	}
	slog.Info("faster-whisper model loaded", "model", t.cfg.Model)
	return proc, nil
}

// await reads one response line. When ctx ends first the helper is stopped,
// since it can no longer be kept in sync with its requests.
func (p *helperProcess) await(ctx context.Context) (helperResponse, error) {
	type result struct {
		resp helperResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		r.resp, r.err = readResponse(p.stdout)
		done <- r
	}()

	select {
	case <-ctx.Done():
		p.stop()
		<-done
		return helperResponse{}, ctx.Err()
	case r := <-done:
		return r.resp, r.err
	}
}

func readResponse(r *bufio.Reader) (helperResponse, error) {
	var resp helperResponse
	line, err := r.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return resp, errors.New("helper exited")
		}
		return resp, fmt.Errorf("read helper output: %w", err)
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		return resp, fmt.Errorf("parse helper output: %w", err)
	}
	return resp, nil
}

func toSegments(resp helperResponse) []transcriber.Segment {
	segments := make([]transcriber.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		seg := transcriber.Segment{Text: s.Text, Start: s.Start, End: s.End}
		for _, w := range s.Words {
			seg.Words = append(seg.Words, transcriber.Word{Text: w.Text, Start: w.Start, End: w.End})
		}
		segments = append(segments, seg)
	}
	return segments
}

func (t *FasterWhisperTranscriber) killLocked() {
	if t.proc == nil {
		return
	}
	t.proc.stop()
	t.proc = nil
}

func (p *helperProcess) stop() {
	_ = p.stdin.Close()
	p.cancel()
	_ = p.cmd.Wait()
	_ = os.Remove(p.scriptPath)
}

// Close terminates the helper process if one is running.
func (t *FasterWhisperTranscriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.killLocked()
	return nil
}
