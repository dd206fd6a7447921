// Package transcription converts stored audio artifacts into text using the
// OpenAI transcription API.
package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// DefaultModel is the transcription model used unless overridden.
const DefaultModel = "whisper-1"

// DefaultTimeout bounds one transcription API call.
const DefaultTimeout = 5 * time.Minute

// ErrAPIKeyNotSet is returned when no API key was configured.
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set")

// AudioDownloader fetches extracted audio bytes by artifact key.
type AudioDownloader interface {
	DownloadAudio(ctx context.Context, objectKey string) ([]byte, error)
}

// Whisper is a Transcriber backed by the OpenAI audio API.
type Whisper struct {
	client  openai.Client
	store   AudioDownloader
	model   string
	timeout time.Duration
}

// NewWhisper constructs a Whisper transcriber.
func NewWhisper(apiKey string, store AudioDownloader, timeout time.Duration) (*Whisper, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Whisper{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		store:   store,
		model:   DefaultModel,
		timeout: timeout,
	}, nil
}

// Transcribe downloads the audio artifact and sends it to the API, returning
// the transcript text.
func (w *Whisper) Transcribe(ctx context.Context, audioKey string) (string, error) {
	data, err := w.store.DownloadAudio(ctx, audioKey)
	if err != nil {
		return "", fmt.Errorf("download audio %s: %w", audioKey, err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	resp, err := w.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(w.model),
		File:  openai.File(bytes.NewReader(data), path.Base(audioKey), "audio/mpeg"),
	})
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", audioKey, err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("transcription for %s came back empty", audioKey)
	}
	return text, nil
}
