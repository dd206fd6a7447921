package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dharsanguruparan/MediaVault/internal/s3storage"
)

// Artifacts extracts audio with ffmpeg and stores artifacts through the
// object store. It implements the orchestrator's ArtifactStore contract.
type Artifacts struct {
	ffmpegPath string
	runner     commandRunner
	store      *s3storage.Storage
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
}

// NewArtifacts constructs the production artifact pipeline.
func NewArtifacts(ffmpegPath string, store *s3storage.Storage) *Artifacts {
	return &Artifacts{
		ffmpegPath: ffmpegPath,
		runner:     &execRunner{},
		store:      store,
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
	}
}

// ExtractAudio pulls the audio track from the source into a temp file, then
// uploads it under a stable per-job key so a retried attempt overwrites
// rather than duplicates.
func (a *Artifacts) ExtractAudio(ctx context.Context, jobID, sourceRef string) (string, error) {
	tempDir, err := a.mkdirTemp("", "mediavault-*")
	if err != nil {
		return "", fmt.Errorf("create temp workspace: %w", err)
	}
	defer a.removeAll(tempDir)

	outPath := filepath.Join(tempDir, jobID+".mp3")
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", sourceRef,
		"-vn",
		"-c:a", "libmp3lame",
		"-q:a", "4",
		outPath,
	}
	result, err := a.runner.Run(ctx, a.ffmpegPath, args...)
	if err != nil {
		return "", fmt.Errorf("ffmpeg extract for job %s (exit=%d): %w\n%s",
			jobID, result.ExitCode, err, tail(result.Stderr))
	}

	f, err := os.Open(outPath)
	if err != nil {
		return "", fmt.Errorf("ffmpeg completed but output is missing: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat extracted audio: %w", err)
	}

	key := s3storage.AudioPrefix + jobID + ".mp3"
	if err := a.store.UploadAudio(ctx, key, f, info.Size()); err != nil {
		return "", err
	}
	return key, nil
}

// StoreTranscript uploads transcript text under the job's transcript key.
func (a *Artifacts) StoreTranscript(ctx context.Context, jobID, text string) (string, error) {
	key := s3storage.TranscriptPrefix + jobID + ".txt"
	if err := a.store.UploadTranscript(ctx, key, []byte(text)); err != nil {
		return "", err
	}
	return key, nil
}

// LoadTranscript fetches a previously stored transcript.
func (a *Artifacts) LoadTranscript(ctx context.Context, key string) (string, error) {
	return a.store.DownloadTranscript(ctx, key)
}

// IssueSignedURL presigns a GET URL for an artifact key.
func (a *Artifacts) IssueSignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	return a.store.PresignURL(ctx, key, ttl)
}

// tail keeps error messages readable when ffmpeg dumps a long stderr.
func tail(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
