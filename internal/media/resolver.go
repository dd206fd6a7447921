package media

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/dharsanguruparan/MediaVault/internal/orchestrator"
)

// FFprobeResolver resolves title, uploader, and duration for a source
// reference by probing it with ffprobe.
type FFprobeResolver struct {
	ffprobePath string
	runner      commandRunner
}

// NewFFprobeResolver constructs a resolver using the ffprobe binary at path.
func NewFFprobeResolver(path string) *FFprobeResolver {
	return &FFprobeResolver{ffprobePath: path, runner: &execRunner{}}
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		Tags     struct {
			Title  string `json:"title"`
			Artist string `json:"artist"`
		} `json:"tags"`
	} `json:"format"`
}

// Resolve probes the source. A probe that runs but returns unusable output
// means the source itself is bad, which no retry will fix; that surfaces as a
// permanent error. A failed invocation stays transient.
func (r *FFprobeResolver) Resolve(ctx context.Context, sourceRef string) (orchestrator.Metadata, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-print_format", "json",
		"-show_format",
		sourceRef,
	}
	result, err := r.runner.Run(ctx, r.ffprobePath, args...)
	if err != nil {
		return orchestrator.Metadata{}, fmt.Errorf("ffprobe %s (exit=%d): %w", sourceRef, result.ExitCode, err)
	}

	var out probeOutput
	if err := json.Unmarshal([]byte(result.Stdout), &out); err != nil {
		return orchestrator.Metadata{}, orchestrator.Permanent(
			fmt.Errorf("ffprobe output for %s is not valid json: %w", sourceRef, err))
	}
	seconds, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil || seconds <= 0 {
		return orchestrator.Metadata{}, orchestrator.Permanent(
			fmt.Errorf("ffprobe reported no usable duration for %s", sourceRef))
	}

	return orchestrator.Metadata{
		Title:           out.Format.Tags.Title,
		Uploader:        out.Format.Tags.Artist,
		DurationSeconds: int(math.Ceil(seconds)),
	}, nil
}
