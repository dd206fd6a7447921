package media

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/MediaVault/internal/orchestrator"
)

type fakeRunner struct {
	result commandResult
	err    error

	gotName string
	gotArgs []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (commandResult, error) {
	f.gotName = name
	f.gotArgs = args
	return f.result, f.err
}

func TestResolveParsesProbeOutput(t *testing.T) {
	runner := &fakeRunner{result: commandResult{
		Stdout: `{"format":{"duration":"754.37","tags":{"title":"Launch Retro","artist":"acme-media"}}}`,
	}}
	r := &FFprobeResolver{ffprobePath: "ffprobe", runner: runner}

	meta, err := r.Resolve(context.Background(), "https://media.example/watch?v=abc123")
	require.NoError(t, err)
	assert.Equal(t, "Launch Retro", meta.Title)
	assert.Equal(t, "acme-media", meta.Uploader)
	assert.Equal(t, 755, meta.DurationSeconds)

	assert.Equal(t, "ffprobe", runner.gotName)
	assert.Contains(t, runner.gotArgs, "-show_format")
	assert.Equal(t, "https://media.example/watch?v=abc123", runner.gotArgs[len(runner.gotArgs)-1])
}

func TestResolveMalformedOutputIsPermanent(t *testing.T) {
	runner := &fakeRunner{result: commandResult{Stdout: "not json at all"}}
	r := &FFprobeResolver{ffprobePath: "ffprobe", runner: runner}

	_, err := r.Resolve(context.Background(), "https://media.example/watch?v=abc123")
	require.Error(t, err)
	assert.True(t, orchestrator.IsPermanent(err))
}

func TestResolveMissingDurationIsPermanent(t *testing.T) {
	runner := &fakeRunner{result: commandResult{Stdout: `{"format":{"tags":{"title":"x"}}}`}}
	r := &FFprobeResolver{ffprobePath: "ffprobe", runner: runner}

	_, err := r.Resolve(context.Background(), "https://media.example/watch?v=abc123")
	require.Error(t, err)
	assert.True(t, orchestrator.IsPermanent(err))
}

func TestResolveCommandFailureIsTransient(t *testing.T) {
	runner := &fakeRunner{
		result: commandResult{ExitCode: 1, Stderr: "connection reset"},
		err:    errors.New("exit status 1"),
	}
	r := &FFprobeResolver{ffprobePath: "ffprobe", runner: runner}

	_, err := r.Resolve(context.Background(), "https://media.example/watch?v=abc123")
	require.Error(t, err)
	assert.False(t, orchestrator.IsPermanent(err))
}
