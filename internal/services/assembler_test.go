package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bobarin/longcut/internal/apperrors"
	"github.com/bobarin/longcut/internal/models"
)

type mockDownloader struct {
	mock.Mock
}

func (m *mockDownloader) Download(ctx context.Context, url, destination string) (int64, error) {
	args := m.Called(ctx, url, destination)
	return int64(args.Int(0)), args.Error(1)
}

var assemblyStart = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func TestAssemble_KeepsGivenOrder(t *testing.T) {
	tool := &fakeMediaTool{}
	dir := t.TempDir()
	clips := []string{"c3.mp4", "c1.mp4", "c2.mp4", "c1.mp4"}

	out, err := NewAssembler(tool, EncodeOptions{}, zap.NewNop()).Assemble(context.Background(), clips, dir, assemblyStart)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "final_20260314_092653.mp4"), out)
	require.Len(t, tool.concatArgs, 1)
	assert.Equal(t, clips, tool.concatArgs[0])
}

func TestAssemble_PassesScaleOverride(t *testing.T) {
	tool := &fakeMediaTool{}
	opts := EncodeOptions{ScaleWidth: 1280, ScaleHeight: 720}

	_, err := NewAssembler(tool, opts, zap.NewNop()).Assemble(context.Background(), []string{"a.mp4"}, t.TempDir(), assemblyStart)

	require.NoError(t, err)
	assert.Equal(t, []EncodeOptions{opts}, tool.concatOpts)
}

func TestAssemble_Errors(t *testing.T) {
	a := NewAssembler(&fakeMediaTool{}, EncodeOptions{}, zap.NewNop())
	_, err := a.Assemble(context.Background(), nil, t.TempDir(), assemblyStart)
	assert.True(t, apperrors.Is(err, apperrors.KindProcessing))

	failing := NewAssembler(&fakeMediaTool{concatErr: errors.New("exit status 1")}, EncodeOptions{}, zap.NewNop())
	_, err = failing.Assemble(context.Background(), []string{"a.mp4"}, t.TempDir(), assemblyStart)
	assert.True(t, apperrors.Is(err, apperrors.KindProcessing))
	assert.Equal(t, "assemble", apperrors.StageOf(err))
}

func TestMix_SkipsWhenInactive(t *testing.T) {
	for _, bgm := range []models.BGMConfig{
		{Enabled: false, URL: "https://cdn/track.mp3", Volume: 0.3},
		{Enabled: true, URL: "  ", Volume: 0.3},
	} {
		tool := &fakeMediaTool{}
		dl := &mockDownloader{}

		out, err := NewAudioMixer(tool, dl, zap.NewNop()).Mix(context.Background(), "/w/final.mp4", bgm, "/w")

		require.NoError(t, err)
		assert.Equal(t, "/w/final.mp4", out)
		assert.Empty(t, tool.mixed)
		dl.AssertNotCalled(t, "Download", mock.Anything, mock.Anything, mock.Anything)
	}
}

func TestMix_DownloadsAndMixes(t *testing.T) {
	dir := t.TempDir()
	tool := &fakeMediaTool{}
	dl := &mockDownloader{}
	dl.On("Download", mock.Anything, "https://cdn/track.wav?sig=1", filepath.Join(dir, "bgm.wav")).Return(1024, nil)

	assembled := filepath.Join(dir, "final_20260314_092653.mp4")
	out, err := NewAudioMixer(tool, dl, zap.NewNop()).Mix(context.Background(), assembled,
		models.BGMConfig{Enabled: true, URL: "https://cdn/track.wav?sig=1", Volume: 0.35}, dir)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "final_20260314_092653_bgm.mp4"), out)
	assert.Equal(t, []float64{0.35}, tool.mixed)
	dl.AssertExpectations(t)
}

func TestMix_DownloadFailure(t *testing.T) {
	dl := &mockDownloader{}
	dl.On("Download", mock.Anything, mock.Anything, mock.Anything).
		Return(0, apperrors.Download("unexpected response", 404, nil))
	tool := &fakeMediaTool{}

	_, err := NewAudioMixer(tool, dl, zap.NewNop()).Mix(context.Background(), "/w/final.mp4",
		models.BGMConfig{Enabled: true, URL: "https://cdn/gone.mp3", Volume: 0.2}, t.TempDir())

	assert.True(t, apperrors.Is(err, apperrors.KindDownload))
	assert.Empty(t, tool.mixed)
}

func TestTrackExt(t *testing.T) {
	assert.Equal(t, ".mp3", trackExt("https://cdn/a.mp3"))
	assert.Equal(t, ".m4a", trackExt("https://cdn/a.M4A?x=1"))
	assert.Equal(t, ".mp3", trackExt("https://cdn/stream"))
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "final_20260314_092653_1b4e28ba.mp4", ArtifactName(assemblyStart, "1b4e28ba-2fa1-11d2-883f-0016d3cca427"))
}
