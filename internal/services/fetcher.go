package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/bobarin/longcut/internal/apperrors"
)

const (
	downloadChunkSize   = 1 << 20 // 1 MiB
	downloadHTTPTimeout = 10 * time.Minute
)

// ArtifactFetcher streams remote artifacts to local files.
type ArtifactFetcher struct {
	http       *resty.Client
	maxRetries int
	logger     *zap.Logger
	sleep      sleepFunc
}

func NewArtifactFetcher(maxRetries int, logger *zap.Logger) *ArtifactFetcher {
	return &ArtifactFetcher{
		http:       resty.New().SetTimeout(downloadHTTPTimeout),
		maxRetries: maxRetries,
		logger:     logger.Named("fetcher"),
		sleep:      sleepCtx,
	}
}

// Download copies url into destination and returns the number of bytes
// written. Data lands in destination+".part" first and is renamed only after
// the whole body was received, so a failed transfer never leaves a file at
// destination.
func (f *ArtifactFetcher) Download(ctx context.Context, url, destination string) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			f.logger.Warn("retrying download", zap.String("url", truncate(url, 120)),
				zap.Int("attempt", attempt), zap.Duration("wait", delay), zap.Error(lastErr))
			if err := f.sleep(ctx, delay); err != nil {
				return 0, apperrors.Wrap(apperrors.KindCancelled, "download cancelled", err).WithStage("download")
			}
		}

		n, err := f.downloadOnce(ctx, url, destination)
		if err == nil {
			f.logger.Info("download complete", zap.String("path", destination), zap.Int64("bytes", n))
			return n, nil
		}
		lastErr = err
		if ctx.Err() != nil || !apperrors.Retryable(err) {
			break
		}
	}
	return 0, lastErr
}

func (f *ArtifactFetcher) downloadOnce(ctx context.Context, url, destination string) (int64, error) {
	resp, err := f.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return 0, apperrors.Wrap(apperrors.KindCancelled, "download cancelled", ctx.Err()).WithStage("download")
		}
		return 0, apperrors.Download("request failed", 0, err).WithStage("download")
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return 0, apperrors.Download(fmt.Sprintf("unexpected response fetching %s", truncate(url, 120)), resp.StatusCode(), nil).WithStage("download")
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return 0, apperrors.Processing("create destination dir", err).WithStage("download")
	}

	partPath := destination + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return 0, apperrors.Processing("create partial file", err).WithStage("download")
	}

	dst := &fileWriter{w: out}
	n, copyErr := io.CopyBuffer(dst, body, make([]byte, downloadChunkSize))
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(partPath)
		switch {
		case ctx.Err() != nil:
			return 0, apperrors.Wrap(apperrors.KindCancelled, "download cancelled", ctx.Err()).WithStage("download")
		case dst.err != nil:
			return 0, apperrors.Processing("write partial file", dst.err).WithStage("download")
		case copyErr != nil:
			return 0, apperrors.Download("stream interrupted", 0, copyErr).WithStage("download")
		default:
			return 0, apperrors.Processing("close partial file", closeErr).WithStage("download")
		}
	}

	if err := os.Rename(partPath, destination); err != nil {
		os.Remove(partPath)
		return 0, apperrors.Processing("finalize download", err).WithStage("download")
	}
	return n, nil
}

// fileWriter remembers write failures so they are not mistaken for a broken
// stream.
type fileWriter struct {
	w   io.Writer
	err error
}

func (fw *fileWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err != nil {
		fw.err = err
	}
	return n, err
}
