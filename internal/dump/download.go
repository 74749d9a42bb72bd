package dump

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"
)

// CachedDownload makes sure the dump named by input is available as a local
// file and returns its path. Local paths are returned as-is. An http(s) URL
// is downloaded into cacheDir once; later runs reuse the cached file.
//
// The file is downloaded to a temporary name and renamed only after the whole
// response has been received, so a cached file is always complete.
func CachedDownload(ctx context.Context, logger zerolog.Logger, httpClient *retryablehttp.Client, cacheDir, input string) (string, errors.E) {
	if _, err := os.Stat(input); err == nil {
		return input, nil
	}
	if !strings.HasPrefix(input, "https://") && !strings.HasPrefix(input, "http://") {
		return "", errors.Errorf(`input does not exist: %s`, input)
	}

	cachedPath := filepath.Join(cacheDir, path.Base(input))
	if _, err := os.Stat(cachedPath); err == nil {
		logger.Info().Str("path", cachedPath).Msg("using cached dump")
		return cachedPath, nil
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil { //nolint:mnd
		return "", errors.WithStack(err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, input, nil)
	if err != nil {
		return "", errors.WithStack(err)
	}
	resp, errE := x.NewRetryableResponse(httpClient, req)
	if errE != nil {
		return "", errE
	}
	defer resp.Close()

	counting := &x.CountingReader{Reader: resp}
	ticker := x.NewTicker(ctx, counting, x.NewCounter(resp.Size()), ProgressPrintRate)
	defer ticker.Stop()
	go func() {
		for p := range ticker.C {
			logger.Info().
				Int64("count", p.Count).
				Int64("total", resp.Size()).
				Str("eta", p.Remaining().Truncate(time.Second).String()).
				Str("url", input).
				Msgf("downloading %0.2f%%", p.Percent())
		}
	}()

	tmpPath := cachedPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return "", errors.WithStack(err)
	}
	written, err := io.Copy(file, counting)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err == nil && written != resp.Size() {
		err = errors.Errorf(`download incomplete: %d of %d bytes`, written, resp.Size())
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", errors.WithMessage(err, "download dump")
	}
	if err := os.Rename(tmpPath, cachedPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", errors.WithStack(err)
	}

	logger.Info().Str("url", input).Int64("total", written).Msg("download done")
	return cachedPath, nil
}
