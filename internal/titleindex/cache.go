package titleindex

import (
	"bufio"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// cacheVersion is the index cache format version. Bump when the on-disk
// layout changes.
const cacheVersion = 2

// decodeSlack is how far past the file size decoding may read before the
// cache is considered corrupt.
const decodeSlack = 1024

type cacheMetadata struct {
	Version       uint32
	InputPath     string
	InputMtime    int64
	InputSize     int64
	ArticleCount  int
	RedirectCount int
}

type cacheFile struct {
	Metadata  cacheMetadata
	Articles  map[string]uint32
	Redirects map[string]string
}

// CachePath returns the index cache path for an output directory.
func CachePath(outputDir string) string {
	return filepath.Join(outputDir, "index.cache")
}

func inputFingerprint(inputPath string) (int64, int64, errors.E) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return 0, 0, errors.WithMessage(err, "stat input")
	}
	return info.ModTime().Unix(), info.Size(), nil
}

// TryLoad loads the cached index when the cache exists and matches the live
// input's path, mtime, and size. Every failure (missing file, corrupt data,
// version or fingerprint mismatch) is a cache miss, never an error: the cache
// is an optimization, not an authority.
func TryLoad(logger zerolog.Logger, cachePath, inputPath string) *Index {
	info, err := os.Stat(cachePath)
	if err != nil {
		return nil
	}

	file, err := os.Open(cachePath)
	if err != nil {
		logger.Warn().Err(err).Str("path", cachePath).Msg("cannot open index cache")
		return nil
	}
	defer file.Close()

	// The decode limit defends against allocating based on corrupt length
	// prefixes: a valid cache never decodes past its own size.
	var cache cacheFile
	decoder := gob.NewDecoder(bufio.NewReader(io.LimitReader(file, info.Size()+decodeSlack)))
	if err := decoder.Decode(&cache); err != nil {
		logger.Warn().Err(err).Str("path", cachePath).Msg("index cache is corrupt or unreadable")
		return nil
	}

	if cache.Metadata.Version != cacheVersion {
		logger.Info().Uint32("cached", cache.Metadata.Version).Uint32("current", cacheVersion).Msg("index cache version mismatch")
		return nil
	}
	if cache.Metadata.InputPath != inputPath {
		logger.Info().Str("cached", cache.Metadata.InputPath).Str("current", inputPath).Msg("index cache input path mismatch")
		return nil
	}
	mtime, size, errE := inputFingerprint(inputPath)
	if errE != nil {
		logger.Warn().Err(errE).Msg("cannot fingerprint input")
		return nil
	}
	if cache.Metadata.InputMtime != mtime || cache.Metadata.InputSize != size {
		logger.Info().
			Int64("cachedMtime", cache.Metadata.InputMtime).Int64("currentMtime", mtime).
			Int64("cachedSize", cache.Metadata.InputSize).Int64("currentSize", size).
			Msg("input has changed since index cache was created")
		return nil
	}

	logger.Info().
		Int("articles", cache.Metadata.ArticleCount).
		Int("redirects", cache.Metadata.RedirectCount).
		Msg("index loaded from cache")

	return FromSnapshot(cache.Articles, cache.Redirects)
}

// Save persists the index to <outputDir>/index.cache, written to a temporary
// file and renamed. The index's maps are serialized in place, without
// duplicating their contents.
func Save(logger zerolog.Logger, index *Index, inputPath, outputDir string) errors.E {
	path := CachePath(outputDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:mnd
		return errors.WithStack(err)
	}

	mtime, size, errE := inputFingerprint(inputPath)
	if errE != nil {
		return errE
	}

	articles, redirects := index.Snapshot()
	articleCount, redirectCount := index.Stats()
	cache := cacheFile{
		Metadata: cacheMetadata{
			Version:       cacheVersion,
			InputPath:     inputPath,
			InputMtime:    mtime,
			InputSize:     size,
			ArticleCount:  articleCount,
			RedirectCount: redirectCount,
		},
		Articles:  articles,
		Redirects: redirects,
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return errors.WithMessage(err, "create temporary index cache")
	}
	writer := bufio.NewWriter(file)
	if err := gob.NewEncoder(writer).Encode(&cache); err == nil {
		err = writer.Flush()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return errors.WithMessage(err, "write index cache")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.WithStack(err)
	}

	logger.Info().
		Int("articles", articleCount).
		Int("redirects", redirectCount).
		Str("path", path).
		Msg("index cache saved")

	return nil
}
