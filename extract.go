package wikigraph

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/wikigraph/wikigraph/internal/checkpoint"
	"gitlab.com/wikigraph/wikigraph/internal/dump"
	"gitlab.com/wikigraph/wikigraph/internal/extractor"
	"gitlab.com/wikigraph/wikigraph/internal/stats"
	"gitlab.com/wikigraph/wikigraph/internal/titleindex"
)

const (
	clientRetryWaitMax = 5 * time.Minute
	clientRetryMax     = 10
)

// Run executes the extraction pipeline: pass 1 builds or loads the title
// index, pass 2 extracts nodes, edges, side-entities, and blobs, and a clean
// finish removes the checkpoint.
func (c *ExtractCommand) Run(globals *Globals) errors.E {
	logger := globals.Logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel on SIGINT or SIGTERM signal.
	go func() {
		s := make(chan os.Signal, 1)
		defer close(s)

		signal.Notify(s, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(s)

		select {
		case <-s:
			cancel()
		case <-ctx.Done():
		}
	}()

	if c.Clean {
		if _, err := os.Stat(c.Output); err == nil {
			logger.Info().Str("dir", c.Output).Msg("cleaning output directory")
			if err := os.RemoveAll(c.Output); err != nil {
				return errors.WithMessage(err, "clean output directory")
			}
		}
	}
	if err := os.MkdirAll(c.Output, 0o755); err != nil { //nolint:mnd
		return errors.WithMessage(err, "create output directory")
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryWaitMax = clientRetryWaitMax
	httpClient.RetryMax = clientRetryMax
	httpClient.Logger = nil

	inputPath, errE := dump.CachedDownload(ctx, logger, httpClient, globals.CacheDir, c.Input)
	if errE != nil {
		return errE
	}

	indexingStart := time.Now()
	index, errE := c.loadOrBuildIndex(logger, inputPath)
	if errE != nil {
		return errE
	}
	indexingDuration := time.Since(indexingStart)

	var manager *checkpoint.Manager
	if !c.DryRun {
		manager, errE = checkpoint.NewManager(logger, inputPath, c.Output, c.ShardCount, c.CSVShards, c.CheckpointInterval)
		if errE != nil {
			return errE
		}
	}

	var resumeAfterID uint32
	var resumeStats *stats.Snapshot
	if c.Resume && !c.Clean {
		if cp := checkpoint.LoadIfValid(logger, inputPath, c.Output, c.ShardCount, c.CSVShards); cp != nil {
			logger.Info().Uint32("lastID", cp.LastProcessedID).Uint64("articles", cp.Stats.ArticlesProcessed).Msg("resuming from checkpoint")
			resumeAfterID = cp.LastProcessedID
			resumeStats = &cp.Stats
			if manager != nil {
				manager.SetLastID(cp.LastProcessedID)
			}
		} else {
			logger.Info().Msg("no valid checkpoint found, starting fresh")
		}
	}

	logger.Info().Msg("starting extraction pass")
	extractionStart := time.Now()
	s, errE := extractor.Run(ctx, logger, extractor.Options{
		InputPath:     inputPath,
		OutputDir:     c.Output,
		Index:         index,
		ShardCount:    c.ShardCount,
		CSVShardCount: c.CSVShards,
		Limit:         c.Limit,
		Workers:       c.Workers,
		DryRun:        c.DryRun,
		ResumeAfterID: resumeAfterID,
		ResumeStats:   resumeStats,
		Checkpoints:   manager,
	})
	if errE != nil {
		return errE
	}
	extractionDuration := time.Since(extractionStart)

	logger.Info().
		Dur("indexing", indexingDuration).
		Dur("extraction", extractionDuration).
		Uint64("articles", s.Articles()).
		Uint64("edges", s.Edges()).
		Uint64("seeAlsoEdges", s.SeeAlsoEdges()).
		Uint64("blobs", s.Blobs()).
		Uint64("invalidLinks", s.Invalid()).
		Uint64("categories", s.Categories()).
		Uint64("categoryEdges", s.CategoryEdges()).
		Uint64("infoboxes", s.Infoboxes()).
		Uint64("images", s.Images()).
		Uint64("externalLinks", s.ExternalLinks()).
		Msg("extraction summary")

	return nil
}

// loadOrBuildIndex is pass 1. The cache is consulted unless disabled; a
// build failure is fatal, a cache save failure only logs.
func (c *ExtractCommand) loadOrBuildIndex(logger zerolog.Logger, inputPath string) (*titleindex.Index, errors.E) {
	if !c.NoCache {
		if index := titleindex.TryLoad(logger, titleindex.CachePath(c.Output), inputPath); index != nil {
			return index, nil
		}
		logger.Info().Msg("building index (cache miss or invalid)")
	} else {
		logger.Info().Msg("cache disabled, building fresh index")
	}

	index, errE := titleindex.Build(logger, inputPath)
	if errE != nil {
		return nil, errE
	}
	if !c.DryRun {
		if errE := titleindex.Save(logger, index, inputPath, c.Output); errE != nil {
			logger.Warn().Err(errE).Msg("cannot save index cache")
		}
	}
	return index, nil
}
