// Package extractor implements the parallel extraction pass: it re-streams
// the dump, resolves wikilinks against the title index, classifies edges,
// deduplicates side-entities, shards CSV output, writes JSON side-blobs, and
// checkpoints progress.
package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"gitlab.com/wikigraph/wikigraph/internal/checkpoint"
	"gitlab.com/wikigraph/wikigraph/internal/dump"
	"gitlab.com/wikigraph/wikigraph/internal/stats"
	"gitlab.com/wikigraph/wikigraph/internal/titleindex"
	"gitlab.com/wikigraph/wikigraph/internal/wikitext"
)

const (
	// DefaultShardCount is the default number of blob shard directories.
	DefaultShardCount = 1000
	// DefaultCSVShardCount is the default number of CSV shards per table.
	DefaultCSVShardCount = 8

	// progressInterval is how many processed articles pass between progress
	// ticks.
	progressInterval = 1000

	writeProbeName = ".write_test"
)

// skipPrefixes are namespace prefixes whose wikilink targets never produce
// article edges.
//
//nolint:gochecknoglobals
var skipPrefixes = []string{
	"Category:",
	"File:",
	"Image:",
	"Template:",
	"Wikipedia:",
	"Help:",
	"Portal:",
	"Draft:",
	"User:",
	"Module:",
	"MediaWiki:",
}

// Options configures one extraction run.
type Options struct {
	InputPath string
	OutputDir string
	Index     *titleindex.Index

	// ShardCount is the number of blob shard directories; CSVShardCount the
	// number of CSV files per table.
	ShardCount    uint32
	CSVShardCount uint32

	// Limit stops admitting pages after this many have been seen. Zero means
	// no limit.
	Limit uint64

	// Workers is the size of the worker pool. Zero means one worker per CPU.
	// On hosts with asymmetric cores, set it to the performance core count;
	// efficiency cores are memory-bandwidth bound on this workload.
	Workers int

	DryRun bool

	// ResumeAfterID admits only pages with a greater id. Zero starts from the
	// beginning.
	ResumeAfterID uint32
	// ResumeStats seeds the counters when resuming from a checkpoint.
	ResumeStats *stats.Snapshot

	// Checkpoints saves periodic progress when non-nil.
	Checkpoints *checkpoint.Manager
}

type engine struct {
	logger zerolog.Logger
	opts   Options
	stats  *stats.Stats

	nodes                *Table
	edges                *Table
	categories           *Table
	articleCategories    *Table
	imageNodes           *Table
	articleImages        *Table
	externalLinkNodes    *Table
	articleExternalLinks *Table

	seenCategories    mapset.Set[string]
	seenImages        mapset.Set[string]
	seenExternalLinks mapset.Set[string]

	maxCompletedID atomic.Uint32
	limitCount     atomic.Uint64

	// warnRate throttles hot-path warnings so a systematically failing disk
	// does not flood the log.
	warnRate rate.Sometimes
}

// Run executes the extraction pass and returns the final statistics.
// Per-page errors (a failed CSV row or blob write) are logged and absorbed;
// one bad page never terminates a multi-hour run.
func Run(ctx context.Context, logger zerolog.Logger, opts Options) (*stats.Stats, errors.E) {
	if opts.ShardCount == 0 {
		opts.ShardCount = DefaultShardCount
	}
	if opts.CSVShardCount == 0 {
		opts.CSVShardCount = DefaultCSVShardCount
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	e := &engine{
		logger:            logger,
		opts:              opts,
		stats:             &stats.Stats{},
		seenCategories:    mapset.NewSet[string](),
		seenImages:        mapset.NewSet[string](),
		seenExternalLinks: mapset.NewSet[string](),
		warnRate:          rate.Sometimes{First: 10, Interval: 10 * time.Second}, //nolint:mnd
	}
	if opts.ResumeStats != nil {
		e.stats.Restore(*opts.ResumeStats)
	}
	e.maxCompletedID.Store(opts.ResumeAfterID)

	if !opts.DryRun {
		if errE := prepareOutputDir(opts.OutputDir, opts.ShardCount); errE != nil {
			return nil, errE
		}
	}

	if errE := e.openTables(); errE != nil {
		return nil, errE
	}
	defer e.closeTables()

	reader, errE := dump.NewReader(logger, opts.InputPath, false)
	if errE != nil {
		return nil, errE
	}
	defer reader.Close()

	tickerCtx, cancelTicker := context.WithCancel(ctx)
	defer cancelTicker()
	ticker := x.NewTicker(tickerCtx, reader.Counter(), x.NewCounter(reader.Size()), dump.ProgressPrintRate)
	defer ticker.Stop()
	go func() {
		for p := range ticker.C {
			logger.Info().
				Uint64("articles", e.stats.Articles()).
				Uint64("edges", e.stats.Edges()).
				Uint64("blobs", e.stats.Blobs()).
				Str("eta", p.Remaining().Truncate(time.Second).String()).
				Msgf("extracting %0.2f%%", p.Percent())
		}
	}()

	pages := make(chan dump.Page, opts.Workers*4) //nolint:mnd
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(pages)
		for reader.Next() {
			select {
			case pages <- reader.Page():
			case <-gCtx.Done():
				return gCtx.Err()
			}
		}
		if errE := reader.Err(); errE != nil {
			// A decode error ends the stream; everything extracted so far
			// stays on disk.
			logger.Warn().Err(errE).Msg("dump ended with decode error")
		}
		return nil
	})
	for i := 0; i < opts.Workers; i++ {
		g.Go(func() error {
			for page := range pages {
				e.processPage(page)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.WithStack(err)
	}

	if errE := e.closeTables(); errE != nil {
		return nil, errE
	}

	if opts.Checkpoints != nil {
		if errE := opts.Checkpoints.Clear(); errE != nil {
			logger.Warn().Err(errE).Msg("cannot clear checkpoint")
		}
	}

	logger.Info().
		Uint64("articles", e.stats.Articles()).
		Uint64("edges", e.stats.Edges()).
		Uint64("seeAlsoEdges", e.stats.SeeAlsoEdges()).
		Uint64("blobs", e.stats.Blobs()).
		Uint64("invalidLinks", e.stats.Invalid()).
		Msg("extraction done")

	return e.stats, nil
}

// prepareOutputDir creates the output directory, proves it is writable, and
// pre-creates every blob shard directory. Creating the shard directories
// once here avoids millions of redundant MkdirAll calls in the hot loop.
func prepareOutputDir(outputDir string, shardCount uint32) errors.E {
	if err := os.MkdirAll(outputDir, 0o755); err != nil { //nolint:mnd
		return errors.WithMessage(err, "create output directory")
	}

	probe := filepath.Join(outputDir, writeProbeName)
	if err := os.WriteFile(probe, []byte{0}, 0o644); err != nil { //nolint:mnd
		return errors.WithMessage(err, "output directory is not writable")
	}
	_ = os.Remove(probe)

	for shard := uint32(0); shard < shardCount; shard++ {
		dir := filepath.Join(outputDir, "blobs", fmt.Sprintf("%03d", shard))
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:mnd
			return errors.WithMessage(err, "create blob shard directory")
		}
	}

	return nil
}

func (e *engine) openTables() errors.E {
	resuming := e.opts.ResumeAfterID > 0
	open := func(base string) (*Table, errors.E) {
		table, errE := OpenTable(e.opts.OutputDir, base, int(e.opts.CSVShardCount), e.opts.DryRun, resuming)
		if errE != nil {
			return nil, errE
		}
		if errE := table.WriteHeaders(tableHeaders[base]); errE != nil {
			table.Close()
			return nil, errE
		}
		return table, nil
	}

	var errE errors.E
	for _, binding := range []struct {
		base  string
		table **Table
	}{
		{"nodes", &e.nodes},
		{"edges", &e.edges},
		{"categories", &e.categories},
		{"article_categories", &e.articleCategories},
		{"image_nodes", &e.imageNodes},
		{"article_images", &e.articleImages},
		{"external_link_nodes", &e.externalLinkNodes},
		{"article_external_links", &e.articleExternalLinks},
	} {
		*binding.table, errE = open(binding.base)
		if errE != nil {
			e.closeTables()
			return errE
		}
	}
	return nil
}

func (e *engine) closeTables() errors.E {
	var firstErr errors.E
	for _, table := range []*Table{
		e.nodes, e.edges, e.categories, e.articleCategories,
		e.imageNodes, e.articleImages, e.externalLinkNodes, e.articleExternalLinks,
	} {
		if table == nil {
			continue
		}
		if errE := table.Close(); errE != nil && firstErr == nil {
			firstErr = errE
		}
	}
	return firstErr
}

func (e *engine) warn(err error, msg string, pageID uint32) {
	e.warnRate.Do(func() {
		e.logger.Warn().Err(err).Uint32("pageID", pageID).Msg(msg)
	})
}

func hasSkippedPrefix(target string) bool {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(target, prefix) {
			return true
		}
	}
	return false
}

func (e *engine) processPage(page dump.Page) {
	// The stream is in file order but parallel consumption may reorder;
	// the filter still admits only pages beyond the resume point.
	if page.ID <= e.opts.ResumeAfterID {
		return
	}

	if e.opts.Limit > 0 && e.limitCount.Add(1) > e.opts.Limit {
		return
	}

	if page.Type != dump.PageTypeArticle {
		return
	}

	e.stats.IncArticles()
	idStr := strconv.FormatUint(uint64(page.ID), 10)

	if err := e.nodes.Shard(page.ID).Write([]string{idStr, page.Title, "Page"}); err != nil {
		e.warn(err, "cannot write node row", page.ID)
	}

	if page.Text != "" {
		e.processText(page, idStr)
	}

	// Running supremum of processed ids, not a contiguous frontier.
	for {
		current := e.maxCompletedID.Load()
		if page.ID <= current || e.maxCompletedID.CompareAndSwap(current, page.ID) {
			break
		}
	}

	if e.opts.Checkpoints != nil {
		if _, errE := e.opts.Checkpoints.MaybeSave(e.maxCompletedID.Load(), e.stats); errE != nil {
			e.warn(errE, "cannot save checkpoint", page.ID)
		}
	}

	if articles := e.stats.Articles(); articles%progressInterval == 0 {
		e.logger.Debug().
			Uint64("articles", articles).
			Uint64("edges", e.stats.Edges()).
			Uint64("invalidLinks", e.stats.Invalid()).
			Msg("extracting")
	}
}

func (e *engine) processText(page dump.Page, idStr string) {
	text := page.Text

	e.processLinks(page, idStr, text)

	categories := wikitext.ExtractCategories(text)
	e.processEntities(page, idStr, categories, entityTables{
		nodes:    e.categories,
		edges:    e.articleCategories,
		seen:     e.seenCategories,
		label:    "Category",
		edgeType: "HAS_CATEGORY",
		addNodes: e.stats.AddCategories,
		addEdges: e.stats.AddCategoryEdges,
	})
	e.processEntities(page, idStr, wikitext.ExtractImages(text), entityTables{
		nodes:    e.imageNodes,
		edges:    e.articleImages,
		seen:     e.seenImages,
		label:    "Image",
		edgeType: "HAS_IMAGE",
		addNodes: e.stats.AddImages,
		addEdges: func(uint64) {},
	})
	e.processEntities(page, idStr, wikitext.ExtractExternalLinks(text), entityTables{
		nodes:    e.externalLinkNodes,
		edges:    e.articleExternalLinks,
		seen:     e.seenExternalLinks,
		label:    "ExternalLink",
		edgeType: "HAS_LINK",
		addNodes: e.stats.AddExternalLinks,
		addEdges: func(uint64) {},
	})

	infoboxes := wikitext.ExtractInfoboxes(text)
	e.stats.AddInfoboxes(uint64(len(infoboxes)))

	if e.opts.DryRun {
		return
	}

	blob := &ArticleBlob{
		ID:               page.ID,
		Title:            page.Title,
		AbstractText:     wikitext.ExtractAbstract(text),
		Categories:       categories,
		Infoboxes:        infoboxes,
		Sections:         wikitext.ExtractSections(text),
		Timestamp:        page.Timestamp,
		IsDisambiguation: wikitext.IsDisambiguation(text),
	}
	if errE := writeBlob(e.opts.OutputDir, e.opts.ShardCount, blob); errE != nil {
		e.warn(errE, "cannot write blob", page.ID)
	} else {
		e.stats.IncBlobs()
	}
}

// processLinks resolves every wikilink and emits LINKS_TO and SEE_ALSO edges.
// A link is SEE_ALSO when its byte offset falls at or after the first
// see-also heading.
func (e *engine) processLinks(page dump.Page, idStr, text string) {
	seeAlsoStart := wikitext.SeeAlsoSectionStart(text)

	var edges [][]string
	var linksTo, seeAlso, invalid uint64
	for _, link := range wikitext.Links(text) {
		target := link.Target
		// Drop a URL fragment.
		if i := strings.IndexByte(target, '#'); i >= 0 {
			target = target[:i]
		}
		if target == "" || hasSkippedPrefix(target) {
			continue
		}

		targetID, ok := e.opts.Index.Resolve(target)
		if !ok {
			invalid++
			continue
		}

		edgeType := "LINKS_TO"
		if seeAlsoStart >= 0 && link.Offset >= seeAlsoStart {
			edgeType = "SEE_ALSO"
			seeAlso++
		} else {
			linksTo++
		}
		edges = append(edges, []string{idStr, strconv.FormatUint(uint64(targetID), 10), edgeType})
	}

	if len(edges) > 0 {
		if err := e.edges.Shard(page.ID).Write(edges...); err != nil {
			e.warn(err, "cannot write edge rows", page.ID)
		}
	}
	e.stats.AddEdges(linksTo)
	e.stats.AddSeeAlsoEdges(seeAlso)
	e.stats.AddInvalidLinks(invalid)
}

type entityTables struct {
	nodes    *Table
	edges    *Table
	seen     mapset.Set[string]
	label    string
	edgeType string
	addNodes func(uint64)
	addEdges func(uint64)
}

// processEntities emits a node row for each first-seen entity and an edge row
// for every occurrence, batching per table into one lock acquisition.
func (e *engine) processEntities(page dump.Page, idStr string, names []string, tables entityTables) {
	if len(names) == 0 {
		return
	}

	var nodeRows [][]string
	var edgeRows [][]string
	for _, name := range names {
		if tables.seen.Add(name) {
			nodeRows = append(nodeRows, []string{name, name, tables.label})
		}
		edgeRows = append(edgeRows, []string{idStr, name, tables.edgeType})
	}

	if len(nodeRows) > 0 {
		if err := tables.nodes.Shard(page.ID).Write(nodeRows...); err != nil {
			e.warn(err, "cannot write entity node rows", page.ID)
		}
	}
	if err := tables.edges.Shard(page.ID).Write(edgeRows...); err != nil {
		e.warn(err, "cannot write entity edge rows", page.ID)
	}
	tables.addNodes(uint64(len(nodeRows)))
	tables.addEdges(uint64(len(edgeRows)))
}
